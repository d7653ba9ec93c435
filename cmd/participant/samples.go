package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"backend-activitytracker/internal/shared/geo"
)

// replaySample is one CSV row: elapsed_ms,lat,lng[,altitude_m,speed_mps,heart_rate].
type replaySample struct {
	Elapsed   time.Duration
	Coord     geo.Coordinate
	AltitudeM *float64
	SpeedMps  *float64
	HeartRate int
}

var errBadSamples = errors.New("bad samples file")

func readSamples(r io.Reader) ([]replaySample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		out  []replaySample
		line int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadSamples, err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "elapsed_ms") {
			continue
		}
		s, err := parseSample(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errBadSamples, line, err)
		}
		if n := len(out); n > 0 && s.Elapsed <= out[n-1].Elapsed {
			return nil, fmt.Errorf("%w: line %d: elapsed does not increase", errBadSamples, line)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no samples", errBadSamples)
	}
	return out, nil
}

func parseSample(rec []string) (replaySample, error) {
	if len(rec) < 3 {
		return replaySample{}, fmt.Errorf("want at least 3 columns, got %d", len(rec))
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil || ms < 0 {
		return replaySample{}, fmt.Errorf("elapsed_ms %q", rec[0])
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return replaySample{}, fmt.Errorf("lat %q", rec[1])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return replaySample{}, fmt.Errorf("lng %q", rec[2])
	}

	s := replaySample{
		Elapsed: time.Duration(ms) * time.Millisecond,
		Coord:   geo.Coordinate{Lat: lat, Lng: lng},
	}
	if s.AltitudeM, err = optionalFloat(rec, 3); err != nil {
		return replaySample{}, fmt.Errorf("altitude_m: %v", err)
	}
	if s.SpeedMps, err = optionalFloat(rec, 4); err != nil {
		return replaySample{}, fmt.Errorf("speed_mps: %v", err)
	}
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		if s.HeartRate, err = strconv.Atoi(strings.TrimSpace(rec[5])); err != nil || s.HeartRate <= 0 {
			return replaySample{}, fmt.Errorf("heart_rate %q", rec[5])
		}
	}
	return s, nil
}

func optionalFloat(rec []string, i int) (*float64, error) {
	if len(rec) <= i || strings.TrimSpace(rec[i]) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
