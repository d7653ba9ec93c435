package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedMessage = errors.New("malformed action")

// Action is a lifecycle or progress event exchanged with the companion
// device. The set of implementations is closed.
type Action interface {
	actionType() string
}

type (
	Start             struct{}
	Resume            struct{}
	Pause             struct{}
	Finish            struct{}
	CanTrack          struct{}
	CanNotTrack       struct{}
	ConnectionRequest struct{}
	HeartRateUpdate   struct{ BPM int }
	DistanceUpdate    struct{ Meters int }
	DurationUpdate    struct{ Elapsed time.Duration }
)

const (
	typeStart             = "start"
	typeResume            = "resume"
	typePause             = "pause"
	typeFinish            = "finish"
	typeCanTrack          = "can_track"
	typeCanNotTrack       = "can_not_track"
	typeConnectionRequest = "connection_request"
	typeHeartRateUpdate   = "heart_rate_update"
	typeDistanceUpdate    = "distance_update"
	typeDurationUpdate    = "duration_update"
)

func (Start) actionType() string             { return typeStart }
func (Resume) actionType() string            { return typeResume }
func (Pause) actionType() string             { return typePause }
func (Finish) actionType() string            { return typeFinish }
func (CanTrack) actionType() string          { return typeCanTrack }
func (CanNotTrack) actionType() string       { return typeCanNotTrack }
func (ConnectionRequest) actionType() string { return typeConnectionRequest }
func (HeartRateUpdate) actionType() string   { return typeHeartRateUpdate }
func (DistanceUpdate) actionType() string    { return typeDistanceUpdate }
func (DurationUpdate) actionType() string    { return typeDurationUpdate }

type wireAction struct {
	Type      string `json:"type"`
	BPM       *int   `json:"bpm,omitempty"`
	Meters    *int   `json:"meters,omitempty"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

// Encode returns the UTF-8 JSON form of a.
func Encode(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode nil action: %w", ErrMalformedMessage)
	}
	w := wireAction{Type: a.actionType()}
	switch v := a.(type) {
	case HeartRateUpdate:
		w.BPM = &v.BPM
	case DistanceUpdate:
		w.Meters = &v.Meters
	case DurationUpdate:
		ms := v.Elapsed.Milliseconds()
		w.ElapsedMs = &ms
	}
	return json.Marshal(w)
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedMessage)
	}
	switch w.Type {
	case typeStart:
		return Start{}, nil
	case typeResume:
		return Resume{}, nil
	case typePause:
		return Pause{}, nil
	case typeFinish:
		return Finish{}, nil
	case typeCanTrack:
		return CanTrack{}, nil
	case typeCanNotTrack:
		return CanNotTrack{}, nil
	case typeConnectionRequest:
		return ConnectionRequest{}, nil
	case typeHeartRateUpdate:
		if w.BPM == nil {
			return nil, fmt.Errorf("%s without bpm: %w", w.Type, ErrMalformedMessage)
		}
		return HeartRateUpdate{BPM: *w.BPM}, nil
	case typeDistanceUpdate:
		if w.Meters == nil {
			return nil, fmt.Errorf("%s without meters: %w", w.Type, ErrMalformedMessage)
		}
		return DistanceUpdate{Meters: *w.Meters}, nil
	case typeDurationUpdate:
		if w.ElapsedMs == nil {
			return nil, fmt.Errorf("%s without elapsed_ms: %w", w.Type, ErrMalformedMessage)
		}
		return DurationUpdate{Elapsed: time.Duration(*w.ElapsedMs) * time.Millisecond}, nil
	}
	return nil, fmt.Errorf("type %q: %w", w.Type, ErrMalformedMessage)
}
