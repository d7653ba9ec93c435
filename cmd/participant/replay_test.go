package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"backend-activitytracker/internal/auth"
	"backend-activitytracker/internal/config"
	"backend-activitytracker/internal/groupactivity"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/server"
	"backend-activitytracker/internal/shared/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "secret"

func startServer(t *testing.T) string {
	t.Helper()
	srv := server.NewServer(config.Config{JWTSecret: testSecret, SessionTTL: time.Hour}, nil, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App.Listener(ln) }()
	t.Cleanup(func() {
		_ = srv.App.Shutdown()
		srv.Close()
	})
	return "ws://" + ln.Addr().String()
}

func signed(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.NewSigner(testSecret).Sign(user, time.Minute)
	require.NoError(t, err)
	return tok
}

func track() []replaySample {
	alt := func(v float64) *float64 { return &v }
	return []replaySample{
		{Elapsed: 0, Coord: geo.Coordinate{Lat: 52.5200, Lng: 13.4050}, AltitudeM: alt(30)},
		{Elapsed: time.Minute, Coord: geo.Coordinate{Lat: 52.5236, Lng: 13.4050}, AltitudeM: alt(35), HeartRate: 140},
		{Elapsed: 2 * time.Minute, Coord: geo.Coordinate{Lat: 52.5272, Lng: 13.4050}, AltitudeM: alt(33), HeartRate: 150},
	}
}

func TestRunReplayAgainstServer(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()

	owner := newAPIClient(httpBase(base), signed(t, "owner"))
	created, err := owner.createSession(ctx, groupactivity.CreateRequest{ActivityType: lifecycle.ActivityRun})
	require.NoError(t, err)

	res, err := runReplay(ctx, replayOptions{
		WSBase:   base,
		UserID:   "runner",
		Token:    signed(t, "runner"),
		JoinURI:  created.JoinURI,
		MaxTries: 2,
	}, track())
	require.NoError(t, err)

	// two steps of 0.0036 degrees latitude, about 400 m each
	assert.InDelta(t, 800, res.DistanceM, 5)
	assert.Equal(t, int64(120), res.DurationSec)
	assert.Equal(t, 5, res.ElevationGainM)
	assert.Equal(t, 145, res.AverageHeartRate)
	assert.Equal(t, lifecycle.ActivityRun, res.Type)
	assert.Equal(t, created.Session.ID, res.GroupSessionID)

	require.Eventually(t, func() bool {
		view, err := owner.session(ctx, created.Session.ID)
		return err == nil && len(view.Finished) == 1 && view.Finished[0] == "runner"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunReplayRejectsForeignURI(t *testing.T) {
	_, err := runReplay(context.Background(), replayOptions{
		WSBase:  "ws://127.0.0.1:1",
		UserID:  "runner",
		JoinURI: "https://example.com/join/12345678",
	}, track())
	assert.Error(t, err)
}

func TestRunReplayUnknownSession(t *testing.T) {
	base := startServer(t)
	_, err := runReplay(context.Background(), replayOptions{
		WSBase:  base,
		UserID:  "runner",
		Token:   signed(t, "runner"),
		JoinURI: "activity_tracker://group_activity/00000000",
	}, track())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTokenCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--user", "cli-user"})
	require.NoError(t, cmd.Execute())

	user, err := auth.NewSigner(cfg.JWTSecret).Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "cli-user", user)
}

func TestCreateCommand(t *testing.T) {
	base := startServer(t)
	t.Setenv("JWT_SECRET", testSecret)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"create", "--server", base, "--user", "owner", "--type", "walk"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "activity_tracker://group_activity/")
}
