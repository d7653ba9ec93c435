package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"backend-activitytracker/internal/activity"
	"backend-activitytracker/internal/bridge"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/protocol"
	"backend-activitytracker/internal/shared/geo"
	"backend-activitytracker/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeCompanion struct {
	mu      sync.Mutex
	actions []bridge.Action
}

func (f *fakeCompanion) SendOrQueue(_ context.Context, a bridge.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeCompanion) sent() []bridge.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.Action(nil), f.actions...)
}

type fakeGroup struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	err    error
}

func (f *fakeGroup) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeGroup) statuses(t *testing.T) []lifecycle.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []lifecycle.Status
	for _, env := range f.frames {
		if env.Type != protocol.TypeStatusChange {
			continue
		}
		var p protocol.StatusChangePayload
		require.NoError(t, env.Decode(&p))
		out = append(out, p.Status)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 5, 2, 6, 30, 0, 0, time.UTC)

func newTestTracker(opts Options) (*Tracker, *fakeCompanion, *fakeGroup, *clock) {
	comp := &fakeCompanion{}
	group := &fakeGroup{}
	clk := &clock{now: t0}
	opts.UserID = "runner-1"
	opts.Type = lifecycle.ActivityRun
	opts.Companion = comp
	opts.Group = group
	opts.Now = clk.Now
	return New(opts), comp, group, clk
}

func sample(lat float64, at time.Duration) tracking.RawSample {
	return tracking.RawSample{Coordinate: geo.Coordinate{Lat: lat}, RecordedAt: t0.Add(at)}
}

func TestTrackerFullLifecycle(t *testing.T) {
	var finished []activity.FinishedActivity
	tr, comp, group, clk := newTestTracker(Options{
		OnFinish: func(a activity.FinishedActivity) { finished = append(finished, a) },
	})
	ctx := context.Background()

	_, err := tr.Start(ctx)
	require.NoError(t, err)

	_, err = tr.Accept(ctx, sample(0, time.Second))
	require.NoError(t, err)
	snap, err := tr.Accept(ctx, sample(0.001, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 111, snap.DistanceM)

	_, err = tr.HeartRate(ctx, 150)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	_, err = tr.Pause(ctx)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = tr.Resume(ctx)
	require.NoError(t, err)
	clk.Advance(5 * time.Second)

	res, err := tr.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 111, res.DistanceM)
	assert.Equal(t, int64(15), res.DurationSec)
	assert.Equal(t, 150, res.AverageHeartRate)
	assert.Equal(t, "runner-1", res.UserID)
	assert.Equal(t, t0, res.StartedAt)

	assert.Equal(t, []bridge.Action{
		bridge.Start{},
		bridge.DistanceUpdate{Meters: 0},
		bridge.DistanceUpdate{Meters: 111},
		bridge.HeartRateUpdate{BPM: 150},
		bridge.Pause{},
		bridge.Resume{},
		bridge.Finish{},
	}, comp.sent())
	assert.Equal(t, []lifecycle.Status{
		lifecycle.StatusInProgress,
		lifecycle.StatusPaused,
		lifecycle.StatusInProgress,
		lifecycle.StatusFinished,
	}, group.statuses(t))

	require.Len(t, finished, 1)
	assert.Equal(t, res, finished[0])
	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestTrackerRefusesSamplesOutsideProgress(t *testing.T) {
	tr, comp, _, _ := newTestTracker(Options{})
	ctx := context.Background()

	_, err := tr.Accept(ctx, sample(0, time.Second))
	assert.ErrorIs(t, err, ErrNotTracking)
	_, err = tr.HeartRate(ctx, 120)
	assert.ErrorIs(t, err, ErrNotTracking)

	_, err = tr.Start(ctx)
	require.NoError(t, err)
	_, err = tr.Pause(ctx)
	require.NoError(t, err)

	_, err = tr.Accept(ctx, sample(0, time.Second))
	assert.ErrorIs(t, err, ErrNotTracking)
	assert.Equal(t, []bridge.Action{bridge.Start{}, bridge.Pause{}}, comp.sent())
}

func TestTrackerInvalidTransitions(t *testing.T) {
	tr, comp, _, _ := newTestTracker(Options{})
	ctx := context.Background()

	_, err := tr.Pause(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = tr.Finish(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = tr.Start(ctx)
	require.NoError(t, err)
	_, err = tr.Start(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = tr.Resume(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, ok := tr.Result()
	assert.False(t, ok)
	assert.Equal(t, []bridge.Action{bridge.Start{}}, comp.sent())
}

func TestTrackerStaleSampleNotForwarded(t *testing.T) {
	tr, comp, _, _ := newTestTracker(Options{})
	ctx := context.Background()

	_, err := tr.Start(ctx)
	require.NoError(t, err)
	_, err = tr.Accept(ctx, sample(0, 2*time.Second))
	require.NoError(t, err)
	_, err = tr.Accept(ctx, sample(0.001, time.Second))
	assert.ErrorIs(t, err, tracking.ErrStaleSample)

	assert.Len(t, comp.sent(), 2)
}

func TestTrackerDropsFramesWhileOffline(t *testing.T) {
	tr, _, group, _ := newTestTracker(Options{})
	group.err = protocol.ErrNotConnected

	_, err := tr.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInProgress, tr.Status())

	// a fresh connection picks up from here
	fresh := &fakeGroup{}
	tr.SetGroup(fresh)
	_, err = tr.Pause(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusPaused}, fresh.statuses(t))

	tr.SetGroup(nil)
	_, err = tr.Resume(context.Background())
	require.NoError(t, err)
}

func TestTrackerRejoinReplaysRunningStatus(t *testing.T) {
	tr, _, _, clk := newTestTracker(Options{})
	ctx := context.Background()

	fresh := &fakeGroup{}
	tr.Rejoin(fresh)
	assert.Empty(t, fresh.frames, "nothing to replay before the start")

	_, err := tr.Start(ctx)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	_, err = tr.Accept(ctx, sample(0.001, 2*time.Second))
	require.NoError(t, err)

	running := &fakeGroup{}
	tr.Rejoin(running)
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusInProgress}, running.statuses(t))
	require.Len(t, running.frames, 2)
	assert.Equal(t, protocol.TypeDataUpdate, running.frames[1].Type)

	_, err = tr.Pause(ctx)
	require.NoError(t, err)
	paused := &fakeGroup{}
	tr.Rejoin(paused)
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusInProgress, lifecycle.StatusPaused}, paused.statuses(t))

	_, err = tr.Finish(ctx)
	require.NoError(t, err)
	done := &fakeGroup{}
	tr.Rejoin(done)
	assert.Empty(t, done.frames)

	tr.Rejoin(nil)
}

func TestTrackerRunHandlesWearableActions(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, comp, group, _ := newTestTracker(Options{TickInterval: time.Hour})
	inbound := make(chan bridge.Action)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx, inbound, nil) }()

	inbound <- bridge.ConnectionRequest{}
	inbound <- bridge.Start{}
	inbound <- bridge.HeartRateUpdate{BPM: 132}
	inbound <- bridge.DistanceUpdate{Meters: 5}
	inbound <- bridge.Pause{}

	require.Eventually(t, func() bool {
		return tr.Status() == lifecycle.StatusPaused
	}, time.Second, 5*time.Millisecond)

	// wearable-issued commands are not echoed back
	assert.Equal(t, []bridge.Action{bridge.CanTrack{}}, comp.sent())
	assert.Equal(t, []int{132}, tr.Snapshot().HeartRates)
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusInProgress, lifecycle.StatusPaused}, group.statuses(t))

	cancel()
	require.NoError(t, <-errc)
}

func TestTrackerRunAnswersCanNotTrackAfterFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, comp, _, _ := newTestTracker(Options{TickInterval: time.Hour})
	ctx := context.Background()
	_, err := tr.Start(ctx)
	require.NoError(t, err)
	_, err = tr.Finish(ctx)
	require.NoError(t, err)

	inbound := make(chan bridge.Action, 1)
	inbound <- bridge.ConnectionRequest{}
	close(inbound)

	runCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(runCtx, inbound, nil) }()

	require.Eventually(t, func() bool {
		sent := comp.sent()
		return len(sent) == 3 && sent[2] == bridge.Action(bridge.CanNotTrack{})
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func TestTrackerFinishesWhenSessionEnds(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, comp, _, _ := newTestTracker(Options{TickInterval: time.Hour, GroupSessionID: "s-1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := tr.Start(ctx)
	require.NoError(t, err)

	frames := make(chan protocol.Envelope, 3)
	data, err := protocol.DataUpdateMessage(protocol.DataUpdatePayload{UserID: "other", DistanceM: 10})
	require.NoError(t, err)
	frames <- data
	open, err := protocol.StatusChangeMessage(protocol.StatusChangePayload{
		UserID:  "owner",
		Status:  lifecycle.StatusInProgress,
		Session: &lifecycle.SessionView{ID: "s-1", Status: lifecycle.StatusInProgress},
	})
	require.NoError(t, err)
	frames <- open
	end, err := protocol.StatusChangeMessage(protocol.StatusChangePayload{
		UserID:  "owner",
		Status:  lifecycle.StatusFinished,
		Session: &lifecycle.SessionView{ID: "s-1", Status: lifecycle.StatusFinished},
	})
	require.NoError(t, err)
	frames <- end

	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx, nil, frames) }()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("activity not finished")
	}
	res, ok := tr.Result()
	require.True(t, ok)
	assert.Equal(t, "s-1", res.GroupSessionID)
	assert.Equal(t, bridge.Action(bridge.Finish{}), comp.sent()[len(comp.sent())-1])

	cancel()
	require.NoError(t, <-errc)
}

func TestTrackerTicksDurationWhileInProgress(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, comp, _, clk := newTestTracker(Options{TickInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := tr.Start(ctx)
	require.NoError(t, err)
	clk.Advance(3 * time.Second)

	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx, nil, nil) }()

	require.Eventually(t, func() bool {
		for _, a := range comp.sent() {
			if a == bridge.Action(bridge.DurationUpdate{Elapsed: 3 * time.Second}) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func TestTrackerMalformedStatusIgnored(t *testing.T) {
	tr, _, _, _ := newTestTracker(Options{})
	_, err := tr.Start(context.Background())
	require.NoError(t, err)

	frames := make(chan protocol.Envelope, 1)
	frames <- protocol.Envelope{Type: protocol.TypeStatusChange}
	close(frames)
	tr.Follow(context.Background(), frames)

	assert.Equal(t, lifecycle.StatusInProgress, tr.Status())
}
