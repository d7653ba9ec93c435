// Package tracker drives one participant's activity: it feeds samples into
// the aggregator, applies lifecycle commands, and mirrors every change to
// the paired wearable and to the group session.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-activitytracker/internal/activity"
	"backend-activitytracker/internal/bridge"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/protocol"
	"backend-activitytracker/internal/tracking"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultTickInterval = time.Second

var ErrNotTracking = errors.New("activity not in progress")

// CompanionSender is satisfied by *bridge.Channel.
type CompanionSender interface {
	SendOrQueue(ctx context.Context, a bridge.Action) error
}

// GroupSender is satisfied by *protocol.Client.
type GroupSender interface {
	Send(env protocol.Envelope) error
}

type Options struct {
	UserID         string
	GroupSessionID string
	Type           lifecycle.ActivityType
	MaxHeartRate   int
	WeightKg       float64
	TickInterval   time.Duration
	Now            func() time.Time
	Companion      CompanionSender
	Group          GroupSender
	Log            *zap.Logger
	// OnFinish receives the summary once, after the activity finishes.
	OnFinish func(activity.FinishedActivity)
}

// origin of a command; commands are never echoed back where they came from
type origin int

const (
	fromLocal origin = iota
	fromCompanion
	fromSession
)

type op int

const (
	opStart op = iota
	opPause
	opResume
	opFinish
)

type Tracker struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	activity *lifecycle.Activity
	agg      *tracking.Aggregator
	group    GroupSender
	lastHR   int
	result   *activity.FinishedActivity
	done     chan struct{}
}

func New(opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Tracker{
		opts:     opts,
		log:      opts.Log.With(zap.String("user_id", opts.UserID)),
		activity: lifecycle.NewActivity(),
		group:    opts.Group,
		done:     make(chan struct{}),
	}
}

// SetGroup swaps the group connection, e.g. after a reconnect. nil detaches.
func (t *Tracker) SetGroup(g GroupSender) {
	t.mu.Lock()
	t.group = g
	t.mu.Unlock()
}

// Rejoin attaches g after a reconnect and replays the running status on it.
// The relay drops a participant from active when its socket closes, so a
// running activity re-announces IN_PROGRESS (then PAUSED if paused) along
// with the current progress.
func (t *Tracker) Rejoin(g GroupSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.group = g
	if g == nil {
		return
	}
	switch t.activity.Status() {
	case lifecycle.StatusInProgress:
		t.publishStatus(lifecycle.StatusInProgress)
	case lifecycle.StatusPaused:
		t.publishStatus(lifecycle.StatusInProgress)
		t.publishStatus(lifecycle.StatusPaused)
	default:
		return
	}
	if t.agg != nil {
		t.publishProgress(t.agg.Snapshot())
	}
}

func (t *Tracker) Status() lifecycle.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity.Status()
}

func (t *Tracker) Snapshot() tracking.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.agg == nil {
		return tracking.Snapshot{}
	}
	return t.agg.Snapshot()
}

// StartedAt is the zero time until the activity starts.
func (t *Tracker) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity.StartedAt()
}

func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity.Elapsed(t.opts.Now())
}

// Done is closed once the activity has finished.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Result returns the summary of a finished activity.
func (t *Tracker) Result() (activity.FinishedActivity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return activity.FinishedActivity{}, false
	}
	return *t.result, true
}

func (t *Tracker) Start(ctx context.Context) (lifecycle.Transition, error) {
	return t.command(ctx, opStart, fromLocal)
}

func (t *Tracker) Pause(ctx context.Context) (lifecycle.Transition, error) {
	return t.command(ctx, opPause, fromLocal)
}

func (t *Tracker) Resume(ctx context.Context) (lifecycle.Transition, error) {
	return t.command(ctx, opResume, fromLocal)
}

// Finish ends the activity and returns its summary.
func (t *Tracker) Finish(ctx context.Context) (activity.FinishedActivity, error) {
	if _, err := t.command(ctx, opFinish, fromLocal); err != nil {
		return activity.FinishedActivity{}, err
	}
	res, _ := t.Result()
	return res, nil
}

// Accept feeds one location sample. Samples outside IN_PROGRESS are refused.
func (t *Tracker) Accept(ctx context.Context, sample tracking.RawSample) (tracking.Snapshot, error) {
	t.mu.Lock()
	if t.activity.Status() != lifecycle.StatusInProgress {
		status := t.activity.Status()
		t.mu.Unlock()
		return t.Snapshot(), fmt.Errorf("accept in %s: %w", status, ErrNotTracking)
	}
	snap, err := t.agg.Accept(sample)
	if err != nil {
		t.mu.Unlock()
		return snap, err
	}
	t.toCompanion(ctx, bridge.DistanceUpdate{Meters: snap.DistanceM})
	t.publishProgress(snap)
	t.mu.Unlock()
	return snap, nil
}

// HeartRate records a heart-rate sample while IN_PROGRESS.
func (t *Tracker) HeartRate(ctx context.Context, bpm int) (tracking.Snapshot, error) {
	return t.heartRate(ctx, bpm, fromLocal)
}

func (t *Tracker) heartRate(ctx context.Context, bpm int, from origin) (tracking.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activity.Status() != lifecycle.StatusInProgress {
		return tracking.Snapshot{}, fmt.Errorf("heart rate in %s: %w", t.activity.Status(), ErrNotTracking)
	}
	snap, err := t.agg.AddHeartRate(bpm)
	if err != nil {
		return snap, err
	}
	t.lastHR = bpm
	if from != fromCompanion {
		t.toCompanion(ctx, bridge.HeartRateUpdate{BPM: bpm})
	}
	t.publishProgress(snap)
	return snap, nil
}

func (t *Tracker) command(ctx context.Context, o op, from origin) (lifecycle.Transition, error) {
	t.mu.Lock()
	now := t.opts.Now()

	var (
		tr     lifecycle.Transition
		err    error
		action bridge.Action
	)
	switch o {
	case opStart:
		tr, err = t.activity.Start(now)
		action = bridge.Start{}
	case opPause:
		tr, err = t.activity.Pause(now)
		action = bridge.Pause{}
	case opResume:
		tr, err = t.activity.Resume(now)
		action = bridge.Resume{}
	case opFinish:
		tr, err = t.activity.Finish(now)
		action = bridge.Finish{}
	}
	if err != nil {
		t.mu.Unlock()
		return tr, err
	}

	if t.agg == nil {
		t.agg = tracking.NewAggregator(t.activity.StartedAt())
	}
	if tr.NewSegment {
		t.agg.StartSegment()
	}
	if from != fromCompanion {
		t.toCompanion(ctx, action)
	}
	t.publishStatus(tr.To)

	var finished *activity.FinishedActivity
	if tr.To == lifecycle.StatusFinished {
		res := activity.Summarize(activity.SummaryInput{
			UserID:         t.opts.UserID,
			GroupSessionID: t.opts.GroupSessionID,
			Type:           t.opts.Type,
			StartedAt:      t.activity.StartedAt(),
			EndedAt:        t.activity.FinishedAt(),
			Moving:         t.activity.Elapsed(now),
			Snapshot:       t.agg.Snapshot(),
			MaxHeartRate:   t.opts.MaxHeartRate,
			WeightKg:       t.opts.WeightKg,
		})
		t.result = &res
		finished = &res
		close(t.done)
	}
	t.mu.Unlock()

	t.log.Info("activity transition",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)))
	if finished != nil && t.opts.OnFinish != nil {
		t.opts.OnFinish(*finished)
	}
	return tr, nil
}

// caller holds t.mu
func (t *Tracker) toCompanion(ctx context.Context, a bridge.Action) {
	if t.opts.Companion == nil {
		return
	}
	if err := t.opts.Companion.SendOrQueue(ctx, a); err != nil {
		t.log.Warn("companion send failed", zap.Error(err))
	}
}

// caller holds t.mu
func (t *Tracker) publishProgress(snap tracking.Snapshot) {
	env, err := protocol.DataUpdateMessage(protocol.DataUpdatePayload{
		UserID:         t.opts.UserID,
		DistanceM:      snap.DistanceM,
		SpeedKmh:       snap.SpeedKmh,
		HeartRate:      t.lastHR,
		ElevationGainM: snap.ElevationGainM,
		ElapsedSec:     int64(t.activity.Elapsed(t.opts.Now()).Seconds()),
	})
	if err != nil {
		t.log.Error("encode data update", zap.Error(err))
		return
	}
	t.toGroup(env)
}

// caller holds t.mu
func (t *Tracker) publishStatus(status lifecycle.Status) {
	env, err := protocol.StatusChangeMessage(protocol.StatusChangePayload{
		UserID: t.opts.UserID,
		Status: status,
	})
	if err != nil {
		t.log.Error("encode status change", zap.Error(err))
		return
	}
	t.toGroup(env)
}

func (t *Tracker) toGroup(env protocol.Envelope) {
	if t.group == nil {
		return
	}
	err := t.group.Send(env)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrNotConnected):
		t.log.Debug("group offline, dropping frame", zap.String("type", string(env.Type)))
	default:
		t.log.Warn("group send failed", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

// Run consumes inbound wearable actions and group frames, and reports the
// moving time to the wearable on every tick while IN_PROGRESS. Either
// channel may be nil. Run returns when ctx ends.
func (t *Tracker) Run(ctx context.Context, companion <-chan bridge.Action, group <-chan protocol.Envelope) error {
	g, ctx := errgroup.WithContext(ctx)

	if companion != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case a, ok := <-companion:
					if !ok {
						return nil
					}
					t.handleAction(ctx, a)
				}
			}
		})
	}
	if group != nil {
		g.Go(func() error {
			t.Follow(ctx, group)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(t.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				t.tick(ctx)
			}
		}
	})

	return g.Wait()
}

// Follow applies group frames until msgs closes or ctx ends.
func (t *Tracker) Follow(ctx context.Context, msgs <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-msgs:
			if !ok {
				return
			}
			t.handleEnvelope(ctx, env)
		}
	}
}

func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activity.Status() != lifecycle.StatusInProgress {
		return
	}
	t.toCompanion(ctx, bridge.DurationUpdate{Elapsed: t.activity.Elapsed(t.opts.Now())})
}

func (t *Tracker) handleAction(ctx context.Context, a bridge.Action) {
	var err error
	switch a := a.(type) {
	case bridge.Start:
		_, err = t.command(ctx, opStart, fromCompanion)
	case bridge.Resume:
		_, err = t.command(ctx, opResume, fromCompanion)
	case bridge.Pause:
		_, err = t.command(ctx, opPause, fromCompanion)
	case bridge.Finish:
		_, err = t.command(ctx, opFinish, fromCompanion)
	case bridge.HeartRateUpdate:
		_, err = t.heartRate(ctx, a.BPM, fromCompanion)
	case bridge.ConnectionRequest:
		var reply bridge.Action = bridge.CanTrack{}
		if t.Status() == lifecycle.StatusFinished {
			reply = bridge.CanNotTrack{}
		}
		t.mu.Lock()
		t.toCompanion(ctx, reply)
		t.mu.Unlock()
	case bridge.CanTrack, bridge.CanNotTrack, bridge.DistanceUpdate, bridge.DurationUpdate:
		t.log.Debug("ignoring wearable-bound action", zap.String("action", fmt.Sprintf("%T", a)))
	}
	if err != nil {
		t.log.Warn("wearable action rejected", zap.String("action", fmt.Sprintf("%T", a)), zap.Error(err))
	}
}

func (t *Tracker) handleEnvelope(ctx context.Context, env protocol.Envelope) {
	if env.Type != protocol.TypeStatusChange {
		return
	}
	var p protocol.StatusChangePayload
	if err := env.Decode(&p); err != nil {
		t.log.Warn("bad status change", zap.Error(err))
		return
	}
	if p.Session == nil || p.Session.Status != lifecycle.StatusFinished {
		return
	}
	if !t.Status().IsRunning() {
		return
	}
	t.log.Info("group session finished, finishing activity", zap.String("session_id", p.Session.ID))
	if _, err := t.command(ctx, opFinish, fromSession); err != nil {
		t.log.Warn("finish on session end", zap.Error(err))
	}
}
