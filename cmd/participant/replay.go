package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"backend-activitytracker/internal/activity"
	"backend-activitytracker/internal/bridge"
	"backend-activitytracker/internal/companion"
	"backend-activitytracker/internal/groupactivity"
	"backend-activitytracker/internal/joincode"
	"backend-activitytracker/internal/protocol"
	"backend-activitytracker/internal/tracker"
	"backend-activitytracker/internal/tracking"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const connectTimeout = 10 * time.Second

type replayOptions struct {
	WSBase            string
	UserID            string
	Token             string
	JoinURI           string
	Scheme            string
	Pace              float64
	Upload            bool
	MaxTries          uint
	MaxHeartRate      int
	WeightKg          float64
	Redis             *redis.Client
	DiscoveryInterval time.Duration
	Log               *zap.Logger
}

// virtualClock follows the replayed samples instead of the wall clock.
type virtualClock struct {
	mu     sync.Mutex
	base   time.Time
	offset time.Duration
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(c.offset)
}

func (c *virtualClock) Set(d time.Duration) {
	c.mu.Lock()
	c.offset = d
	c.mu.Unlock()
}

// runReplay joins the group session behind JoinURI, streams samples through
// a tracker while connected, and returns the finished activity.
func runReplay(ctx context.Context, opts replayOptions, samples []replaySample) (activity.FinishedActivity, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := joincode.NewParser(opts.Scheme).Parse(opts.JoinURI); err != nil {
		return activity.FinishedActivity{}, err
	}

	api := newAPIClient(httpBase(opts.WSBase), opts.Token)
	view, err := api.join(ctx, groupactivity.JoinRequest{URI: opts.JoinURI})
	if err != nil {
		return activity.FinishedActivity{}, fmt.Errorf("join: %w", err)
	}
	log = log.With(zap.String("session_id", view.ID), zap.String("user_id", opts.UserID))
	log.Info("joined group session", zap.Strings("joined", view.Joined))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	clock := &virtualClock{base: time.Now()}
	trOpts := tracker.Options{
		UserID:         opts.UserID,
		GroupSessionID: view.ID,
		Type:           view.ActivityType,
		MaxHeartRate:   opts.MaxHeartRate,
		WeightKg:       opts.WeightKg,
		Now:            clock.Now,
		Log:            log.Named("tracker"),
	}

	var inbound <-chan bridge.Action
	if opts.Redis != nil {
		channel := startCompanion(ctx, g, opts, log)
		trOpts.Companion = channel
		inbound = channel.Inbound()
	}
	tr := tracker.New(trOpts)

	connected := make(chan struct{})
	var once sync.Once
	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.Token)
	rc := &protocol.Reconnector{
		Dial: func(ctx context.Context) (*protocol.Client, error) {
			return protocol.Dial(ctx, opts.WSBase, view.ID, header, log.Named("protocol"))
		},
		MaxTries: opts.MaxTries,
		Log:      log,
	}

	g.Go(func() error {
		err := rc.Run(ctx, func(ctx context.Context, c *protocol.Client) error {
			hello, err := protocol.ConnectMessage(protocol.ConnectPayload{UserID: opts.UserID, SessionID: view.ID})
			if err != nil {
				return err
			}
			if err := c.Send(hello); err != nil {
				return err
			}
			tr.Rejoin(c)
			defer tr.SetGroup(nil)
			once.Do(func() { close(connected) })

			tr.Follow(ctx, c.Messages())
			if ctx.Err() != nil {
				return nil
			}
			return c.Err()
		})
		return ignoreCanceled(err)
	})
	g.Go(func() error {
		return ignoreCanceled(tr.Run(ctx, inbound, nil))
	})

	var result activity.FinishedActivity
	g.Go(func() error {
		defer cancel()
		select {
		case <-connected:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectTimeout):
			return errors.New("timed out connecting to the group session")
		}
		res, err := play(ctx, tr, clock, samples, opts.Pace)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return activity.FinishedActivity{}, err
	}
	if res, ok := tr.Result(); ok {
		result = res
	}

	if opts.Upload {
		uploadCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		saved, err := api.upload(uploadCtx, result)
		if err != nil {
			return result, fmt.Errorf("upload: %w", err)
		}
		result = saved
	}
	return result, nil
}

// play starts the activity and feeds every sample, sleeping between them
// at pace times real speed. A pace of zero replays without waiting.
func play(ctx context.Context, tr *tracker.Tracker, clock *virtualClock, samples []replaySample, pace float64) (activity.FinishedActivity, error) {
	if _, err := tr.Start(ctx); err != nil {
		return activity.FinishedActivity{}, err
	}
	startedAt := tr.StartedAt()

	var prev time.Duration
	for _, s := range samples {
		if pace > 0 {
			wait := time.Duration(float64(s.Elapsed-prev) / pace)
			select {
			case <-ctx.Done():
				return activity.FinishedActivity{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		prev = s.Elapsed
		clock.Set(s.Elapsed)

		select {
		case <-tr.Done():
			// the owner ended the session under us
			res, _ := tr.Result()
			return res, nil
		default:
		}

		_, err := tr.Accept(ctx, tracking.RawSample{
			Coordinate: s.Coord,
			AltitudeM:  s.AltitudeM,
			SpeedMps:   s.SpeedMps,
			RecordedAt: startedAt.Add(s.Elapsed),
		})
		if err != nil && !errors.Is(err, tracker.ErrNotTracking) {
			return activity.FinishedActivity{}, err
		}
		if s.HeartRate > 0 {
			if _, err := tr.HeartRate(ctx, s.HeartRate); err != nil && !errors.Is(err, tracker.ErrNotTracking) {
				return activity.FinishedActivity{}, err
			}
		}
	}
	return tr.Finish(ctx)
}

// startCompanion advertises this phone on redis and keeps a bridge channel
// bound to the first reachable wearable.
func startCompanion(ctx context.Context, g *errgroup.Group, opts replayOptions, log *zap.Logger) *bridge.Channel {
	local := bridge.Node{ID: opts.UserID + "-phone", DisplayName: opts.UserID}
	transport := companion.New(opts.Redis, local, companion.DefaultTTL, log.Named("companion"))
	discovery := bridge.NewDiscovery(transport, bridge.RolePhone, opts.DiscoveryInterval, log.Named("discovery"))
	channel := bridge.NewChannel(transport, log.Named("bridge"))
	b := bridge.New(discovery, channel, log.Named("bridge"))

	g.Go(func() error {
		return ignoreCanceled(transport.KeepAdvertising(ctx, bridge.RolePhone.OwnCapability()))
	})
	g.Go(func() error {
		defer channel.Close()
		return ignoreCanceled(b.Run(ctx))
	})
	return channel
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
