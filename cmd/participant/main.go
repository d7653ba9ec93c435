// Command participant joins a group activity and replays a recorded track
// through the tracker as if it were a live phone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-activitytracker/internal/auth"
	"backend-activitytracker/internal/config"
	"backend-activitytracker/internal/db"
	"backend-activitytracker/internal/groupactivity"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg      config.Config
	serverWS string
	userID   string
	token    string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg = config.Load()

	root := &cobra.Command{
		Use:           "participant",
		Short:         "Take part in a group activity from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverWS, "server", cfg.GroupActivityURL, "group activity websocket base URL")
	root.PersistentFlags().StringVar(&userID, "user", "", "user id to act as")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (signed with JWT_SECRET when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "log level")

	root.AddCommand(newCreateCmd(), newReplayCmd(), newTokenCmd())
	return root
}

// bearerToken returns --token, or signs one for --user with the shared secret.
func bearerToken() (string, error) {
	if token != "" {
		return token, nil
	}
	if userID == "" {
		return "", fmt.Errorf("--user is required")
	}
	return auth.NewSigner(cfg.JWTSecret).Sign(userID, time.Hour)
}

func newLog() *zap.Logger {
	log, err := logger.New(logLevel, zap.String("service", "participant"))
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for --user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := bearerToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}
}

func newCreateCmd() *cobra.Command {
	var (
		activityType string
		startIn      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group session and print its join URI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := bearerToken()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			resp, err := newAPIClient(httpBase(serverWS), t).createSession(ctx, groupactivity.CreateRequest{
				ActivityType: lifecycle.ActivityType(activityType),
				StartAt:      time.Now().Add(startIn),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s\njoin    %s\n", resp.Session.ID, resp.JoinURI)
			return nil
		},
	}
	cmd.Flags().StringVar(&activityType, "type", string(lifecycle.ActivityRun), "activity type: run, walk or cycle")
	cmd.Flags().DurationVar(&startIn, "start-in", 0, "scheduled start, relative to now")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		joinURI   string
		pace      float64
		upload    bool
		companion bool
		maxHR     int
		weightKg  float64
	)
	cmd := &cobra.Command{
		Use:   "replay <samples.csv>",
		Short: "Join a session and replay a recorded track",
		Long: `Join the group session behind --join and replay the samples file
through the tracker. The file holds one sample per line:

  elapsed_ms,lat,lng[,altitude_m,speed_mps,heart_rate]

With --companion the phone side of the wearable bridge is advertised on
redis so a paired watch can follow and steer the activity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := bearerToken()
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			samples, err := readSamples(f)
			_ = f.Close()
			if err != nil {
				return err
			}

			log := newLog()
			defer func() { _ = log.Sync() }()

			opts := replayOptions{
				WSBase:            serverWS,
				UserID:            userID,
				Token:             t,
				JoinURI:           joinURI,
				Scheme:            cfg.JoinCodeScheme,
				Pace:              pace,
				Upload:            upload,
				MaxTries:          cfg.ReconnectMaxTries,
				MaxHeartRate:      maxHR,
				WeightKg:          weightKg,
				DiscoveryInterval: cfg.DiscoveryInterval,
				Log:               log,
			}
			if companion {
				opts.Redis = db.ConnectRedis(cfg)
				if opts.Redis != nil {
					defer opts.Redis.Close()
				}
				if err := db.RedisReachable(cmd.Context(), opts.Redis); err != nil {
					return fmt.Errorf("companion: %w", err)
				}
			}

			ctx, stop := signalContext()
			defer stop()
			res, err := runReplay(ctx, opts, samples)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dm in %ds, avg %.1f km/h, +%dm, %d kcal\n",
				res.Type, res.DistanceM, res.DurationSec, res.AverageSpeedKmh, res.ElevationGainM, res.Calories)
			return nil
		},
	}
	cmd.Flags().StringVar(&joinURI, "join", "", "join URI, e.g. activity_tracker://group_activity/12345678")
	cmd.Flags().Float64Var(&pace, "pace", 1, "playback speed multiplier, 0 replays without waiting")
	cmd.Flags().BoolVar(&upload, "upload", true, "upload the finished activity")
	cmd.Flags().BoolVar(&companion, "companion", false, "bridge to a wearable over redis")
	cmd.Flags().IntVar(&maxHR, "max-hr", 0, "max heart rate for zones")
	cmd.Flags().Float64Var(&weightKg, "weight", 0, "body weight in kg for calories")
	_ = cmd.MarkFlagRequired("join")
	return cmd
}
