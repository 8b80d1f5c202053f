package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coopsched/internal/irq"
	"coopsched/internal/job"
	"coopsched/internal/logging"
	"coopsched/internal/sched"
	"coopsched/internal/trace"
)

var (
	flagConfig   string
	flagLogLevel string
	flagCSV      string
	flagFor      time.Duration
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "coopsched",
		Short:        "Cooperative tick scheduler demo",
		Long:         "coopsched runs a fixed table of cooperative tasks on a polled or interrupt-driven tick.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config.yml", "Path to YAML config")

	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sched.Load(flagConfig)
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo task set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sched.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagLogLevel != "" {
				cfg.LogLevel = flagLogLevel
			}
			if flagCSV != "" {
				cfg.CSVPath = flagCSV
			}
			return run(cmd.Context(), cfg, flagFor)
		},
	}
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flagCSV, "csv", "", "Write a CSV trace of scheduler events")
	cmd.Flags().DurationVar(&flagFor, "for", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func run(parent context.Context, cfg sched.Config, limit time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	rec := trace.NewRecorder(log, cfg.LogRatePerSec)
	if cfg.CSVPath != "" {
		if err := rec.EnableCSV(cfg.CSVPath); err != nil {
			return fmt.Errorf("csv trace: %w", err)
		}
	}
	defer func() {
		if err := rec.Close(); err != nil {
			log.Error().Err(err).Msg("closing trace")
		}
	}()

	opts := []sched.Option{sched.WithLogger(log), sched.WithObserver(rec.Observe)}

	var s *sched.Scheduler
	var err error
	switch cfg.TimeBase {
	case sched.TimeBaseInterrupt:
		ctrl := irq.NewController()
		s, err = sched.NewInterrupt(cfg, ctrl, opts...)
		if err != nil {
			return err
		}
		ctrl.Start(time.Duration(cfg.TickMS)*time.Millisecond, s.Tick)
		defer func() {
			ctrl.Stop()
			log.Info().Int64("interrupts", ctrl.Fired()).Msg("tick source stopped")
		}()
	default:
		start := time.Now()
		s, err = sched.NewPolling(cfg, func() sched.Time {
			return sched.Time(time.Since(start).Milliseconds())
		}, opts...)
		if err != nil {
			return err
		}
	}

	if err := registerDemo(log, s); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	err = s.Run(ctx)
	for _, ti := range s.Tasks() {
		log.Info().
			Int("pid", int(ti.PID)).
			Uint64("period", uint64(ti.Period)).
			Uint64("last_run", uint64(ti.LastRun)).
			Uint64("next_run", uint64(ti.NextRun)).
			Msg("pending")
	}
	if rec.Dropped() > 0 {
		log.Debug().Int64("dropped", rec.Dropped()).Msg("throttled run log lines")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func registerDemo(log zerolog.Logger, s *sched.Scheduler) error {
	hb, err := s.AddTask(job.Heartbeat(log, "heartbeat"), 1000)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if _, err := s.AddTask(job.Countdown(log, "countdown", 5), 250); err != nil {
		return fmt.Errorf("countdown: %w", err)
	}
	if _, err := s.ScheduleAfter(job.Retune(log, s, &hb, 500), 3000); err != nil {
		return fmt.Errorf("retune: %w", err)
	}
	return nil
}
