// Package job holds the demo tasks run by the coopsched command.
package job

import (
	"github.com/rs/zerolog"

	"coopsched/internal/sched"
)

// Heartbeat returns a task that logs one line per run and never finishes.
func Heartbeat(log zerolog.Logger, name string) sched.Task {
	var beats uint64
	return func() sched.Status {
		beats++
		log.Info().Str("task", name).Uint64("beat", beats).Msg("heartbeat")
		return sched.Continue
	}
}

// Countdown returns a task that runs n times and then removes itself.
func Countdown(log zerolog.Logger, name string, n int) sched.Task {
	remaining := n
	return func() sched.Status {
		remaining--
		log.Info().Str("task", name).Int("remaining", remaining).Msg("countdown")
		if remaining <= 0 {
			return sched.Done
		}
		return sched.Continue
	}
}

// Retune returns a one-shot task that changes the period of pid.
func Retune(log zerolog.Logger, s *sched.Scheduler, pid *sched.PID, periodMillis sched.Time) sched.Task {
	return sched.Once(func() {
		if err := s.SetTaskPeriod(*pid, periodMillis); err != nil {
			log.Warn().Err(err).Msg("retune failed")
			return
		}
		log.Info().Int("pid", int(*pid)).Uint64("period_ms", uint64(periodMillis)).Msg("retuned")
	})
}
