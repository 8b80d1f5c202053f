// Package trace turns scheduler status events into log lines and an optional
// CSV trace.
package trace

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"coopsched/internal/sched"
)

// Recorder consumes sched.StatusEvent values. Table changes are always
// logged; per-run events are logged at debug level and throttled to
// ratePerSec lines so a busy table does not flood the output. The CSV trace,
// when enabled, records every event.
type Recorder struct {
	log     zerolog.Logger
	limiter *rate.Limiter
	dropped int64
	runs    map[sched.PID]int64 // cumulative runs per pid

	csvFile   io.Closer
	csvWriter *csv.Writer
}

// NewRecorder creates a recorder logging to log.
func NewRecorder(log zerolog.Logger, ratePerSec int) *Recorder {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Recorder{
		log:     log.With().Str("component", "trace").Logger(),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		runs:    make(map[sched.PID]int64),
	}
}

// EnableCSV opens the given file path for a CSV trace of events.
// Must be called before the scheduler runs.
func (r *Recorder) EnableCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	r.csvFile = f
	r.attachCSV(f)
	return nil
}

func (r *Recorder) attachCSV(w io.Writer) {
	r.csvWriter = csv.NewWriter(w)

	// write header
	r.csvWriter.Write([]string{"timestamp", "tick", "event", "pid", "period", "next_run", "runs"})
	r.csvWriter.Flush()
}

// Observe is a sched.Observer.
func (r *Recorder) Observe(ev sched.StatusEvent) {
	if ev.Kind == sched.StatusDispatch {
		r.runs[ev.PID]++
	}

	switch ev.Kind {
	case sched.StatusDispatch, sched.StatusReschedule:
		if r.limiter.Allow() {
			r.event(r.log.Debug(), ev).Msg("task run")
		} else {
			r.dropped++
		}
	default:
		r.event(r.log.Info(), ev).Msg("table change")
	}

	if ev.Kind == sched.StatusFinish || ev.Kind == sched.StatusCancel {
		defer delete(r.runs, ev.PID)
	}

	// CSV output
	if r.csvWriter != nil {
		rec := []string{
			time.Now().Format(time.RFC3339Nano),
			strconv.FormatUint(uint64(ev.At), 10),
			ev.Kind.String(),
			strconv.Itoa(int(ev.PID)),
			strconv.FormatUint(uint64(ev.Period), 10),
			strconv.FormatUint(uint64(ev.NextRun), 10),
			strconv.FormatInt(r.runs[ev.PID], 10),
		}
		r.csvWriter.Write(rec)
		r.csvWriter.Flush()
	}
}

func (r *Recorder) event(e *zerolog.Event, ev sched.StatusEvent) *zerolog.Event {
	return e.
		Str("event", ev.Kind.String()).
		Int("pid", int(ev.PID)).
		Uint64("tick", uint64(ev.At)).
		Uint64("period", uint64(ev.Period)).
		Uint64("next_run", uint64(ev.NextRun)).
		Int64("runs", r.runs[ev.PID])
}

// Runs returns how many times pid has run since it was registered.
func (r *Recorder) Runs(pid sched.PID) int64 { return r.runs[pid] }

// Dropped returns how many run log lines the throttle suppressed.
func (r *Recorder) Dropped() int64 { return r.dropped }

// Close flushes and closes the CSV trace, if any.
func (r *Recorder) Close() error {
	if r.csvWriter != nil {
		r.csvWriter.Flush()
		if err := r.csvWriter.Error(); err != nil {
			return err
		}
	}
	if r.csvFile != nil {
		return r.csvFile.Close()
	}
	return nil
}
