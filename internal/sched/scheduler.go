// internal/sched/scheduler.go

package sched

import (
	"context"
	"fmt"
	"runtime"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/rs/zerolog"
)

// Scheduler is a cooperative run-to-completion task scheduler over a
// fixed-capacity task table.
//
// A Scheduler is driven by a single goroutine: registration, cancellation and
// the dispatch loop must not be called concurrently. Task callbacks may call
// back into the scheduler, for example to cancel themselves. The one
// exception is Tick, which may be called from the tick interrupt.
type Scheduler struct {
	table           *table
	clock           TimeBase
	ticksInMilliSec Time

	lastSample Time // time of the last table scan
	sampled    bool // false until the first scan

	observer Observer
	log      zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver installs fn to receive every StatusEvent.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// WithLogger sets the logger used for table changes. The default discards.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = log.With().Str("component", "sched").Logger()
	}
}

// New creates a scheduler with cfg.Capacity slots reading time from clock.
// All table memory is allocated here.
func New(cfg Config, clock TimeBase, opts ...Option) (*Scheduler, error) {
	if cfg.TicksInMilliSec == 0 {
		return nil, fmt.Errorf("%w: ticks_in_ms must be positive", ErrInvalidConfig)
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: nil time base", ErrInvalidConfig)
	}

	s := &Scheduler{
		table:           newTable(cfg.Capacity),
		clock:           clock,
		ticksInMilliSec: Time(cfg.TicksInMilliSec),
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewPolling creates a scheduler whose time is getJiffies() scaled by
// cfg.TicksInMilliSec.
func NewPolling(cfg Config, getJiffies func() Time, opts ...Option) (*Scheduler, error) {
	clock, err := NewPollingClock(getJiffies, cfg.TicksInMilliSec)
	if err != nil {
		return nil, err
	}
	return New(cfg, clock, opts...)
}

// NewInterrupt creates a scheduler on an internal tick counter starting at
// cfg.InitialTime. The caller arranges for Tick to be called from the tick
// interrupt; gate masks that interrupt.
func NewInterrupt(cfg Config, gate InterruptGate, opts ...Option) (*Scheduler, error) {
	clock, err := NewTickCounter(cfg.InitialTime, gate)
	if err != nil {
		return nil, err
	}
	return New(cfg, clock, opts...)
}

// AddTask registers a periodic task, due on the next dispatch pass and then
// every periodMillis milliseconds.
func (s *Scheduler) AddTask(task Task, periodMillis Time) (PID, error) {
	d := emptyDescriptor
	d.task = task
	d.period = periodMillis * s.ticksInMilliSec
	return s.register(d)
}

// ScheduleAt registers a task due at the absolute scheduler time at, given in
// ticks as returned by CurrentTime, for both time bases.
//
// The task has period zero. If its callback returns Continue it runs again on
// every following tick; return Done, or wrap the callback with Once, to run
// it a single time.
func (s *Scheduler) ScheduleAt(task Task, at Time) (PID, error) {
	d := emptyDescriptor
	d.task = task
	d.nextRun = at
	return s.register(d)
}

// ScheduleAfter is ScheduleAt relative to the current time, with the delay in
// milliseconds.
func (s *Scheduler) ScheduleAfter(task Task, delayMillis Time) (PID, error) {
	return s.ScheduleAt(task, s.CurrentTime()+delayMillis*s.ticksInMilliSec)
}

func (s *Scheduler) register(d descriptor) (PID, error) {
	if d.task == nil {
		return NoPID, ErrNilTask
	}
	pid, err := s.table.register(d)
	if err != nil {
		s.log.Debug().Int("capacity", s.table.cap()).Msg("registration rejected, table full")
		return NoPID, err
	}
	s.log.Debug().Int("pid", int(pid)).Uint64("period", uint64(d.period)).Uint64("next_run", uint64(d.nextRun)).Msg("task registered")
	s.emit(StatusRegister, pid, d.period, d.nextRun)
	return pid, nil
}

// CancelTask removes a task. Canceling a PID that is not registered, including
// one canceled before, returns ErrNotFound.
func (s *Scheduler) CancelTask(pid PID) error {
	if !s.table.clear(pid) {
		s.log.Debug().Int("pid", int(pid)).Msg("cancel: no such task")
		return fmt.Errorf("cancel pid %d: %w", pid, ErrNotFound)
	}
	s.log.Debug().Int("pid", int(pid)).Msg("task canceled")
	s.emit(StatusCancel, pid, 0, 0)
	return nil
}

// SetTaskPeriod replaces a task's period, in milliseconds. The pending run is
// not moved; the new period applies from the task's next reschedule.
func (s *Scheduler) SetTaskPeriod(pid PID, periodMillis Time) error {
	d := s.table.lookup(pid)
	if d == nil {
		s.log.Debug().Int("pid", int(pid)).Msg("set period: no such task")
		return fmt.Errorf("set period pid %d: %w", pid, ErrNotFound)
	}
	d.period = periodMillis * s.ticksInMilliSec
	s.emit(StatusPeriodUpdate, pid, d.period, d.nextRun)
	return nil
}

// CurrentTime returns the current scheduler time in ticks.
func (s *Scheduler) CurrentTime() Time {
	return s.clock.Now()
}

// Tick advances an interrupt-driven time base by one tick. It is safe to call
// from the tick interrupt and never blocks. With a polling time base it does
// nothing.
func (s *Scheduler) Tick() {
	if t, ok := s.clock.(Ticker); ok {
		t.Tick()
	}
}

// Step performs one iteration of the dispatch loop and reports whether the
// table was scanned. The table is scanned at most once per distinct time
// value; a call that samples the same time as the previous scan returns
// false without touching any task.
func (s *Scheduler) Step() bool {
	now := s.clock.Now()
	if s.sampled && now == s.lastSample {
		return false
	}
	s.sampled = true
	s.lastSample = now

	for i := range s.table.slots {
		d := &s.table.slots[i]
		if d.empty() || now < d.nextRun {
			continue
		}

		pid := d.pid
		s.emit(StatusDispatch, pid, d.period, d.nextRun)
		if d.task() == Done {
			if s.table.clear(pid) {
				s.emit(StatusFinish, pid, 0, 0)
			}
			continue
		}
		// the callback may have canceled itself
		if d.empty() {
			continue
		}
		d.lastRun = now
		d.nextRun = now + d.period
		s.emit(StatusReschedule, pid, d.period, d.nextRun)
	}
	return true
}

// Run is the scheduler main loop. It never returns on its own; it returns
// ctx.Err() once ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("capacity", s.table.cap()).
		Int("tasks", s.table.len()).
		Uint64("now", uint64(s.CurrentTime())).
		Msg("dispatch loop started")

	for {
		if err := ctx.Err(); err != nil {
			s.log.Info().Uint64("now", uint64(s.lastSample)).Msg("dispatch loop stopped")
			return err
		}
		if !s.Step() {
			// same tick: spin, but let the tick source run on hosts
			runtime.Gosched()
		}
	}
}

// Lookup returns a copy of the slot holding pid.
func (s *Scheduler) Lookup(pid PID) (TaskInfo, error) {
	d := s.table.lookup(pid)
	if d == nil {
		return TaskInfo{}, fmt.Errorf("lookup pid %d: %w", pid, ErrNotFound)
	}
	return d.info(), nil
}

// Tasks returns every registered task ordered by next run time, then PID.
// It allocates and is meant for diagnostics, not for the dispatch path.
func (s *Scheduler) Tasks() []TaskInfo {
	rbt := redblacktree.NewWith(cmp)
	for i := range s.table.slots {
		d := &s.table.slots[i]
		if d.empty() {
			continue
		}
		rbt.Put(nodeKey{nextRun: d.nextRun, pid: d.pid}, d.info())
	}

	out := make([]TaskInfo, 0, rbt.Size())
	for _, v := range rbt.Values() {
		out = append(out, v.(TaskInfo))
	}
	return out
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int { return s.table.len() }

// Cap returns the table capacity.
func (s *Scheduler) Cap() int { return s.table.cap() }

func (s *Scheduler) emit(kind StatusKind, pid PID, period, next Time) {
	if s.observer == nil {
		return
	}
	s.observer(StatusEvent{
		Kind:    kind,
		PID:     pid,
		At:      s.lastSample,
		Period:  period,
		NextRun: next,
	})
}

// nodeKey is used as a key in the red-black tree.
type nodeKey struct {
	nextRun Time
	pid     PID
}

// cmp orders nodeKeys by next run, then by PID.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.nextRun < kb.nextRun:
		return -1
	case ka.nextRun > kb.nextRun:
		return 1
	case ka.pid < kb.pid:
		return -1
	case ka.pid > kb.pid:
		return 1
	default:
		return 0
	}
}
