package sched

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// manualClock is a time base the test advances by hand.
type manualClock struct{ now Time }

func (c *manualClock) Now() Time { return c.now }

func newTestScheduler(t *testing.T, capacity int, opts ...Option) (*Scheduler, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	s, err := New(cfg, clock, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, clock
}

func counter(n *int) Task {
	return func() Status {
		*n++
		return Continue
	}
}

func TestNewValidation(t *testing.T) {
	clock := &manualClock{}
	tests := []struct {
		name  string
		cfg   Config
		clock TimeBase
	}{
		{"zero ticks", Config{TicksInMilliSec: 0, Capacity: 1}, clock},
		{"zero capacity", Config{TicksInMilliSec: 1, Capacity: 0}, clock},
		{"nil clock", Config{TicksInMilliSec: 1, Capacity: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.clock); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestRegistrationUntilFull(t *testing.T) {
	s, _ := newTestScheduler(t, 4)

	seen := map[PID]bool{}
	for i := 0; i < 4; i++ {
		var pid PID
		var err error
		if i%2 == 0 {
			pid, err = s.AddTask(noop, 10)
		} else {
			pid, err = s.ScheduleAt(noop, 50)
		}
		if err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
		if pid < 0 || seen[pid] {
			t.Fatalf("registration %d: pid %d not unique and non-negative", i, pid)
		}
		seen[pid] = true
	}

	for i := 0; i < 3; i++ {
		if _, err := s.AddTask(noop, 1); !errors.Is(err, ErrTableFull) {
			t.Fatalf("AddTask on full table: err = %v", err)
		}
		if _, err := s.ScheduleAt(noop, 1); !errors.Is(err, ErrTableFull) {
			t.Fatalf("ScheduleAt on full table: err = %v", err)
		}
	}

	if err := s.CancelTask(2); err != nil {
		t.Fatal(err)
	}
	if pid, err := s.AddTask(noop, 1); err != nil || pid != 2 {
		t.Fatalf("after cancel: pid=%d err=%v, want 2, nil", pid, err)
	}
}

func TestSlotReuseAfterCancel(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	p0, err0 := s.AddTask(noop, 1)
	p1, err1 := s.AddTask(noop, 1)
	if err0 != nil || err1 != nil || p0 != 0 || p1 != 1 {
		t.Fatalf("got pids %d,%d errs %v,%v", p0, p1, err0, err1)
	}
	if _, err := s.AddTask(noop, 1); !errors.Is(err, ErrTableFull) {
		t.Fatalf("third registration: err = %v, want ErrTableFull", err)
	}
	if err := s.CancelTask(0); err != nil {
		t.Fatal(err)
	}
	if pid, err := s.AddTask(noop, 1); err != nil || pid != 0 {
		t.Fatalf("reuse: pid=%d err=%v, want 0", pid, err)
	}
}

func TestCancelTwice(t *testing.T) {
	s, _ := newTestScheduler(t, 2)
	pid, _ := s.AddTask(noop, 1)

	if err := s.CancelTask(pid); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := s.CancelTask(pid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel: err = %v, want ErrNotFound", err)
	}
	if err := s.CancelTask(NoPID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel NoPID: err = %v, want ErrNotFound", err)
	}
}

func TestNilTaskRejected(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	if _, err := s.AddTask(nil, 1); !errors.Is(err, ErrNilTask) {
		t.Fatalf("err = %v, want ErrNilTask", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after rejected registration", s.Len())
	}
}

func TestPeriodicTaskScenario(t *testing.T) {
	s, clock := newTestScheduler(t, 4)
	runs := 0
	pid, _ := s.AddTask(counter(&runs), 10)

	s.Step() // time 0
	if runs != 1 {
		t.Fatalf("runs at 0 = %d, want 1", runs)
	}

	clock.now = 9
	s.Step()
	if runs != 1 {
		t.Fatalf("runs at 9 = %d, want 1", runs)
	}

	clock.now = 10
	s.Step()
	if runs != 2 {
		t.Fatalf("runs at 10 = %d, want 2", runs)
	}
	info, err := s.Lookup(pid)
	if err != nil {
		t.Fatal(err)
	}
	if info.NextRun != 20 || info.LastRun != 10 || info.Period != 10 {
		t.Errorf("info = %+v, want next 20 last 10 period 10", info)
	}
}

func TestPeriodScaledByTicksInMilliSec(t *testing.T) {
	clock := &manualClock{}
	cfg := DefaultConfig()
	cfg.TicksInMilliSec = 3
	s, _ := New(cfg, clock)

	pid, _ := s.AddTask(noop, 10)
	info, _ := s.Lookup(pid)
	if info.Period != 30 {
		t.Errorf("period = %d, want 30", info.Period)
	}

	s.SetTaskPeriod(pid, 2)
	info, _ = s.Lookup(pid)
	if info.Period != 6 {
		t.Errorf("period after SetTaskPeriod = %d, want 6", info.Period)
	}
}

func TestSameTickSkipsScan(t *testing.T) {
	s, clock := newTestScheduler(t, 2)
	runs := 0
	s.ScheduleAt(counter(&runs), 0) // period 0: due every tick

	if !s.Step() {
		t.Fatal("first Step did not scan")
	}
	for i := 0; i < 5; i++ {
		if s.Step() {
			t.Fatal("Step scanned twice on the same tick")
		}
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	clock.now = 1
	if !s.Step() {
		t.Fatal("Step on a new tick did not scan")
	}
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestZeroPeriodTaskRefiresEveryTick(t *testing.T) {
	s, clock := newTestScheduler(t, 2)
	runs := 0
	pid, _ := s.ScheduleAt(counter(&runs), 5)

	for now := Time(0); now < 5; now++ {
		clock.now = now
		s.Step()
	}
	if runs != 0 {
		t.Fatalf("ran before due: runs = %d", runs)
	}

	for now := Time(5); now < 9; now++ {
		clock.now = now
		s.Step()
	}
	if runs != 4 {
		t.Fatalf("runs = %d, want 4 (one per tick from 5 to 8)", runs)
	}
	info, err := s.Lookup(pid)
	if err != nil {
		t.Fatalf("zero-period task was removed: %v", err)
	}
	if info.NextRun != 8 || info.LastRun != 8 {
		t.Errorf("info = %+v, want next and last 8", info)
	}
}

func TestDoneRemovesTask(t *testing.T) {
	s, clock := newTestScheduler(t, 2)
	runs := 0
	pid, _ := s.ScheduleAt(Once(func() { runs++ }), 3)

	for now := Time(0); now < 10; now++ {
		clock.now = now
		s.Step()
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if err := s.CancelTask(pid); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel after Done: err = %v", err)
	}
	if err := s.SetTaskPeriod(pid, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("set period after Done: err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestSetPeriodAppliesFromNextReschedule(t *testing.T) {
	s, clock := newTestScheduler(t, 2)
	pid, _ := s.AddTask(noop, 10)
	s.Step() // runs at 0, next 10

	if err := s.SetTaskPeriod(pid, 3); err != nil {
		t.Fatal(err)
	}
	info, _ := s.Lookup(pid)
	if info.NextRun != 10 {
		t.Fatalf("pending run moved to %d", info.NextRun)
	}

	clock.now = 10
	s.Step()
	info, _ = s.Lookup(pid)
	if info.NextRun != 13 {
		t.Errorf("next run = %d, want 13", info.NextRun)
	}
}

func TestSelfCancelFromCallback(t *testing.T) {
	s, _ := newTestScheduler(t, 2)
	var pid PID
	pid, _ = s.AddTask(func() Status {
		if err := s.CancelTask(pid); err != nil {
			t.Errorf("self cancel: %v", err)
		}
		return Continue
	}, 5)

	s.Step()

	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	if _, err := s.Lookup(pid); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup: err = %v", err)
	}
	if s.table.slots[pid].nextRun != 0 {
		t.Errorf("canceled slot was rescheduled: %+v", s.table.slots[pid].info())
	}
}

func TestDispatchInSlotOrder(t *testing.T) {
	s, _ := newTestScheduler(t, 3)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.AddTask(func() Status {
			order = append(order, i)
			return Continue
		}, 1)
	}
	s.Step()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v", order)
	}
}

func TestScheduleAfter(t *testing.T) {
	clock := &manualClock{now: 40}
	cfg := DefaultConfig()
	cfg.TicksInMilliSec = 2
	s, _ := New(cfg, clock)

	pid, _ := s.ScheduleAfter(noop, 5)
	info, _ := s.Lookup(pid)
	if info.NextRun != 50 || info.Period != 0 {
		t.Errorf("info = %+v, want next 50 period 0", info)
	}
}

func TestTasksOrderedByNextRun(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	s.ScheduleAt(noop, 30)
	s.ScheduleAt(noop, 10)
	s.ScheduleAt(noop, 20)
	s.ScheduleAt(noop, 10)

	got := s.Tasks()
	want := []struct {
		pid  PID
		next Time
	}{{1, 10}, {3, 10}, {2, 20}, {0, 30}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].PID != w.pid || got[i].NextRun != w.next {
			t.Errorf("[%d] = %+v, want pid %d next %d", i, got[i], w.pid, w.next)
		}
	}
}

func TestInterruptSchedulerTicks(t *testing.T) {
	gate := &countingGate{}
	cfg := DefaultConfig()
	cfg.InitialTime = 1000
	s, err := NewInterrupt(cfg, gate)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if got := s.CurrentTime(); got != 1005 {
		t.Errorf("CurrentTime = %d, want 1005", got)
	}
	if gate.disabled == 0 || gate.masked {
		t.Errorf("read not bracketed by the gate: %+v", gate)
	}
}

func TestPollingSchedulerTimeAndTickNoop(t *testing.T) {
	var jiffies Time = 3
	cfg := DefaultConfig()
	cfg.TicksInMilliSec = 10
	s, err := NewPolling(cfg, func() Time { return jiffies })
	if err != nil {
		t.Fatal(err)
	}
	s.Tick()
	if got := s.CurrentTime(); got != 30 {
		t.Errorf("CurrentTime = %d, want 30", got)
	}
}

func TestObserverEvents(t *testing.T) {
	var kinds []StatusKind
	s, clock := newTestScheduler(t, 2, WithObserver(func(ev StatusEvent) {
		kinds = append(kinds, ev.Kind)
	}))

	pid, _ := s.AddTask(noop, 5)
	s.ScheduleAt(Once(func() {}), 1)
	s.Step()
	clock.now = 1
	s.Step()
	s.SetTaskPeriod(pid, 2)
	s.CancelTask(pid)

	want := []StatusKind{
		StatusRegister, StatusRegister,
		StatusDispatch, StatusReschedule, // pid 0 at 0
		StatusDispatch, StatusFinish, // pid 1 at 1
		StatusPeriodUpdate, StatusCancel,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestLoggerRecordsTableChanges(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	s, _ := newTestScheduler(t, 1, WithLogger(log))

	s.AddTask(noop, 1)
	s.AddTask(noop, 1)
	s.CancelTask(4)

	out := buf.String()
	for _, msg := range []string{"task registered", "table full", "no such task", `"component":"sched"`} {
		if !strings.Contains(out, msg) {
			t.Errorf("log missing %q:\n%s", msg, out)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	gate := &mutexGate{}
	s, err := NewInterrupt(DefaultConfig(), gate)
	if err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{})
	s.ScheduleAt(Once(func() { close(fired) }), 3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		gate.Disable()
		s.Tick()
		gate.Enable()
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("task at tick 3 never ran")
	}
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
