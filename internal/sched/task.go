package sched

// Time is scheduler time in ticks. It is wider than a machine word on small
// targets, which is why the interrupt-driven time base reads it under masking.
type Time uint64

// PID identifies a registered task. It is always the task's slot index.
type PID int

// NoPID marks an empty slot.
const NoPID PID = -1

// Status is what a task callback reports back to the dispatcher.
type Status int

const (
	// Continue keeps the task in the table and reschedules it.
	Continue Status = iota
	// Done removes the task from the table after this run.
	Done
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "Continue"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Task is one unit of cooperative work. It must return promptly: the
// dispatcher runs every callback to completion before looking at the next slot.
type Task func() Status

// Once wraps fn so that it runs a single time and then removes itself.
//
// A task registered with ScheduleAt whose callback returns Continue keeps
// firing on every following tick, because its period is zero. Once is the
// usual way to get a real one-shot.
func Once(fn func()) Task {
	return func() Status {
		fn()
		return Done
	}
}

// descriptor is one slot of the task table.
type descriptor struct {
	task    Task
	pid     PID
	period  Time // ticks; 0 = one-shot
	lastRun Time
	nextRun Time
}

var emptyDescriptor = descriptor{pid: NoPID}

func (d *descriptor) empty() bool { return d.task == nil }

// TaskInfo is a read-only copy of a slot, for diagnostics.
type TaskInfo struct {
	PID     PID
	Period  Time
	LastRun Time
	NextRun Time
}

func (d *descriptor) info() TaskInfo {
	return TaskInfo{
		PID:     d.pid,
		Period:  d.period,
		LastRun: d.lastRun,
		NextRun: d.nextRun,
	}
}
