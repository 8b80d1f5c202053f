// internal/sched/schedulerEvent.go

package sched

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusRegister StatusKind = iota
	StatusDispatch
	StatusReschedule
	StatusFinish
	StatusCancel
	StatusPeriodUpdate
)

// StatusEvent is emitted on every table change and every task run.
type StatusEvent struct {
	Kind    StatusKind
	PID     PID
	At      Time // last sampled scheduler time
	Period  Time
	NextRun Time
}

// Observer receives status events synchronously on the dispatch goroutine.
// It must not block, for the same reason a task must not.
type Observer func(StatusEvent)

func (sk StatusKind) String() string {
	switch sk {
	case StatusRegister:
		return "Register"
	case StatusDispatch:
		return "Dispatch"
	case StatusReschedule:
		return "Reschedule"
	case StatusFinish:
		return "Finish"
	case StatusCancel:
		return "Cancel"
	case StatusPeriodUpdate:
		return "PeriodUpdate"
	default:
		return "Unknown"
	}
}
