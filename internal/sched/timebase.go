// internal/sched/timebase.go

package sched

import "fmt"

// TimeBase supplies the current scheduler time.
type TimeBase interface {
	Now() Time
}

// Ticker is implemented by time bases that are advanced from an interrupt.
type Ticker interface {
	Tick()
}

// PollingClock derives scheduler time from an external jiffy counter that is
// sampled on every call. It keeps no state of its own.
type PollingClock struct {
	jiffies         func() Time
	ticksInMilliSec Time
}

// NewPollingClock returns a clock reading getJiffies and scaling the result
// by ticksInMilliSec.
func NewPollingClock(getJiffies func() Time, ticksInMilliSec uint32) (*PollingClock, error) {
	if getJiffies == nil {
		return nil, fmt.Errorf("%w: nil jiffy source", ErrInvalidConfig)
	}
	if ticksInMilliSec == 0 {
		return nil, fmt.Errorf("%w: ticks_in_ms must be positive", ErrInvalidConfig)
	}
	return &PollingClock{jiffies: getJiffies, ticksInMilliSec: Time(ticksInMilliSec)}, nil
}

func (c *PollingClock) Now() Time {
	return c.jiffies() * c.ticksInMilliSec
}

// InterruptGate masks and unmasks the tick interrupt source. Disable and
// Enable bracket a critical section; they are never nested by this package.
type InterruptGate interface {
	Disable()
	Enable()
}

// GateFuncs adapts a pair of plain functions, typically the target's
// interrupt disable/enable intrinsics, to InterruptGate.
type GateFuncs struct {
	DisableFn func()
	EnableFn  func()
}

func (g GateFuncs) Disable() { g.DisableFn() }
func (g GateFuncs) Enable()  { g.EnableFn() }

// critical runs fn with the tick interrupt masked.
func critical(g InterruptGate, fn func()) {
	g.Disable()
	defer g.Enable()
	fn()
}

// TickCounter is an interrupt-driven time base. Tick is called from the tick
// interrupt handler; Now is called from normal context and reads the counter
// with the interrupt masked, so a read can never observe a half-written value
// even where Time is wider than an atomic load.
type TickCounter struct {
	gate  InterruptGate
	count Time // written only by Tick
}

// NewTickCounter returns a counter starting at initial.
func NewTickCounter(initial Time, gate InterruptGate) (*TickCounter, error) {
	if gate == nil {
		return nil, fmt.Errorf("%w: nil interrupt gate", ErrInvalidConfig)
	}
	if g, ok := gate.(GateFuncs); ok && (g.DisableFn == nil || g.EnableFn == nil) {
		return nil, fmt.Errorf("%w: interrupt gate needs both disable and enable", ErrInvalidConfig)
	}
	return &TickCounter{gate: gate, count: initial}, nil
}

// Tick advances the counter by one. It must only be called from the tick
// interrupt, or with that interrupt masked.
func (c *TickCounter) Tick() {
	c.count++
}

func (c *TickCounter) Now() Time {
	var now Time
	critical(c.gate, func() {
		now = c.count
	})
	return now
}
