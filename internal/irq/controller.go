// internal/irq/controller.go

// Package irq emulates a single maskable timer interrupt on a development
// host, so the interrupt-driven time base can run outside real hardware.
package irq

import (
	"sync"
	"sync/atomic"
	"time"
)

// Controller is one interrupt line. While it is disabled the handler cannot
// run; a tick arriving meanwhile is delivered once the line is enabled again.
// Disable and Enable satisfy sched.InterruptGate.
type Controller struct {
	mu     sync.Mutex // held while the line is masked or the handler runs
	fired  atomic.Int64
	stop   chan struct{}
	closed sync.Once
}

// NewController creates a controller with no timer attached.
func NewController() *Controller {
	return &Controller{stop: make(chan struct{})}
}

// Disable masks the interrupt line.
func (c *Controller) Disable() { c.mu.Lock() }

// Enable unmasks the interrupt line.
func (c *Controller) Enable() { c.mu.Unlock() }

// Raise delivers one interrupt: handler runs with the line masked, as a
// hardware handler would.
func (c *Controller) Raise(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handler()
	c.fired.Add(1)
}

// Start begins raising the interrupt at the given interval.
func (c *Controller) Start(interval time.Duration, handler func()) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-c.stop:
					return
				default:
				}
				c.Raise(handler)
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the timer started with Start. It is safe to call more than once.
func (c *Controller) Stop() {
	c.closed.Do(func() { close(c.stop) })
}

// Fired returns how many interrupts have been delivered.
func (c *Controller) Fired() int64 {
	return c.fired.Load()
}
