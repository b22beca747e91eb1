package control

import (
	"sync"

	"pressurecal/busx"
)

// EStop implements spec.md §5's emergency-stop semantics: every loop
// observes a single event, both transports are commanded closed, and
// automatic action is disabled until Resume. Safe to call more than once:
// every call re-sends the close commands and republishes the fault, while
// the e-stop channel is closed only by the first call in an armed period.
func (c *Controller) EStop() {
	c.mu.Lock()
	c.holdAllValves = true
	c.state = Halted
	c.mu.Unlock()

	_ = c.inlet.Write("C")
	_ = c.outlet.Write("C")

	c.mu.Lock()
	ch := c.estop
	once := &c.estopOnce
	c.mu.Unlock()
	once.Do(func() { close(ch) })

	c.conn.Publish(c.conn.NewMessage(busx.Fault(), "emergency_stop", true))
}

// Resume clears the e-stop and returns the controller to Idle, rearming
// the cancelable-sleep channel so subsequent loops observe a fresh event.
func (c *Controller) Resume() {
	c.resumeMu.Lock()
	defer c.resumeMu.Unlock()

	c.mu.Lock()
	c.holdAllValves = false
	c.state = Idle
	c.estop = make(chan struct{})
	c.estopOnce = sync.Once{}
	c.mu.Unlock()
}

// EStopped reports whether an emergency stop is currently in effect.
func (c *Controller) EStopped() bool {
	select {
	case <-c.EStopChan():
		return true
	default:
		return false
	}
}
