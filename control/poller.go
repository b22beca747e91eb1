package control

import (
	"context"
	"time"

	"pressurecal/busx"
)

// RunPoller reads pressure and both valve positions every pollPeriod,
// appending to the bounded histories, until ctx is cancelled. It is the
// only goroutine that appends to the pressure history; the inlet-position
// history is also appended by SetPressure via getValvePositions.
func (c *Controller) RunPoller(ctx context.Context) {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

func (c *Controller) pollOnce() {
	p := c.getPressure()
	c.mu.Lock()
	c.currentPressure = p
	if v, ok := p.Get(); ok {
		c.pressureHistory.Push(v)
	}
	c.mu.Unlock()

	c.getValvePositions()

	if c.conn != nil {
		c.conn.Publish(c.conn.NewMessage(busx.Telemetry(), c.snapshot(), true))
	}
}

// Snapshot is the telemetry payload published each poll, replacing the
// source's callback-style GUI coupling with a bus message (spec.md §9).
type Snapshot struct {
	State          SetpointState
	AdaptiveState  AdaptiveSubstate
	Pressure       float64
	PressureValid  bool
	InletPos       float64
	InletPosValid  bool
	OutletPos      float64
	OutletPosValid bool
	Setpoint       float64
}

func (c *Controller) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, pok := c.currentPressure.Get()
	i, iok := c.inletValvePos.Get()
	o, ook := c.outletValvePos.Get()
	return Snapshot{
		State:          c.state,
		AdaptiveState:  c.adaptiveState,
		Pressure:       p,
		PressureValid:  pok,
		InletPos:       i,
		InletPosValid:  iok,
		OutletPos:      o,
		OutletPosValid: ook,
		Setpoint:       c.systemSetpoint,
	}
}
