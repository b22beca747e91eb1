package control

import (
	"strconv"
	"time"

	"pressurecal/errcode"
	"pressurecal/model"
)

// getPressure queries the inlet's process value and converts it to Torr,
// per spec.md §4.4: parse a percent-of-FS decimal, scale by fs/100.
func (c *Controller) getPressure() model.Option[float64] {
	v, err := c.inlet.QueryFloat("R5")
	if err != nil {
		return model.None[float64]()
	}
	pct, ok := v.Get()
	if !ok {
		return model.None[float64]()
	}
	return model.Some(pct / 100 * c.fs)
}

// getValvePositions queries both R6s, updates the scalar fields and
// appends the inlet reading to its history. Called by the poller and also
// by SetPressure's pump-down and transition paths, so the inlet-position
// history is appended from the command path as well, not only the poller.
func (c *Controller) getValvePositions() {
	inletV, inletErr := c.inlet.QueryFloat("R6")
	outletV, outletErr := c.outlet.QueryFloat("R6")

	c.mu.Lock()
	defer c.mu.Unlock()
	if inletErr == nil {
		if v, ok := inletV.Get(); ok {
			c.inletValvePos = model.Some(v)
			c.inletPosHistory.Push(v)
		}
	}
	if outletErr == nil {
		if v, ok := outletV.Get(); ok {
			c.outletValvePos = model.Some(v)
		}
	}
}

// closeValves freezes the outlet loop, commands both controllers closed,
// and waits out the physical close delay.
func (c *Controller) closeValves() {
	c.mu.Lock()
	c.holdAllValves = true
	c.mu.Unlock()

	_ = c.inlet.Write("C")
	_ = c.outlet.Write("C")
	c.sleepCancelable(500 * time.Millisecond)
}

// writeOutlet commands the outlet controller to position pct and updates
// the cached scalar so the next adaptive tick sees the new value without
// waiting for the poller.
func (c *Controller) writeOutlet(pct float64) error {
	if err := c.outlet.Write(formatPercent("S1", pct)); err != nil {
		return err
	}
	if err := c.outlet.Write("D1"); err != nil {
		return err
	}
	c.mu.Lock()
	c.outletValvePos = model.Some(pct)
	c.mu.Unlock()
	return nil
}

// writeOutletManual uses the "position setpoint" (S5/D5) path rather than
// the "pressure setpoint" (S1/D1) path, per spec.md §9's open question:
// both exist in the source and the separation is preserved even though
// the coupling between them at transition time is not fully specified.
func (c *Controller) writeOutletManual(pct float64) error {
	if err := c.outlet.Write(formatPercent("S5", pct)); err != nil {
		return err
	}
	return c.outlet.Write("D5")
}

// SetOutletPositionManual drives the outlet valve directly to pct via the
// position-setpoint path, bypassing the adaptive loop, for a manual
// operator override. Rejected while e-stopped or while a measurement
// window holds the outlet valve.
func (c *Controller) SetOutletPositionManual(pct float64) error {
	if c.EStopped() {
		return errcode.Wrap("control.SetOutletPositionManual", errcode.EmergencyStop, nil)
	}
	c.mu.Lock()
	held := c.holdOutletValve || c.holdAllValves
	c.mu.Unlock()
	if held {
		return errcode.Wrap("control.SetOutletPositionManual", errcode.OutOfRangeInput, nil)
	}
	if err := c.writeOutletManual(pct); err != nil {
		return err
	}
	c.SetManualOverride(true)
	return nil
}

func (c *Controller) writeInlet(pct float64) error {
	if err := c.inlet.Write(formatPercent("S1", pct)); err != nil {
		return err
	}
	return c.inlet.Write("D1")
}

func formatPercent(code string, pct float64) string {
	return code + " " + strconv.FormatFloat(pct, 'f', 3, 64)
}
