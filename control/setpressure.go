package control

import (
	"time"

	"pressurecal/errcode"
	"pressurecal/model"
	"pressurecal/x/mathx"
	"pressurecal/x/ramp"
)

const (
	inletClosedThreshold = 99.9
	pumpDownTimeout      = 15 * time.Second
	pumpDownHighPressure = 0.75 // fraction of FS above which the outlet ramp runs
)

// transitionSettleDuration is the post-move settle sleep from spec.md
// §4.4 step 2 ("sleep 3 s to let it physically arrive"). A var, not a
// const, so tests can shrink it without waiting on real time.
var transitionSettleDuration = 3 * time.Second

// SetPressure implements spec.md §4.4's set_pressure(sp, predicted)
// protocol. Not re-entrant: callers (the sequencer, or a GUI's one-shot
// worker task) must serialize their own calls, per spec.md §5.
func (c *Controller) SetPressure(sp float64, predicted model.Option[float64]) error {
	if c.EStopped() {
		return errcode.Wrap("control.SetPressure", errcode.EmergencyStop, nil)
	}

	c.mu.Lock()
	c.holdAllValves = false
	c.manualOverrideActive = false
	c.previousSetpoint = c.systemSetpoint
	c.systemSetpoint = sp
	c.pressureHistory.Clear()
	c.logReason = ""
	c.maxSlopeHold = false
	c.adaptiveState = Quiescent
	prevSP := c.previousSetpoint
	c.mu.Unlock()

	if sp == 0 {
		return c.pumpToVacuum()
	}
	return c.transitionToSetpoint(sp, prevSP, predicted)
}

func (c *Controller) pumpToVacuum() error {
	c.mu.Lock()
	c.state = PumpingDown
	c.mu.Unlock()

	if err := c.inlet.Write("C"); err != nil {
		return err
	}

	deadline := time.Now().Add(pumpDownTimeout)
	closed := false
	for time.Now().Before(deadline) {
		if c.EStopped() {
			return errcode.Wrap("control.pumpToVacuum", errcode.EmergencyStop, nil)
		}
		c.getValvePositions()
		inletPos, _ := c.inletPosSnapshot()
		if inletPos >= inletClosedThreshold {
			closed = true
			break
		}
		if !c.sleepCancelable(200 * time.Millisecond) {
			return errcode.Wrap("control.pumpToVacuum", errcode.EmergencyStop, nil)
		}
	}
	if !closed {
		return errcode.Wrap("control.pumpToVacuum", errcode.PumpDownTimeout, nil)
	}

	current := c.CurrentPressure()
	if v, ok := current.Get(); ok && v > pumpDownHighPressure*c.fs {
		if !c.runVacuumRamp() {
			return errcode.Wrap("control.pumpToVacuum", errcode.EmergencyStop, nil)
		}
	}

	if err := c.writeOutlet(100); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = VacuumHold
	c.mu.Unlock()
	return nil
}

// runVacuumRamp performs the three-stage outlet ramp from spec.md §4.4
// step 2: 2%→20% over ten 1s steps, hold 5s, 20%→25% over ten 0.5% 1s
// increments, hold 1s. Returns false if e-stop interrupted it.
func (c *Controller) runVacuumRamp() bool {
	tick := func(d time.Duration) bool { return c.sleepCancelable(d) }
	set := func(level float64) { _ = c.writeOutlet(level) }

	if !ramp.Linear(2, 20, 100, 10, time.Second, tick, set) {
		return false
	}
	if !c.sleepCancelable(5 * time.Second) {
		return false
	}
	if !ramp.Linear(20, 25, 100, 10, time.Second, tick, set) {
		return false
	}
	return c.sleepCancelable(1 * time.Second)
}

// initialOutletForTransition picks the starting outlet position per
// spec.md §4.4 step 1.
func initialOutletForTransition(predicted model.Option[float64], prevSetpoint, sp, fs, currentOutlet float64, haveCurrentOutlet bool) (float64, bool) {
	if v, ok := predicted.Get(); ok {
		return v, true
	}
	if prevSetpoint == 0 {
		pctFS := sp / fs * 100
		switch {
		case pctFS >= 90:
			return 24, true
		case pctFS > 40:
			return 28, true
		case pctFS > 10:
			return 40, true
		default:
			return 70, true
		}
	}
	if haveCurrentOutlet {
		return currentOutlet, false
	}
	return 0, false
}

func (c *Controller) transitionToSetpoint(sp, prevSP float64, predicted model.Option[float64]) error {
	c.mu.Lock()
	c.state = Transitioning
	c.mu.Unlock()

	c.getValvePositions()
	outletPos, haveOutlet := c.outletPosSnapshot()
	target, moved := initialOutletForTransition(predicted, prevSP, sp, c.fs, outletPos, haveOutlet)

	if moved {
		if err := c.writeOutlet(target); err != nil {
			return err
		}
		if !c.sleepCancelable(transitionSettleDuration) {
			return errcode.Wrap("control.transitionToSetpoint", errcode.EmergencyStop, nil)
		}
		c.getValvePositions()
	}

	if prevSP == 0 {
		c.mu.Lock()
		c.blindActive = true
		c.blindDeadline = time.Now().Add(blindWindow)
		c.adaptiveState = BlindAfterTransition
		c.mu.Unlock()
	}

	inletPct := mathx.Clamp(100*sp/c.fs, 0, 100)
	if err := c.writeInlet(inletPct); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Holding
	c.mu.Unlock()
	return nil
}

func (c *Controller) inletPosSnapshot() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inletValvePos.Get()
}

func (c *Controller) outletPosSnapshot() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outletValvePos.Get()
}
