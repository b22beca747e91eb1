package control

import (
	"context"
	"math"
	"time"

	"pressurecal/busx"
	"pressurecal/x/mathx"
)

const (
	nearSetpointFrac  = 0.02
	pressureStableA   = 0.005
	pressureStableB   = 0.001
	oscThresholdSPFrac = 0.003
	oscThresholdFSFrac = 0.0008
	inletOscStdevPct   = 2.0

	oscillationCounterCap = 5
	inletOscCounterCap    = 3
	nearClosedCounterCap  = 5

	emergencyDescentErrorFrac = 0.05
)

// RunAdaptiveLoop evaluates the outlet-correction decision every
// adaptivePeriod until ctx is cancelled, per spec.md §4.4's adaptive
// outlet loop.
func (c *Controller) RunAdaptiveLoop(ctx context.Context) {
	ticker := time.NewTicker(adaptivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extraSleep := c.adaptiveTick()
			if extraSleep {
				c.sleepCancelable(adaptivePeriod)
			}
		}
	}
}

// adaptiveTick runs one evaluation and returns whether the caller should
// sleep an extra period (the "hold while blind" rule).
func (c *Controller) adaptiveTick() bool {
	c.mu.Lock()
	skip := c.estopped() || c.manualOverrideActive || c.holdAllValves || c.holdOutletValve ||
		!c.turboReady || !c.pressureHistory.Full() || c.systemSetpoint <= 0
	currentPressure, havePressure := c.currentPressure.Get()
	inletPos, haveInlet := c.inletValvePos.Get()
	outletPos, haveOutlet := c.outletValvePos.Get()
	sp := c.systemSetpoint
	prevSP := c.previousSetpoint
	fs := c.fs
	c.mu.Unlock()

	if skip || !havePressure || !haveInlet || !haveOutlet {
		return false
	}

	c.mu.Lock()
	if c.blindActive && time.Now().After(c.blindDeadline) {
		c.blindActive = false
		if c.adaptiveState == BlindAfterTransition {
			c.adaptiveState = Quiescent
		}
	}
	blind := c.blindActive
	c.mu.Unlock()

	meanPressure := c.pressureHistory.Mean()
	stdevPressure := c.pressureHistory.Stdev()
	errVal := currentPressure - sp
	nearSetpoint := math.Abs(meanPressure-sp) < nearSetpointFrac*fs
	pressureStable := stdevPressure < pressureStableA+sp*pressureStableB

	c.updateOscillationCounters(nearSetpoint, blind, stdevPressure, sp, fs)
	c.updateInletOscillationCounter()
	c.updateNearClosedCounter(inletPos)

	action, reason := c.decide(errVal, inletPos, outletPos, pressureStable, blind, sp, prevSP)

	c.mu.Lock()
	changed := c.logReason != reason
	c.logReason = reason
	c.mu.Unlock()

	if changed && c.conn != nil {
		c.conn.Publish(c.conn.NewMessage(busx.LogRecord(), reason, false))
	}

	if action == 0 {
		return blind
	}

	newPos := mathx.Clamp(outletPos+action, 0, 100)
	newPos = clampOutletForSetpoint(newPos, sp, fs)
	if math.Abs(newPos-outletPos) > 0.1 {
		_ = c.writeOutlet(newPos)
	}
	return false
}

func (c *Controller) estopped() bool {
	select {
	case <-c.estop:
		return true
	default:
		return false
	}
}

// updateOscillationCounters implements spec.md §4.4's pressure
// oscillation counter: only updated while near setpoint and not blind.
func (c *Controller) updateOscillationCounters(nearSetpoint, blind bool, stdevPressure, sp, fs float64) {
	if !nearSetpoint || blind {
		return
	}
	threshold := sp*oscThresholdSPFrac + fs*oscThresholdFSFrac
	c.mu.Lock()
	defer c.mu.Unlock()
	if stdevPressure > threshold {
		if c.oscillationCounter < oscillationCounterCap {
			c.oscillationCounter++
		}
		c.adaptiveState = OscillationCooldown
	} else {
		if c.oscillationCounter > 0 {
			c.oscillationCounter--
		}
		if c.oscillationCounter == 0 && c.adaptiveState == OscillationCooldown {
			c.adaptiveState = Quiescent
		}
	}
}

func (c *Controller) updateInletOscillationCounter() {
	if !c.inletPosHistory.Full() {
		return
	}
	stdev := c.inletPosHistory.Stdev()
	c.mu.Lock()
	defer c.mu.Unlock()
	if stdev > inletOscStdevPct {
		if c.inletOscillationCounter < inletOscCounterCap {
			c.inletOscillationCounter++
		}
	} else {
		c.inletOscillationCounter = 0
	}
}

func (c *Controller) updateNearClosedCounter(inletPos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inletPos > 99.5 {
		if c.nearClosedCounter < nearClosedCounterCap {
			c.nearClosedCounter++
		}
	} else {
		c.nearClosedCounter = 0
	}
}

// decide applies spec.md §4.4's priority table and returns the outlet
// delta to apply (0 means hold) plus the log_reason string.
func (c *Controller) decide(errVal, inletPos, outletPos float64, pressureStable, blind bool, sp, prevSP float64) (float64, string) {
	c.mu.Lock()
	oscCounter := c.oscillationCounter
	inletOscCounter := c.inletOscillationCounter
	nearClosed := c.nearClosedCounter
	cooldown := c.adaptiveState == OscillationCooldown
	maxSlope := c.maxSlopeHold
	c.mu.Unlock()

	fs := c.fs

	// Priority 1: pressure oscillation.
	if oscCounter >= 2 {
		c.mu.Lock()
		c.oscillationCounter = 0
		c.mu.Unlock()
		if errVal > emergencyDescentErrorFrac*fs {
			return -2.0, "emergency_descent"
		}
		return -0.2, "oscillation"
	}

	// Priority 2: inlet oscillation.
	if inletOscCounter >= 3 {
		c.mu.Lock()
		c.inletOscillationCounter = 0
		c.mu.Unlock()
		return -0.2, "inlet_oscillation"
	}

	// Priority 3: leak-up.
	if inletPos < 1.0 && errVal > 0.1 {
		return 0.2, "leak_up"
	}

	// Priority 4: stuck high.
	if pressureStable && errVal > 0.2 && !blind && !cooldown {
		return 0.5, "stuck_high"
	}

	// Priority 5: overworked inlet.
	if inletPos < 75 && !cooldown && !blind {
		opening := c.inletIsOpening(inletPos)
		if opening {
			c.mu.Lock()
			c.maxSlopeHold = true
			c.adaptiveState = MaxSlopeHold
			c.mu.Unlock()
			return 0, "inlet_overworked_max_slope"
		}
		return -0.5, "inlet_overworked"
	}

	// Priority 6: near-closed recovery.
	if nearClosed >= nearClosedCounterCap && sp > 0 && prevSP != 0 {
		c.mu.Lock()
		c.nearClosedCounter = 0
		c.mu.Unlock()
		if errVal > 0.01*fs {
			return 1.0, "near_closed_recovery_large"
		}
		return 0.5, "near_closed_recovery"
	}

	if maxSlope {
		if pressureStable && errVal > 0.1 {
			c.mu.Lock()
			c.maxSlopeHold = false
			if c.adaptiveState == MaxSlopeHold {
				c.adaptiveState = Quiescent
			}
			c.mu.Unlock()
			return 0, "max_slope_release"
		}
		return 0, "max_slope_hold"
	}

	return 0, "hold"
}

// inletIsOpening reports whether the inlet position has been decreasing
// (moving toward fully open) by more than 0.1 over its history, the
// "currently opening" test for priority 5.
func (c *Controller) inletIsOpening(currentInletPos float64) bool {
	samples := c.inletPosHistory.Samples()
	if len(samples) < 2 {
		return false
	}
	return samples[0]-currentInletPos > 0.1
}

// clampOutletForSetpoint applies spec.md §4.4's dynamic outlet clamp
// table, keyed by setpoint-as-percent-of-FS.
func clampOutletForSetpoint(pos, sp, fs float64) float64 {
	pct := sp / fs * 100
	var lo, hi float64
	switch {
	case pct <= 10:
		lo, hi = 5.0, 85.0
	case pct <= 40:
		lo, hi = 15.0, 50.0
	case pct < 90:
		lo, hi = 22.0, 35.0
	default:
		lo, hi = 22.0, 40.0
	}
	return mathx.Clamp(pos, lo, hi)
}
