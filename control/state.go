// Package control implements the dual-valve closed-loop pressure
// controller (spec.md §4.4), the core of this repository: it transitions
// safely between setpoints including the vacuum-start/return cases,
// adaptively corrects the outlet valve to hold pressure stable, detects
// and suppresses oscillation and other failure modes, and honors an
// emergency stop that every loop observes. Concurrency follows the
// teacher's services/bridge.Service shape — a struct holding a mutex
// around scalar fields plus owned goroutines — generalized from one
// supervised link to three cooperating loops (poller, adaptive loop,
// command path).
package control

import (
	"sync"
	"time"

	"pressurecal/busx"
	"pressurecal/model"
	"pressurecal/transport"
	"pressurecal/x/ring"
)

// SetpointState is the explicit setpoint lifecycle spec.md §9 asks for,
// replacing the source's implicit flags-and-counters encoding.
type SetpointState int

const (
	Idle SetpointState = iota
	Transitioning
	Holding
	Measuring
	PumpingDown
	VacuumHold
	Halted
)

func (s SetpointState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transitioning:
		return "transitioning"
	case Holding:
		return "holding"
	case Measuring:
		return "measuring"
	case PumpingDown:
		return "pumping_down"
	case VacuumHold:
		return "vacuum_hold"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// AdaptiveSubstate is the adaptive loop's own state, orthogonal to the
// setpoint lifecycle.
type AdaptiveSubstate int

const (
	Quiescent AdaptiveSubstate = iota
	OscillationCooldown
	MaxSlopeHold
	BlindAfterTransition
)

func (s AdaptiveSubstate) String() string {
	switch s {
	case Quiescent:
		return "quiescent"
	case OscillationCooldown:
		return "oscillation_cooldown"
	case MaxSlopeHold:
		return "max_slope_hold"
	case BlindAfterTransition:
		return "blind_after_transition"
	default:
		return "unknown"
	}
}

const (
	pollPeriod     = 200 * time.Millisecond
	adaptivePeriod = 3 * time.Second
	historyDepth   = 10
	blindWindow    = 10 * time.Second
)

// Controller owns the inlet and outlet transports and drives the pressure
// state machine. All scalar fields below are guarded by mu; the two
// endpoint transports carry their own internal locks for I/O (spec.md §5).
type Controller struct {
	inlet  *transport.Port
	outlet *transport.Port
	conn   *busx.Connection
	fs     float64

	mu sync.Mutex

	state         SetpointState
	adaptiveState AdaptiveSubstate

	currentPressure  model.Option[float64]
	pressureHistory  *ring.Float64
	inletValvePos    model.Option[float64]
	inletPosHistory  *ring.Float64
	outletValvePos   model.Option[float64]
	systemSetpoint   float64
	previousSetpoint float64

	holdOutletValve      bool
	holdAllValves        bool
	manualOverrideActive bool
	turboReady           bool

	oscillationCounter      int
	inletOscillationCounter int
	nearClosedCounter       int
	logReason               string

	blindActive   bool
	blindDeadline time.Time
	maxSlopeHold  bool

	estop     chan struct{}
	estopOnce sync.Once
	resumeMu  sync.Mutex
}

// NewController wires a controller around already-initialized inlet and
// outlet transports for a session with the given full-scale pressure.
func NewController(inlet, outlet *transport.Port, conn *busx.Connection, fs float64) *Controller {
	return &Controller{
		inlet:           inlet,
		outlet:          outlet,
		conn:            conn,
		fs:              fs,
		state:           Idle,
		pressureHistory: ring.NewFloat64(historyDepth),
		inletPosHistory: ring.NewFloat64(historyDepth),
		estop:           make(chan struct{}),
		turboReady:      true,
	}
}

// State returns the current setpoint lifecycle state.
func (c *Controller) State() SetpointState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentPressure returns the most recent pressure reading, if any.
func (c *Controller) CurrentPressure() model.Option[float64] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPressure
}

// ValvePositions returns the last-read inlet and outlet positions.
func (c *Controller) ValvePositions() (model.Option[float64], model.Option[float64]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inletValvePos, c.outletValvePos
}

// SetHoldOutletValve freezes or unfreezes the outlet valve for the
// sequencer's measurement window (spec.md §4.5 step 4), advancing the
// setpoint state to Measuring while held and back to Holding once
// released.
func (c *Controller) SetHoldOutletValve(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdOutletValve = hold
	if hold {
		c.state = Measuring
	} else if c.state == Measuring {
		c.state = Holding
	}
}

// SetManualOverride marks whether an operator is directly driving a valve
// outside the adaptive loop (spec.md §4.4 responsibility 4): while set,
// adaptiveTick skips so it doesn't fight the manual command. Engaged by
// SetOutletPositionManual and cleared again by SetPressure, which hands
// authority back to automatic control.
func (c *Controller) SetManualOverride(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualOverrideActive = active
}

// SetTurboReady records whether the turbo pump is at speed and not on
// standby. While false, adaptiveTick skips, per spec.md §4.4
// responsibility 4 ("suspend adaptive action ... during ... turbo
// unreadiness") and the §2 data-flow note that adaptive control holds
// during pump unreadiness. Defaults to true at construction since
// main's startup WaitReady already gates the first adaptive tick.
func (c *Controller) SetTurboReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turboReady = ready
}

// EStopChan returns the channel that closes when EStop is triggered, for
// callers (e.g. turbo.WaitReady) that need to observe it directly. The
// channel identity changes on Resume, so long-lived callers should
// re-fetch it after a resume rather than caching it indefinitely.
func (c *Controller) EStopChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estop
}

// sleepCancelable waits for d, returning false early if e-stop fires,
// mirroring the teacher's ctx-cancelable sleep helper in services/bridge.
func (c *Controller) sleepCancelable(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.EStopChan():
		return false
	case <-t.C:
		return true
	}
}
