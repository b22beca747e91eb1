// Package turbo monitors the turbo-molecular pump controller: it polls a
// comma-separated status frame every 500ms, decodes it into a stable
// Status view, and exposes fire-and-forget lifecycle commands. Modeled on
// the teacher's HAL device-loop shape (internal/core/loop.go) — a single
// owned goroutine, retained status published over the bus rather than
// handed back through callbacks — simplified to the turbo monitor's one
// fixed-interval poll instead of the HAL's heap-scheduled multi-poller.
package turbo

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"pressurecal/busx"
	"pressurecal/model"
	"pressurecal/transport"
)

const (
	pollInterval = 500 * time.Millisecond

	standbyThreshold = 12000.0
	nominalThreshold = 27000.0

	rpmWarningDropEnter = 4500.0
	rpmWarningDropClear = 1000.0
	rpmWarningArmRPM    = 20000.0
)

// Monitor owns the turbo controller's serial endpoint and publishes its
// decoded status as a retained bus message every poll.
type Monitor struct {
	port *transport.Port
	conn *busx.Connection

	mu         sync.RWMutex
	status     model.TurboStatus
	lastRPM    float64
	rpmWarning bool
}

// NewMonitor wraps port (already Init'd by the caller) and a bus
// connection used to publish Status() as retained telemetry.
func NewMonitor(port *transport.Port, conn *busx.Connection) *Monitor {
	return &Monitor{port: port, conn: conn}
}

// Run polls the status frame every 500ms until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Monitor) pollOnce() {
	reply, err := m.port.Query("#000STA")
	if err != nil {
		// transport-level errors stay local: dropped without logging,
		// never fatal to the poll loop; the next tick retries.
		return
	}
	raw, ok := reply.Get()
	if !ok {
		return
	}
	status, ok := m.decode(raw)
	if !ok {
		return
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	m.conn.Publish(m.conn.NewMessage(busx.Telemetry(), status, true))
}

// decode parses the comma-separated status frame per spec.md §4.2:
// fields by position are status-bits, fault-bits, rpm, pump temp,
// controller temp.
func (m *Monitor) decode(raw string) (model.TurboStatus, bool) {
	fields := strings.Split(raw, ",")
	if len(fields) < 5 {
		return model.TurboStatus{}, false
	}
	statusBits := strings.TrimSpace(fields[0])
	faultBits := strings.TrimSpace(fields[1])
	rpm, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return model.TurboStatus{}, false
	}
	pumpTemp, _ := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	ctrlTemp, _ := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)

	isOn := bitAt(statusBits, 2) == '1'
	speedReached := bitAt(statusBits, 3) == '1'
	standbySelected := bitAt(statusBits, 4) == '1'
	fault := strings.ContainsRune(faultBits, '1')

	var decelerating, atSpeed, accelerating bool
	switch {
	case isOn && standbySelected && rpm > standbyThreshold*1.015:
		decelerating = true
	case isOn && speedReached:
		atSpeed = true
	case isOn:
		accelerating = true
	}

	m.updateRPMWarning(rpm)

	return model.TurboStatus{
		IsOn:           isOn,
		AtSpeed:        atSpeed,
		Standby:        standbySelected,
		Accelerating:   accelerating,
		Decelerating:   decelerating,
		Fault:          fault,
		RPMWarning:     m.rpmWarningLocked(),
		RPM:            rpm,
		PumpTemp:       pumpTemp,
		ControllerTemp: ctrlTemp,
	}, true
}

// updateRPMWarning implements the latch described in spec.md §3/§4.2: it
// arms on a sudden large drop from a high RPM and only clears once the
// subsequent drop is small, rather than re-evaluating fresh every poll.
func (m *Monitor) updateRPMWarning(rpm float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := m.lastRPM - rpm
	if m.lastRPM > rpmWarningArmRPM && drop > rpmWarningDropEnter {
		m.rpmWarning = true
	} else if drop < rpmWarningDropClear {
		m.rpmWarning = false
	}
	m.lastRPM = rpm
}

func (m *Monitor) rpmWarningLocked() bool {
	return m.rpmWarning
}

func bitAt(s string, i int) byte {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// Status returns the most recently decoded snapshot.
func (m *Monitor) Status() model.TurboStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Start issues the pump-start command.
func (m *Monitor) Start() error { return m.port.Write("#000TMPON") }

// Stop issues the pump-stop command.
func (m *Monitor) Stop() error { return m.port.Write("#000TMPOFF") }

// Standby issues the standby-speed command.
func (m *Monitor) Standby() error { return m.port.Write("#000SBY") }

// Nominal issues the nominal-speed command.
func (m *Monitor) Nominal() error { return m.port.Write("#000NSP") }

// ReadyResult is the outcome of WaitReady.
type ReadyResult int

const (
	ReadyOK ReadyResult = iota
	ReadyCanceled
	ReadyEStop
)

// WaitReady blocks, periodically re-issuing Nominal, until the pump
// reaches at-speed-and-not-standby, or until ctx is done or estop fires.
// estop is a channel that is closed to signal an emergency stop, matching
// the e-stop-as-closed-channel pattern used across the control package.
func (m *Monitor) WaitReady(ctx context.Context, estop <-chan struct{}) ReadyResult {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st := m.Status()
		if st.AtSpeed && !st.Standby {
			return ReadyOK
		}
		_ = m.Nominal()
		select {
		case <-ctx.Done():
			return ReadyCanceled
		case <-estop:
			return ReadyEStop
		case <-ticker.C:
		}
	}
}
