package sequencer

import (
	"context"
	"math"
	"strconv"
	"time"

	"pressurecal/busx"
	"pressurecal/control"
	"pressurecal/daq"
	"pressurecal/errcode"
	"pressurecal/learnstore"
	"pressurecal/model"
	"pressurecal/resultlog"
)

const (
	stabilityPollPeriod = 500 * time.Millisecond // 2 Hz, spec.md §4.5 step 3
	stabilityConfirm    = 3 * time.Second
	overrideWait        = 20 * time.Second
	sampleWindowPeriod  = 200 * time.Millisecond // 5 Hz
)

// sampleWindowDuration is the spec.md §4.5 step 4 measurement window
// length. A var, not a const, so tests can shrink it without waiting on
// real time, mirroring control.transitionSettleDuration.
var sampleWindowDuration = 5 * time.Second

// Sequencer drives the pressure controller and DAQ reader through the
// composite setpoint list, waits for stability at each one, logs a
// sample window, and updates the learned-position store, per spec.md
// §4.5. Grounded on the teacher's services/bridge.Service shape: one
// long-lived task owning its own state, blocking via cancelable sleeps,
// never holding a serial lock across one.
type Sequencer struct {
	controller *control.Controller
	daq        daq.Reader
	store      *learnstore.Store
	results    *resultlog.ResultWriter
	conn       *busx.Connection

	standardFS float64
	duts       []DUT

	samples map[int][]Sample // channel -> accumulated (standard, dut) pairs across the run
}

// New builds a Sequencer for one calibration run.
func New(c *control.Controller, d daq.Reader, store *learnstore.Store, results *resultlog.ResultWriter, conn *busx.Connection, standardFS float64, duts []DUT) *Sequencer {
	return &Sequencer{
		controller: c,
		daq:        d,
		store:      store,
		results:    results,
		conn:       conn,
		standardFS: standardFS,
		duts:       duts,
		samples:    make(map[int][]Sample),
	}
}

// Run executes the full setpoint list in order, returning early if the
// context is canceled or the controller is e-stopped between setpoints.
func (s *Sequencer) Run(ctx context.Context) error {
	setpoints := GenerateSetpoints(s.standardFS, s.duts)

	for _, sp := range setpoints {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.controller.EStopped() {
			return errcode.Wrap("sequencer.Run", errcode.EmergencyStop, nil)
		}

		active := s.activeDUTs(sp)
		if len(active) == 0 {
			break
		}

		if err := s.runSetpoint(ctx, sp, active); err != nil {
			return err
		}
	}

	if err := s.results.Flush(); err != nil {
		return err
	}
	return s.store.Save()
}

// activeDUTs returns the DUTs not yet complete at sp (spec.md §4.5 step 1).
func (s *Sequencer) activeDUTs(sp float64) []DUT {
	var active []DUT
	for _, d := range s.duts {
		if !IsComplete(sp, d.FS) {
			active = append(active, d)
		}
	}
	return active
}

func (s *Sequencer) runSetpoint(ctx context.Context, sp float64, active []DUT) error {
	if err := s.command(sp); err != nil {
		return err
	}

	if err := s.waitForStability(ctx, sp, active); err != nil {
		return err
	}

	row := model.NewResultRow(sp)
	meanStandard, dutMeans, err := s.sampleWindow(active)
	if err != nil {
		return err
	}
	row.MeanStandard = meanStandard

	if math.IsNaN(meanStandard) {
		return nil
	}

	for ch, mean := range dutMeans {
		row.MeanDUT[ch] = mean
	}
	s.results.Append(row)

	if sp > 0 {
		_, outletPos := s.controller.ValvePositions()
		if pos, valid := outletPos.Get(); valid {
			s.store.Learn(s.standardFS, sp, pos)
		}
	}

	for _, d := range active {
		mean, ok := dutMeans[d.Channel]
		if !ok || math.IsNaN(mean) {
			continue
		}
		s.samples[d.Channel] = append(s.samples[d.Channel], Sample{Standard: meanStandard, DUT: mean})

		errVal := mean - meanStandard
		if math.Abs(errVal) > d.FS*0.005 {
			s.conn.Publish(s.conn.NewMessage(busx.LogRecord(), outOfToleranceWarning(sp, d, errVal), false))
		}
	}

	return nil
}

func (s *Sequencer) command(sp float64) error {
	if sp == 0 {
		return s.controller.SetPressure(0, model.None[float64]())
	}
	predicted := model.None[float64]()
	if pos, ok := s.store.Predict(s.standardFS, sp); ok {
		predicted = model.Some(pos)
	}
	return s.controller.SetPressure(sp, predicted)
}

// waitForStability implements spec.md §4.5 step 3's 2 Hz stability loop,
// including the 20 s out-of-tolerance operator-override solicitation.
func (s *Sequencer) waitForStability(ctx context.Context, sp float64, active []DUT) error {
	tolerance := PriorityTolerance(sp, s.standardFS, active)

	var stableSince time.Time
	var outOfToleranceSince time.Time

	ticker := time.NewTicker(stabilityPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.controller.EStopped() {
			return errcode.Wrap("sequencer.waitForStability", errcode.EmergencyStop, nil)
		}
		if !s.controller.PressureHistoryFull() {
			stableSince = time.Time{}
			outOfToleranceSince = time.Time{}
			continue
		}

		stable := s.controller.PressureHistoryStdev() < s.standardFS*0.0003
		if !stable {
			stableSince = time.Time{}
			outOfToleranceSince = time.Time{}
			continue
		}

		mean := s.controller.PressureHistoryMean()
		if math.Abs(mean-sp) <= tolerance {
			outOfToleranceSince = time.Time{}
			if stableSince.IsZero() {
				stableSince = time.Now()
			}
			if time.Since(stableSince) >= stabilityConfirm {
				return nil
			}
			continue
		}

		stableSince = time.Time{}
		if outOfToleranceSince.IsZero() {
			outOfToleranceSince = time.Now()
			continue
		}
		if time.Since(outOfToleranceSince) < overrideWait {
			continue
		}

		accept, err := s.solicitOverride(ctx, sp, mean)
		if err != nil {
			return err
		}
		if accept {
			return nil
		}
		outOfToleranceSince = time.Time{}
	}
}

// solicitOverride asks an external operator-facing collaborator whether
// to proceed despite being stable-but-out-of-tolerance, per spec.md §7's
// StabilityRequiresOverride disposition.
func (s *Sequencer) solicitOverride(ctx context.Context, sp, current float64) (bool, error) {
	req := s.conn.NewMessage(busx.StabilityOverride(), overridePrompt{Setpoint: sp, Current: current}, false)
	reply, err := s.conn.RequestWait(ctx, req)
	if err != nil {
		return false, errcode.Wrap("sequencer.solicitOverride", errcode.StabilityRequiresOverride, err)
	}
	accept, _ := reply.Payload.(bool)
	return accept, nil
}

type overridePrompt struct {
	Setpoint float64
	Current  float64
}

func outOfToleranceWarning(sp float64, d DUT, errVal float64) string {
	return "setpoint " + ftoa(sp) + " channel " + strconv.Itoa(d.Channel) + " out of tolerance, error=" + ftoa(errVal)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// sampleWindow implements spec.md §4.5 step 4: freeze the outlet valve,
// accumulate 5 s of readings at 5 Hz, unfreeze, and return the means.
func (s *Sequencer) sampleWindow(active []DUT) (float64, map[int]float64, error) {
	s.controller.SetHoldOutletValve(true)
	defer s.controller.SetHoldOutletValve(false)

	var standardReadings []float64
	dutReadings := make(map[int][]float64, len(active))

	ticker := time.NewTicker(sampleWindowPeriod)
	defer ticker.Stop()

	deadline := time.Now().Add(sampleWindowDuration)
	for time.Now().Before(deadline) {
		<-ticker.C
		if s.controller.EStopped() {
			return math.NaN(), nil, errcode.Wrap("sequencer.sampleWindow", errcode.EmergencyStop, nil)
		}
		if v, ok := s.controller.CurrentPressure().Get(); ok {
			standardReadings = append(standardReadings, v)
		}
		for _, d := range active {
			voltage := s.daq.Read(d.Channel)
			dutReadings[d.Channel] = append(dutReadings[d.Channel], dutPressure(voltage, d.FS))
		}
	}

	meanStandard := meanOrNaN(standardReadings)
	means := make(map[int]float64, len(dutReadings))
	for ch, vs := range dutReadings {
		means[ch] = meanOrNaN(vs)
	}
	return meanStandard, means, nil
}

func meanOrNaN(vs []float64) float64 {
	if len(vs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// Diagnose runs the post-run analysis for every configured DUT (a DUT
// with fewer than 3 accumulated samples gets an InsufficientData
// diagnosis) and publishes a certificate signal for each pass, per
// spec.md §4.5's post-run analysis.
func (s *Sequencer) Diagnose() map[int]Diagnosis {
	out := make(map[int]Diagnosis, len(s.samples))
	for _, d := range s.duts {
		samples := s.samples[d.Channel]
		diag := Analyze(samples, d.FS)
		out[d.Channel] = diag
		if diag.Pass() {
			s.conn.Publish(s.conn.NewMessage(busx.CertificateSignal(), d.Channel, false))
		}
	}
	return out
}
