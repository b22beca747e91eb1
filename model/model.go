// Package model holds the data types shared across the calibration
// platform: controller configuration, setpoints, valve positions, turbo
// status and DUT sample/result records, as specified in spec.md §3.
package model

import "math"

// DUTConfig describes one active device under test.
type DUTConfig struct {
	Channel int     `yaml:"channel"` // 0..3
	FS      float64 `yaml:"fs"`      // Torr
}

// Config is the immutable, session-scoped controller configuration.
type Config struct {
	FS           float64     `yaml:"fs"`            // standard full-scale, Torr
	InletPort    string      `yaml:"inlet_port"`
	OutletPort   string      `yaml:"outlet_port"`
	TurboPort    string      `yaml:"turbo_port"`
	DAQAddr      string      `yaml:"daq_addr"` // host:port
	DUTs         []DUTConfig `yaml:"duts"`
	LearnedStore string      `yaml:"learned_store_path"`
	ResultPath   string      `yaml:"result_path"`
}

// ValvePosition is a percent-of-output reading in [0, 100].
// Inlet is "inverse" (100 = closed); outlet is "direct" (100 = fully open).
type ValvePosition = float64

// Pressure is a Torr value derived from the inlet controller's reported
// percent-of-FS process value.
type Pressure = float64

// Setpoint is a non-negative Torr target; 0 is the distinguished
// pump-to-vacuum state.
type Setpoint = float64

// TurboStatus is the decoded, non-latched (except RPMWarning) view of the
// turbo pump controller's status frame, per spec.md §3/§4.2.
type TurboStatus struct {
	IsOn           bool
	AtSpeed        bool
	Standby        bool
	Accelerating   bool
	Decelerating   bool
	Fault          bool
	RPMWarning     bool
	RPM            float64
	PumpTemp       float64
	ControllerTemp float64
}

// DUTSample is the most recent smoothed voltage and derived pressure for
// one active DUT channel.
type DUTSample struct {
	Channel  int
	Voltage  float64
	Pressure float64 // voltage * (dut_fs/10.0)
}

// ResultRow is one logged setpoint's averaged readings, per spec.md §3.
// Missing DUT readings are NaN.
type ResultRow struct {
	Setpoint        float64
	MeanStandard    float64
	MeanDUT         [4]float64
}

// NewResultRow returns a row with all DUT means initialized to NaN, the
// "missing reading" sentinel spec.md §3 specifies.
func NewResultRow(sp float64) ResultRow {
	r := ResultRow{Setpoint: sp}
	for i := range r.MeanDUT {
		r.MeanDUT[i] = math.NaN()
	}
	return r
}

// ManualCommand is one operator-console action dispatched over
// busx.ManualCommand(), per spec.md §5's one-shot manual worker task.
type ManualCommand struct {
	Action string // "set_pressure", "set_outlet_position", "estop", "resume"
	Arg    float64
}
