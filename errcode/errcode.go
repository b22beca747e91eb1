// Package errcode defines the calibration platform's error taxonomy, per
// spec.md §7. Adapted from the teacher's bus-facing error code package:
// a comparable string newtype plus an optional cause-carrying wrapper.
package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes, mirroring spec.md §7's error taxonomy.
const (
	TransportTimeout          Code = "transport_timeout"
	Unparseable               Code = "unparseable"
	OutOfRangeInput           Code = "out_of_range_input"
	PumpDownTimeout           Code = "pump_down_timeout"
	StabilityRequiresOverride Code = "stability_requires_override"
	TurboUnready              Code = "turbo_unready"
	EmergencyStop             Code = "emergency_stop"
	LostLink                  Code = "lost_link"

	Error Code = "error" // generic fallback
)

// E wraps a Code with context and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + string(e.C) + ": " + e.Msg
	}
	return e.Op + ": " + string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an *E attributing op/cause to a code.
func Wrap(op string, c Code, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Surfaced reports whether spec.md §7's propagation policy surfaces this
// code to the operator, rather than only logging it.
func Surfaced(c Code) bool {
	switch c {
	case EmergencyStop, PumpDownTimeout, StabilityRequiresOverride:
		return true
	default:
		return false
	}
}
