package sequencer

import "math"

// Sample is one valid (standard, DUT) pressure pair contributing to a
// DUT's post-run regression.
type Sample struct {
	Standard float64
	DUT      float64
}

// Diagnosis is the post-run analysis result for one DUT, per spec.md
// §4.5's post-run analysis.
type Diagnosis struct {
	InsufficientData bool
	Slope            float64
	Intercept        float64
	MaxResidual      float64

	ZeroOffsetSignificant bool
	SpanErrorSignificant  bool
	LinearitySignificant  bool
}

// Pass reports whether none of the three significance flags tripped.
func (d Diagnosis) Pass() bool {
	return !d.InsufficientData && !d.ZeroOffsetSignificant && !d.SpanErrorSignificant && !d.LinearitySignificant
}

// Suggestions renders a textual diagnosis keyed to which flags tripped,
// for the operator-facing failure report. Supplements the distilled
// spec, whose original source generates similar tuning-suggestion text
// for a failing DUT rather than a bare pass/fail.
func (d Diagnosis) Suggestions() []string {
	if d.InsufficientData {
		return []string{"insufficient data: fewer than 3 valid (standard, DUT) pairs were recorded"}
	}
	var out []string
	if d.ZeroOffsetSignificant {
		out = append(out, "zero offset exceeds tolerance: check DUT zero adjustment or transducer seating")
	}
	if d.SpanErrorSignificant {
		out = append(out, "span error exceeds tolerance: recalibrate DUT span against the standard")
	}
	if d.LinearitySignificant {
		out = append(out, "linearity error exceeds tolerance: inspect DUT for nonlinear drift across the range")
	}
	return out
}

// Analyze fits dut = slope*std + intercept via ordinary least squares
// over samples and evaluates the three significance flags against dutFS,
// per spec.md §4.5's post-run analysis.
func Analyze(samples []Sample, dutFS float64) Diagnosis {
	if len(samples) < 3 {
		return Diagnosis{InsufficientData: true}
	}

	slope, intercept := ols(samples)

	maxResidual := 0.0
	for _, s := range samples {
		predicted := slope*s.Standard + intercept
		residual := math.Abs(s.DUT - predicted)
		if residual > maxResidual {
			maxResidual = residual
		}
	}

	return Diagnosis{
		Slope:                 slope,
		Intercept:             intercept,
		MaxResidual:           maxResidual,
		ZeroOffsetSignificant: math.Abs(intercept) > dutFS*0.001,
		SpanErrorSignificant:  math.Abs(1-slope) > 0.005,
		LinearitySignificant:  maxResidual > dutFS*0.002,
	}
}

// ols fits a straight line y = slope*x + intercept by ordinary least
// squares.
func ols(samples []Sample) (slope, intercept float64) {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		sumX += s.Standard
		sumY += s.DUT
		sumXY += s.Standard * s.DUT
		sumXX += s.Standard * s.Standard
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
