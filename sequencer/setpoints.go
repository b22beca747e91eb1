// Package sequencer implements the automated calibration sequencer
// (spec.md §4.5): it generates the composite setpoint list, drives the
// pressure controller through it, waits for stability, logs N-second
// sample windows, updates the learned-position cache, and emits a
// post-run per-DUT tuning diagnosis.
package sequencer

import (
	"math"
	"sort"
)

// DUT is one active device under test tracked by the sequencer.
type DUT struct {
	Channel int
	FS      float64
}

// GenerateSetpoints composes the union of {0,10,...,100}% of the
// standard's FS and {0,10,...,100}% of each active DUT's fs, deduplicated
// by rounding to two decimals and sorted ascending, per spec.md §4.5.
func GenerateSetpoints(standardFS float64, duts []DUT) []float64 {
	seen := map[float64]bool{}
	var out []float64

	add := func(fs float64) {
		for pct := 0; pct <= 100; pct += 10 {
			v := round2(fs * float64(pct) / 100)
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}

	add(standardFS)
	for _, d := range duts {
		add(d.FS)
	}

	sort.Float64s(out)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// IsComplete reports whether a DUT is done receiving readings at sp, per
// spec.md §4.5 step 1: complete once sp exceeds 1.05x its full scale.
func IsComplete(sp float64, dutFS float64) bool {
	return sp > 1.05*dutFS
}

// PriorityTolerance is the tightest allowed deviation at a setpoint
// (spec.md §4.5 step 3): the minimum of 0.5% of each relevant (not yet
// complete) DUT's fs, or 0.5% of the standard FS if none are relevant.
func PriorityTolerance(sp, standardFS float64, duts []DUT) float64 {
	best := math.Inf(1)
	for _, d := range duts {
		if IsComplete(sp, d.FS) {
			continue
		}
		tol := d.FS * 0.005
		if tol < best {
			best = tol
		}
	}
	if math.IsInf(best, 1) {
		return standardFS * 0.005
	}
	return best
}

// dutPressure converts a DUT's smoothed voltage reading to Torr, per
// spec.md §3: voltage * (dut_fs / 10.0).
func dutPressure(voltage, dutFS float64) float64 {
	return voltage * (dutFS / 10.0)
}
