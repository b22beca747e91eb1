// Package ramp implements cancelable stepped transitions between two
// levels, used for the outlet valve ramp in the pump-to-vacuum sequence
// (spec.md §4.4): "ramp outlet from 2% to 20% in ten 1-s steps... ramp
// 20→25% in ten 0.5-step 1-s increments." Adapted from the teacher's
// integer Q16 ramp helper, generalized to float64 valve percentages and
// driven by a caller-supplied per-step e-stop check.
package ramp

import (
	"time"

	"pressurecal/x/mathx"
)

// Step applies a new level in [0, top].
type Step func(level float64)

// Tick waits for d and reports whether to continue (false => cancelled,
// e.g. by an e-stop check).
type Tick func(d time.Duration) bool

// Linear steps from cur to to over n equal steps spaced stepDur apart,
// clamped to [0, top]. n==0 snaps directly to 'to'. Returns false if the
// caller's Tick cancelled the ramp partway through.
func Linear(cur, to, top float64, n int, stepDur time.Duration, tick Tick, set Step) bool {
	if n <= 0 {
		set(mathx.Clamp(to, 0, top))
		return true
	}
	delta := (to - cur) / float64(n)
	level := cur
	for i := 0; i < n; i++ {
		if !tick(stepDur) {
			return false
		}
		level = mathx.Clamp(level+delta, 0, top)
		if i == n-1 {
			level = mathx.Clamp(to, 0, top)
		}
		set(level)
	}
	return true
}
