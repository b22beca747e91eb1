package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampOutletForSetpoint(t *testing.T) {
	cases := []struct {
		pos, sp, fs, want float64
	}{
		{1, 5, 100, 5.0},     // <=10% of FS, below floor -> clamped up
		{90, 5, 100, 85.0},   // <=10% of FS, above ceiling -> clamped down
		{10, 30, 100, 15.0},  // <=40% of FS
		{60, 30, 100, 50.0},  // <=40% of FS
		{10, 60, 100, 22.0},  // <90% of FS
		{40, 60, 100, 35.0},  // <90% of FS
		{10, 95, 100, 22.0},  // >=90% of FS
		{50, 95, 100, 40.0},  // >=90% of FS
	}
	for _, c := range cases {
		got := clampOutletForSetpoint(c.pos, c.sp, c.fs)
		require.InDelta(t, c.want, got, 1e-9)
	}
}

func TestClampInvariant_AlwaysWithinRangeForAnyInput(t *testing.T) {
	for _, sp := range []float64{0.1, 5, 10, 25, 50, 75, 90, 95, 100} {
		for _, pos := range []float64{-10, 0, 5, 22, 50, 85, 100, 150} {
			got := clampOutletForSetpoint(pos, sp, 100)
			require.GreaterOrEqual(t, got, 5.0)
			require.LessOrEqual(t, got, 85.0)
		}
	}
}

// S2: oscillation. stdev 0.5 on a pressure history centered at 50 exceeds
// threshold sp*0.003 + fs*0.0008 = 0.23; two ticks should drive the
// oscillation counter to 2 and issue a -0.2 outlet move.
func TestDecide_S2_Oscillation(t *testing.T) {
	c, _, _ := newTestController(100)
	c.systemSetpoint = 50

	c.updateOscillationCounters(true, false, 0.5, 50, 100)
	require.Equal(t, 1, c.oscillationCounter)
	c.updateOscillationCounters(true, false, 0.5, 50, 100)
	require.Equal(t, 2, c.oscillationCounter)

	action, reason := c.decide(0, 30, 25, false, false, 50, 50)
	require.Equal(t, "oscillation", reason)
	require.InDelta(t, -0.2, action, 1e-9)
}

// S3: emergency descent. Same oscillation trigger but error = 10 > 0.05*FS.
func TestDecide_S3_EmergencyDescent(t *testing.T) {
	c, _, _ := newTestController(100)
	c.systemSetpoint = 50
	c.updateOscillationCounters(true, false, 0.5, 50, 100)
	c.updateOscillationCounters(true, false, 0.5, 50, 100)

	action, reason := c.decide(10, 30, 25, false, false, 50, 50)
	require.Equal(t, "emergency_descent", reason)
	require.InDelta(t, -2.0, action, 1e-9)
}

// S4: leak-up. inlet almost fully open, pressure slightly above setpoint.
func TestDecide_S4_LeakUp(t *testing.T) {
	c, _, _ := newTestController(100)
	action, reason := c.decide(0.5, 0.5, 25, false, false, 50, 50)
	require.Equal(t, "leak_up", reason)
	require.InDelta(t, 0.2, action, 1e-9)
}

func TestDecide_StuckHigh(t *testing.T) {
	c, _, _ := newTestController(100)
	action, reason := c.decide(0.3, 50, 25, true, false, 50, 50)
	require.Equal(t, "stuck_high", reason)
	require.InDelta(t, 0.5, action, 1e-9)
}

func TestDecide_Hold_WhenNoConditionMatches(t *testing.T) {
	c, _, _ := newTestController(100)
	action, reason := c.decide(0, 80, 25, false, false, 50, 50)
	require.Equal(t, "hold", reason)
	require.Equal(t, 0.0, action)
}

func TestHoldInvariant_AdaptiveTickSkipsWhenHoldOutletValve(t *testing.T) {
	c, _, outletLink := newTestController(100)
	c.systemSetpoint = 50
	c.currentPressure.Valid = true
	c.currentPressure.Value = 50
	c.inletValvePos.Valid = true
	c.inletValvePos.Value = 50
	c.outletValvePos.Valid = true
	c.outletValvePos.Value = 25
	fillPressureHistory(c, []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50})
	c.holdOutletValve = true

	c.adaptiveTick()
	require.Empty(t, outletLink.writes)
}

func TestAdaptiveTick_SkipsWhenHistoryNotFull(t *testing.T) {
	c, _, outletLink := newTestController(100)
	c.systemSetpoint = 50
	c.adaptiveTick()
	require.Empty(t, outletLink.writes)
}

func TestAdaptiveTick_SkipsDuringManualOverride(t *testing.T) {
	c, _, outletLink := newTestController(100)
	c.systemSetpoint = 50
	c.currentPressure.Valid = true
	c.currentPressure.Value = 50.5 // errVal=0.5, would otherwise trigger leak_up
	c.inletValvePos.Valid = true
	c.inletValvePos.Value = 0.5
	c.outletValvePos.Valid = true
	c.outletValvePos.Value = 25
	fillPressureHistory(c, []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50})
	c.SetManualOverride(true)

	c.adaptiveTick()
	require.Empty(t, outletLink.writes)
}

func TestAdaptiveTick_SkipsWhenTurboNotReady(t *testing.T) {
	c, _, outletLink := newTestController(100)
	c.systemSetpoint = 50
	c.currentPressure.Valid = true
	c.currentPressure.Value = 50.5 // errVal=0.5, would otherwise trigger leak_up
	c.inletValvePos.Valid = true
	c.inletValvePos.Value = 0.5
	c.outletValvePos.Valid = true
	c.outletValvePos.Value = 25
	fillPressureHistory(c, []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50})
	c.SetTurboReady(false)

	c.adaptiveTick()
	require.Empty(t, outletLink.writes)
}

func TestAdaptiveTick_RunsWhenTurboReadyAgain(t *testing.T) {
	c, _, outletLink := newTestController(100)
	c.systemSetpoint = 50
	c.currentPressure.Valid = true
	c.currentPressure.Value = 50.5
	c.inletValvePos.Valid = true
	c.inletValvePos.Value = 0.5
	c.outletValvePos.Valid = true
	c.outletValvePos.Value = 25
	fillPressureHistory(c, []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50})
	c.SetTurboReady(true)

	c.adaptiveTick()
	require.Contains(t, outletLink.writes, "S1 25.200")
	require.Contains(t, outletLink.writes, "D1")
}
