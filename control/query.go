package control

// PressureHistoryFull reports whether the pressure history has
// accumulated a full window of samples (spec.md §3's "a history is only
// consulted when full" invariant, exposed for the sequencer's stability
// wait).
func (c *Controller) PressureHistoryFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressureHistory.Full()
}

// PressureHistoryStdev returns the sample stdev of the pressure history.
func (c *Controller) PressureHistoryStdev() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressureHistory.Stdev()
}

// PressureHistoryMean returns the mean of the pressure history.
func (c *Controller) PressureHistoryMean() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressureHistory.Mean()
}

// FullScale returns the standard's configured full-scale pressure.
func (c *Controller) FullScale() float64 {
	return c.fs
}
