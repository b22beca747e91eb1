package mathx

// Lerp returns the linear interpolation of y at x given two known points
// (x0,y0) and (x1,y1). Used to predict an outlet position for a new
// setpoint from the two nearest learned positions (spec.md §3).
func Lerp(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}
