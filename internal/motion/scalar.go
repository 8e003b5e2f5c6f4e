package motion

import "math"

// ScalarFilter is a one-dimensional Kalman filter for smoothing a single
// noisy scalar stream such as reported ground speed.
type ScalarFilter struct {
	q float64 // process noise
	r float64 // measurement noise
	x float64 // estimated value
	p float64 // estimation error covariance

	initialized bool
}

// NewScalarFilter constructs a filter with the given process and
// measurement noise.
func NewScalarFilter(q, r float64) *ScalarFilter {
	return &ScalarFilter{q: q, r: r}
}

// Update folds one measurement into the estimate and returns the new
// estimate. Non-finite measurements are ignored.
func (f *ScalarFilter) Update(measurement float64) float64 {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return f.x
	}
	if !f.initialized {
		f.x = measurement
		f.p = f.r
		f.initialized = true
		return f.x
	}

	f.p += f.q
	k := f.p / (f.p + f.r)
	f.x += k * (measurement - f.x)
	f.p *= 1 - k
	return f.x
}

// Value returns the current estimate without updating.
func (f *ScalarFilter) Value() float64 {
	return f.x
}

// Reset drops the estimate; the next measurement re-seeds it.
func (f *ScalarFilter) Reset() {
	f.x = 0
	f.p = 0
	f.initialized = false
}
