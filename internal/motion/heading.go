package motion

import (
	"math"

	"github.com/navmiles/navmiles/internal/geo"
)

// HeadingTracker picks a camera heading from the available heading
// sources and rate-limits how fast it may rotate per update. Below the
// hold threshold the vehicle is effectively stationary and GPS course is
// garbage, so the last heading observed at speed is retained.
type HeadingTracker struct {
	holdBelowMPH float64
	maxStep      float64

	current    float64 // rate-limited output, -1 until first update
	lastStable float64 // last heading captured while moving, -1 until set
}

// NewHeadingTracker builds a tracker. holdBelowMPH is the speed under
// which heading is frozen; maxStep is the per-update rotation limit in
// degrees.
func NewHeadingTracker(holdBelowMPH, maxStep float64) *HeadingTracker {
	return &HeadingTracker{
		holdBelowMPH: holdBelowMPH,
		maxStep:      maxStep,
		current:      -1,
		lastStable:   -1,
	}
}

// Update returns the camera heading for this fix. course is GPS course
// over ground, deviceHeading the magnetometer heading; either may be
// negative or non-finite for unknown.
func (h *HeadingTracker) Update(speedMPH, course, deviceHeading float64) float64 {
	target := h.pick(speedMPH, course, deviceHeading)
	if target < 0 {
		// Nothing to show yet.
		return 0
	}

	h.current = geo.StepHeading(h.current, target, h.maxStep)
	if speedMPH >= h.holdBelowMPH {
		h.lastStable = h.current
	}
	return h.current
}

func (h *HeadingTracker) pick(speedMPH, course, deviceHeading float64) float64 {
	if speedMPH < h.holdBelowMPH {
		if h.lastStable >= 0 {
			return h.lastStable
		}
		// Never moved yet; fall through to whatever source is available.
	}
	if validHeading(course) {
		return geo.NormalizeDeg(course)
	}
	if validHeading(deviceHeading) {
		return geo.NormalizeDeg(deviceHeading)
	}
	return h.lastStable
}

// Reset drops tracker state.
func (h *HeadingTracker) Reset() {
	h.current = -1
	h.lastStable = -1
}

func validHeading(deg float64) bool {
	return deg >= 0 && !math.IsNaN(deg) && !math.IsInf(deg, 0)
}
