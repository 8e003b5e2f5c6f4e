// Package motion smooths raw GPS fixes into stable position, speed and
// heading estimates. A 4-state constant velocity Kalman filter handles
// position, scalar filters handle speed, and a rate-limited chooser keeps
// the presented heading from whipping around at low speed.
package motion

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/units"
)

// ErrInvalidFix is returned when a raw fix carries non-finite or
// out-of-range coordinates and is discarded.
var ErrInvalidFix = errors.New("motion: invalid fix")

// RawFix is a single GPS observation as delivered by a position source.
type RawFix struct {
	Pos           geo.LatLng `json:"pos"`
	SpeedMPS      float64    `json:"speed_mps"`      // negative means unknown
	Course        float64    `json:"course"`         // degrees, negative means unknown
	DeviceHeading float64    `json:"device_heading"` // compass degrees, negative means unknown
	Accuracy      float64    `json:"accuracy"`       // meters, 0 means unknown
	Time          time.Time  `json:"time"`
}

// Estimate is the filtered output for one fix.
type Estimate struct {
	Pos      geo.LatLng `json:"pos"`
	SpeedMPS float64    `json:"speed_mps"`
	SpeedMPH float64    `json:"speed_mph"`
	Heading  float64    `json:"heading"` // camera heading, degrees [0, 360)
	Time     time.Time  `json:"time"`
}

// Filter owns all smoothing state for one vehicle. Safe for concurrent
// use; Process is serialised internally.
type Filter struct {
	mu sync.Mutex

	processNoise float64
	measureNoise float64
	maxDt        float64

	// Kalman state [lat, lng, vLat, vLng] in degrees and degrees/sec.
	x           *mat.VecDense
	p           *mat.Dense
	initialized bool
	lastTime    time.Time

	speed   *ScalarFilter
	heading *HeadingTracker

	// Previous filtered position, for deriving course over ground.
	prevPos geo.LatLng
	hasPrev bool
}

// Displacement below this carries no usable bearing; the derived course
// is skipped and the receiver's course stands in.
const courseFloorMeters = 1.0

// NewFilter builds a Filter with noise parameters from cfg.
func NewFilter(cfg *config.TuningConfig) *Filter {
	return &Filter{
		processNoise: cfg.GetPositionProcessNoise(),
		measureNoise: cfg.GetPositionMeasureNoise(),
		maxDt:        cfg.GetMaxPredictDtSeconds(),
		speed:        NewScalarFilter(cfg.GetScalarProcessNoise(), cfg.GetScalarMeasureNoise()),
		heading:      NewHeadingTracker(cfg.GetHeadingHoldBelowMPH(), cfg.GetHeadingMaxStepDegrees()),
	}
}

// Reset drops all filter state. The next fix re-bootstraps.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	f.lastTime = time.Time{}
	f.hasPrev = false
	f.speed.Reset()
	f.heading.Reset()
}

// Process ingests one raw fix and returns the smoothed estimate. Fixes
// with non-finite or out-of-range coordinates are discarded with
// ErrInvalidFix and leave the filter state untouched.
func (f *Filter) Process(fix RawFix) (Estimate, error) {
	if !fix.Pos.IsValid() {
		return Estimate{}, fmt.Errorf("%w: pos %+v", ErrInvalidFix, fix.Pos)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		f.bootstrap(fix)
	} else {
		dt := fix.Time.Sub(f.lastTime).Seconds()
		// Clamp dt to prevent covariance explosion across fix gaps
		// (tunnels, app backgrounding). Negative dt means the source
		// delivered out of order; treat as a zero-time update.
		if dt > f.maxDt {
			dt = f.maxDt
		}
		if dt < 0 {
			dt = 0
		}
		f.predict(dt)
		f.update(fix.Pos)

		if !f.isFiniteState() {
			// Numerical blowup. Start over from this measurement.
			f.bootstrap(fix)
		}
	}
	f.lastTime = fix.Time

	speedMPS := f.speed.Value()
	if fix.SpeedMPS >= 0 && !math.IsNaN(fix.SpeedMPS) && !math.IsInf(fix.SpeedMPS, 0) {
		speedMPS = f.speed.Update(fix.SpeedMPS)
	}
	if speedMPS < 0 {
		speedMPS = 0
	}
	speedMPH := units.MPSToMilesPerHour(speedMPS)

	pos := geo.LatLng{Lat: f.x.AtVec(0), Lng: f.x.AtVec(1)}

	// Course over ground derived from the filtered track is the primary
	// heading source; the receiver's reported course stands in until the
	// vehicle has moved far enough to carry a bearing.
	course := fix.Course
	if f.hasPrev && geo.Distance(f.prevPos, pos) >= courseFloorMeters {
		course = geo.Bearing(f.prevPos, pos)
	}
	f.prevPos = pos
	f.hasPrev = true

	heading := f.heading.Update(speedMPH, course, fix.DeviceHeading)

	return Estimate{
		Pos:      pos,
		SpeedMPS: speedMPS,
		SpeedMPH: speedMPH,
		Heading:  heading,
		Time:     fix.Time,
	}, nil
}

// bootstrap seeds the state from a measurement with high position
// uncertainty so the first few updates track the measurements closely.
func (f *Filter) bootstrap(fix RawFix) {
	f.x = mat.NewVecDense(4, []float64{fix.Pos.Lat, fix.Pos.Lng, 0, 0})
	f.p = mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		f.p.Set(i, i, 1e6)
	}
	f.initialized = true
}

// predict advances the state by dt seconds under constant velocity.
//
//	F = [1 0 dt 0 ]
//	    [0 1 0  dt]
//	    [0 0 1  0 ]
//	    [0 0 0  1 ]
func (f *Filter) predict(dt float64) {
	fm := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	var x mat.VecDense
	x.MulVec(fm, f.x)
	f.x.CopyVec(&x)

	// P' = F P F^T + Q, with Q scaled by dt so uncertainty growth is
	// independent of fix rate.
	var fp, fpft mat.Dense
	fp.Mul(fm, f.p)
	fpft.Mul(&fp, fm.T())
	for i := 0; i < 4; i++ {
		fpft.Set(i, i, fpft.At(i, i)+f.processNoise*dt)
	}
	f.p.Copy(&fpft)
}

// update folds a position measurement into the state.
func (f *Filter) update(z geo.LatLng) {
	// H extracts position from the state vector.
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})

	// Innovation y = z - H x
	y := mat.NewVecDense(2, []float64{
		z.Lat - f.x.AtVec(0),
		z.Lng - f.x.AtVec(1),
	})

	// S = H P H^T + R
	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	s.Set(0, 0, s.At(0, 0)+f.measureNoise)
	s.Set(1, 1, s.At(1, 1)+f.measureNoise)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation covariance; skip this measurement.
		return
	}

	// K = P H^T S^-1
	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sInv)

	// x' = x + K y
	var ky mat.VecDense
	ky.MulVec(&k, y)
	f.x.AddVec(f.x, &ky)

	// P' = (I - K H) P
	var kh mat.Dense
	kh.Mul(&k, h)
	ikh := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)
	var newP mat.Dense
	newP.Mul(ikh, f.p)
	f.p.Copy(&newP)
}

func (f *Filter) isFiniteState() bool {
	for i := 0; i < 4; i++ {
		v := f.x.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		for j := 0; j < 4; j++ {
			pv := f.p.At(i, j)
			if math.IsNaN(pv) || math.IsInf(pv, 0) {
				return false
			}
		}
	}
	return true
}
