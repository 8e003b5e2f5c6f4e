package motion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/testutil"
)

func fixAt(p geo.LatLng, t time.Time) RawFix {
	return RawFix{Pos: p, SpeedMPS: -1, Course: -1, DeviceHeading: -1, Time: t}
}

func TestFilterBootstrapMatchesFirstFix(t *testing.T) {
	f := NewFilter(config.Default())
	p := testutil.CongressAt1st

	est, err := f.Process(fixAt(p, testutil.FixedTime))
	require.NoError(t, err)

	assert.InDelta(t, p.Lat, est.Pos.Lat, 1e-9)
	assert.InDelta(t, p.Lng, est.Pos.Lng, 1e-9)
	assert.Equal(t, testutil.FixedTime, est.Time)
}

func TestFilterSecondFixBetweenPriorAndMeasurement(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime
	p0 := testutil.CongressAt1st
	p1 := testutil.CongressAt5th

	_, err := f.Process(fixAt(p0, t0))
	require.NoError(t, err)

	est, err := f.Process(fixAt(p1, t0.Add(time.Second)))
	require.NoError(t, err)

	// Prediction from the bootstrap state is p0 (zero velocity), so the
	// update must land between p0 and the new measurement p1.
	assert.GreaterOrEqual(t, est.Pos.Lat, math.Min(p0.Lat, p1.Lat))
	assert.LessOrEqual(t, est.Pos.Lat, math.Max(p0.Lat, p1.Lat))
	assert.GreaterOrEqual(t, est.Pos.Lng, math.Min(p0.Lng, p1.Lng))
	assert.LessOrEqual(t, est.Pos.Lng, math.Max(p0.Lng, p1.Lng))
}

func TestFilterTracksSteadyMotion(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	// Northbound at a constant 0.0001 deg/s.
	var last Estimate
	for i := 0; i < 20; i++ {
		p := geo.LatLng{Lat: 30.26 + float64(i)*0.0001, Lng: -97.745}
		est, err := f.Process(fixAt(p, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		last = est
	}

	assert.InDelta(t, 30.26+19*0.0001, last.Pos.Lat, 0.0002)
	assert.InDelta(t, -97.745, last.Pos.Lng, 1e-4)
}

func TestFilterRejectsInvalidFix(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	good, err := f.Process(fixAt(testutil.CongressAt1st, t0))
	require.NoError(t, err)

	bad := []geo.LatLng{
		{Lat: math.NaN(), Lng: -97.7},
		{Lat: 30.2, Lng: math.Inf(1)},
		{Lat: 91, Lng: 0},
		{Lat: 0, Lng: 181},
	}
	for _, p := range bad {
		_, err := f.Process(fixAt(p, t0.Add(time.Second)))
		assert.ErrorIs(t, err, ErrInvalidFix, "pos %+v", p)
	}

	// State untouched: reprocessing the good point stays near it.
	est, err := f.Process(fixAt(testutil.CongressAt1st, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.InDelta(t, good.Pos.Lat, est.Pos.Lat, 1e-6)
}

func TestFilterClampsLargeGaps(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	_, err := f.Process(fixAt(testutil.CongressAt1st, t0))
	require.NoError(t, err)

	// An hour-long gap must not blow up the state.
	est, err := f.Process(fixAt(testutil.CongressAt5th, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(est.Pos.Lat))
	assert.False(t, math.IsNaN(est.Pos.Lng))
	assert.InDelta(t, testutil.CongressAt5th.Lat, est.Pos.Lat, 0.01)
}

func TestFilterOutOfOrderFix(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	_, err := f.Process(fixAt(testutil.CongressAt1st, t0))
	require.NoError(t, err)

	// Timestamp going backwards is treated as dt=0, not an error.
	est, err := f.Process(fixAt(testutil.CongressAt5th, t0.Add(-time.Second)))
	require.NoError(t, err)
	assert.True(t, est.Pos.IsValid())
}

func TestFilterSpeedSmoothing(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	var est Estimate
	var err error
	for i := 0; i < 30; i++ {
		fix := fixAt(testutil.CongressAt1st, t0.Add(time.Duration(i)*time.Second))
		fix.SpeedMPS = 10
		est, err = f.Process(fix)
		require.NoError(t, err)
	}
	assert.InDelta(t, 10, est.SpeedMPS, 0.5)
	assert.InDelta(t, 22.37, est.SpeedMPH, 1.2)

	// Unknown speed keeps the previous estimate.
	fix := fixAt(testutil.CongressAt1st, t0.Add(31*time.Second))
	fix.SpeedMPS = -1
	est, err = f.Process(fix)
	require.NoError(t, err)
	assert.InDelta(t, 10, est.SpeedMPS, 0.5)
}

func TestFilterReset(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	_, err := f.Process(fixAt(testutil.CongressAt1st, t0))
	require.NoError(t, err)

	f.Reset()

	// After a reset the next fix bootstraps exactly.
	est, err := f.Process(fixAt(testutil.CapitolSteps, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.InDelta(t, testutil.CapitolSteps.Lat, est.Pos.Lat, 1e-9)
	assert.InDelta(t, testutil.CapitolSteps.Lng, est.Pos.Lng, 1e-9)
}

func TestFilterDerivesCourseFromTrack(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	// A receiver that never reports course: the heading comes from the
	// bearing between consecutive filtered positions instead.
	p := testutil.CongressAt1st
	var last Estimate
	for i := 0; i < 10; i++ {
		fix := fixAt(p, t0.Add(time.Duration(i)*time.Second))
		fix.SpeedMPS = 10
		est, err := f.Process(fix)
		require.NoError(t, err)
		last = est
		p = geo.DestinationPoint(p, 20, 90)
	}

	assert.InDelta(t, 90, last.Heading, 3, "eastbound track yields an eastbound heading")
}

func TestFilterDerivedCourseOverridesReported(t *testing.T) {
	f := NewFilter(config.Default())
	t0 := testutil.FixedTime

	// The receiver insists on a stale northbound course while the
	// track runs east; the track wins.
	p := testutil.CongressAt1st
	var last Estimate
	for i := 0; i < 10; i++ {
		fix := fixAt(p, t0.Add(time.Duration(i)*time.Second))
		fix.SpeedMPS = 10
		fix.Course = 0
		est, err := f.Process(fix)
		require.NoError(t, err)
		last = est
		p = geo.DestinationPoint(p, 20, 90)
	}

	assert.InDelta(t, 90, last.Heading, 3)
}
