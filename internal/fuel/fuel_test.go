package fuel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/timeutil"
)

const (
	testTank = 15.0
	testEPA  = 28.0
)

func newTestModel(t *testing.T, gallons float64, log []FillEvent) (*Model, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	return NewModel(config.Default(), clock, testTank, testEPA, gallons, log), clock
}

func fullAt(odometer, gallons float64) FillEvent {
	return FillEvent{Kind: FillFull, Gallons: gallons, Odometer: odometer}
}

func TestNewModelDefaultsToEPA(t *testing.T) {
	m, _ := newTestModel(t, 10, nil)
	s := m.Status()
	assert.Equal(t, testEPA, s.AvgMPG)
	assert.True(t, s.Estimated)
}

func TestDrainBurnsFuel(t *testing.T) {
	m, _ := newTestModel(t, 10, nil)

	m.Drain(28) // one gallon at EPA 28
	assert.InDelta(t, 9, m.Gallons(), 1e-9)
}

func TestDrainIgnoresJitter(t *testing.T) {
	m, _ := newTestModel(t, 10, nil)

	// Sub-floor movements (parked, GPS wander) must not bleed the tank.
	for i := 0; i < 1000; i++ {
		m.Drain(0.005)
	}
	assert.Equal(t, 10.0, m.Gallons())
}

func TestDrainFloorsAtEmpty(t *testing.T) {
	m, _ := newTestModel(t, 0.5, nil)
	m.Drain(1000)
	assert.Equal(t, 0.0, m.Gallons())
}

func TestCalibrationFromTwoFulls(t *testing.T) {
	m, _ := newTestModel(t, 5, nil)

	_, err := m.RecordFill(fullAt(10000, 12))
	require.NoError(t, err)
	s := m.Status()
	assert.True(t, s.Estimated, "one full is not enough to calibrate")

	// 300 miles later, 10 gallons to top off: 30 MPG.
	_, err = m.RecordFill(fullAt(10300, 10))
	require.NoError(t, err)

	s = m.Status()
	assert.InDelta(t, 30, s.AvgMPG, 1e-9)
	assert.False(t, s.Estimated)
	assert.Equal(t, testTank, s.Gallons)
}

func TestCalibrationIncludesPartialsBetweenFulls(t *testing.T) {
	m, _ := newTestModel(t, 5, nil)

	_, err := m.RecordFill(fullAt(10000, 12))
	require.NoError(t, err)
	_, err = m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 4})
	require.NoError(t, err)
	_, err = m.RecordFill(fullAt(10300, 6))
	require.NoError(t, err)

	// 300 miles on 4 + 6 gallons.
	assert.InDelta(t, 30, m.Status().AvgMPG, 1e-9)
}

func TestCalibrationFromSeededLog(t *testing.T) {
	log := []FillEvent{
		{Kind: FillFull, Gallons: 12, Odometer: 20000, Time: time.Now()},
		{Kind: FillFull, Gallons: 8, Odometer: 20200, Time: time.Now()},
	}
	m, _ := newTestModel(t, 10, log)
	assert.InDelta(t, 25, m.Status().AvgMPG, 1e-9)
}

func TestRecordFillValidation(t *testing.T) {
	m, _ := newTestModel(t, 5, nil)
	_, err := m.RecordFill(fullAt(10000, 12))
	require.NoError(t, err)

	_, err = m.RecordFill(FillEvent{Kind: FillFull, Gallons: 10})
	assert.ErrorIs(t, err, ErrOdometerRequired)

	_, err = m.RecordFill(fullAt(10000, 10))
	assert.ErrorIs(t, err, ErrOdometerNotIncreasing)

	_, err = m.RecordFill(fullAt(9000, 10))
	assert.ErrorIs(t, err, ErrOdometerNotIncreasing)

	_, err = m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 0})
	assert.ErrorIs(t, err, ErrBadGallons)

	_, err = m.RecordFill(FillEvent{Kind: FillPartial, Gallons: -2})
	assert.ErrorIs(t, err, ErrBadGallons)
}

func TestRecordFillAssignsID(t *testing.T) {
	m, _ := newTestModel(t, 5, nil)
	ev, err := m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())
}

func TestPartialFillClampsToTank(t *testing.T) {
	m, _ := newTestModel(t, 14, nil)
	_, err := m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 5})
	require.NoError(t, err)
	assert.Equal(t, testTank, m.Gallons())
}

func TestCalibrationEventSetsLevel(t *testing.T) {
	m, _ := newTestModel(t, 2, nil)
	_, err := m.RecordFill(FillEvent{Kind: FillCalibration, Gallons: 8})
	require.NoError(t, err)
	assert.Equal(t, 8.0, m.Gallons())
}

func TestCalibrationLoweringLevelNeedsOdometer(t *testing.T) {
	m, _ := newTestModel(t, 10, nil)

	// Correcting the gauge downward means miles were driven off the
	// app's watch; without the odometer the level is rejected.
	_, err := m.RecordFill(FillEvent{Kind: FillCalibration, Gallons: 2})
	assert.ErrorIs(t, err, ErrOdometerRequired)
	assert.Equal(t, 10.0, m.Gallons())

	_, err = m.RecordFill(FillEvent{Kind: FillCalibration, Gallons: 2, Odometer: 12000})
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Gallons())
}

func TestRangeClamped(t *testing.T) {
	// Absurd calibration cannot push range past 2x EPA.
	log := []FillEvent{
		{Kind: FillFull, Gallons: 0.1, Odometer: 10000},
		{Kind: FillFull, Gallons: 0.1, Odometer: 15000},
	}
	m, _ := newTestModel(t, 10, log)
	assert.Equal(t, int(10*2*testEPA), m.RangeMiles())

	// And a tiny MPG cannot push it under the floor of 3.
	log = []FillEvent{
		{Kind: FillFull, Gallons: 1000, Odometer: 10000},
		{Kind: FillFull, Gallons: 1000, Odometer: 10001},
	}
	m2, _ := newTestModel(t, 10, log)
	assert.Equal(t, 30, m2.RangeMiles())
}

func TestPartialFillAdvisory(t *testing.T) {
	m, _ := newTestModel(t, 5, nil)
	for i := 0; i < 3; i++ {
		_, err := m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 1})
		require.NoError(t, err)
	}
	assert.NotEmpty(t, m.Status().Advisory)

	// A full fill clears the streak.
	_, err := m.RecordFill(fullAt(10000, 5))
	require.NoError(t, err)
	assert.Empty(t, m.Status().Advisory)
}

func TestLowFuelAlertSequence(t *testing.T) {
	// 4 gallons at EPA 28 is ~112 miles of range.
	m, clock := newTestModel(t, 4, nil)

	// Burn down past 100 miles.
	alert := m.Drain(15)
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.ThresholdMiles)

	// Still under 100: no repeat.
	assert.Nil(t, m.Drain(5))

	// Crossing 50 after the cooldown fires the second alert.
	clock.Advance(20 * time.Minute)
	alert = m.Drain(60)
	require.NotNil(t, alert)
	assert.Equal(t, 50.0, alert.ThresholdMiles)

	// Under 50, silent from here.
	clock.Advance(20 * time.Minute)
	assert.Nil(t, m.Drain(5))
}

func TestLowFuelThresholdsFireIndependently(t *testing.T) {
	m, _ := newTestModel(t, 4, nil)

	alert := m.Drain(15)
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.ThresholdMiles)

	// Crossing 50 right behind it fires its own alert; the 100 mile
	// alert's cooldown does not apply to the 50 mile threshold.
	alert = m.Drain(60)
	require.NotNil(t, alert)
	assert.Equal(t, 50.0, alert.ThresholdMiles)
}

func TestLowFuelCooldownIsPerThreshold(t *testing.T) {
	m, clock := newTestModel(t, 4, nil)
	require.NotNil(t, m.Drain(15))

	// Refuel above the first threshold to re-arm, then dip right back
	// under 100: the same threshold is still inside its cooldown.
	_, err := m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 2})
	require.NoError(t, err)
	assert.Nil(t, m.Drain(0.5)) // re-arms above 100
	assert.Nil(t, m.Drain(60))

	clock.Advance(20 * time.Minute)
	require.NotNil(t, m.Drain(1))
}

func TestLowFuelRearmsAfterRefuel(t *testing.T) {
	m, clock := newTestModel(t, 4, nil)
	require.NotNil(t, m.Drain(15))

	_, err := m.RecordFill(FillEvent{Kind: FillPartial, Gallons: 10})
	require.NoError(t, err)

	// Range recovered above 100; burning back down alerts again.
	clock.Advance(time.Hour)
	var alert *Alert
	for i := 0; i < 400 && alert == nil; i++ {
		alert = m.Drain(1)
	}
	require.NotNil(t, alert)
	assert.Equal(t, 100.0, alert.ThresholdMiles)
}
