package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navmiles/navmiles/internal/fuel"
)

func TestIntervals(t *testing.T) {
	day := func(n int) time.Time {
		return time.Date(2025, 6, n, 12, 0, 0, 0, time.UTC)
	}
	fills := []fuel.FillEvent{
		{Kind: fuel.FillFull, Gallons: 12, Odometer: 10000, Time: day(1)},
		{Kind: fuel.FillPartial, Gallons: 4, Time: day(5)},
		{Kind: fuel.FillCalibration, Gallons: 9, Time: day(6)}, // correction, not fuel burned
		{Kind: fuel.FillFull, Gallons: 6, Odometer: 10280, Time: day(8)},
		{Kind: fuel.FillFull, Gallons: 10, Time: day(12)}, // no odometer, cannot close an interval
		{Kind: fuel.FillFull, Gallons: 8, Odometer: 10700, Time: day(15)},
	}

	ivals := intervals(fills)
	require.Len(t, ivals, 2)

	// 280 miles on 4 partial + 6 closing gallons.
	assert.InDelta(t, 280, ivals[0].Miles, 1e-9)
	assert.InDelta(t, 10, ivals[0].Gallons, 1e-9)
	assert.InDelta(t, 28, ivals[0].MPG, 1e-9)

	// 420 miles on the 10 unmetered-odometer + 8 closing gallons.
	assert.InDelta(t, 420, ivals[1].Miles, 1e-9)
	assert.InDelta(t, 18, ivals[1].Gallons, 1e-9)
	assert.InDelta(t, 420.0/18, ivals[1].MPG, 1e-9)
}

func TestIntervalsTooFewFills(t *testing.T) {
	assert.Empty(t, intervals(nil))
	assert.Empty(t, intervals([]fuel.FillEvent{
		{Kind: fuel.FillFull, Gallons: 12, Odometer: 10000},
	}))
}
