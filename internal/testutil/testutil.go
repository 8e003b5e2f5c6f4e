// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers and geographic fixtures
// used across the engine's test files.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/navmiles/navmiles/internal/geo"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta fails the test if got is not within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64) {
	t.Helper()
	d := got - want
	if d < 0 {
		d = -d
	}
	if d > delta {
		t.Errorf("value = %f, want %f (±%f)", got, want, delta)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Downtown Austin fixtures. Congress Ave runs roughly north-south, so
// walking the fixture points in order simulates a northbound drive.
var (
	CongressAt1st  = geo.LatLng{Lat: 30.2635, Lng: -97.7451}
	CongressAt5th  = geo.LatLng{Lat: 30.2672, Lng: -97.7431}
	CongressAt11th = geo.LatLng{Lat: 30.2729, Lng: -97.7404}
	CapitolSteps   = geo.LatLng{Lat: 30.2747, Lng: -97.7404}
)

// CongressLine is a short northbound polyline along Congress Ave.
func CongressLine() []geo.LatLng {
	return []geo.LatLng{CongressAt1st, CongressAt5th, CongressAt11th, CapitolSteps}
}

// PointNear returns a point offset roughly meters east of p. Useful for
// building fixture positions a known distance from a polyline.
func PointNear(p geo.LatLng, meters float64) geo.LatLng {
	return geo.DestinationPoint(p, meters, 90)
}

// FixedTime is a stable timestamp for deterministic tests.
var FixedTime = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
