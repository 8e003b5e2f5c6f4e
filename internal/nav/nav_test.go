package nav

import (
	"context"
	"sync"

	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/route"
	"github.com/navmiles/navmiles/internal/testutil"
)

// recordingAnnouncer captures guidance output for assertions.
type recordingAnnouncer struct {
	mu      sync.Mutex
	spoken  []string
	notices []string // keys in delivery order
	cancels int
}

func (a *recordingAnnouncer) Speak(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spoken = append(a.spoken, text)
}

func (a *recordingAnnouncer) Notify(key, title, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notices = append(a.notices, key)
}

func (a *recordingAnnouncer) CancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
}

func (a *recordingAnnouncer) Cancels() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancels
}

func (a *recordingAnnouncer) Spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.spoken...)
}

func (a *recordingAnnouncer) Notices() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.notices...)
}

// fakeRouter serves canned routes and records calls.
type fakeRouter struct {
	mu        sync.Mutex
	routes    []route.Route
	err       error
	calls     int
	tollFlags []bool // avoidTolls per call
}

func (f *fakeRouter) Directions(ctx context.Context, origin, dest geo.LatLng, waypoints []geo.LatLng, avoidTolls bool) ([]route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tollFlags = append(f.tollFlags, avoidTolls)
	if f.err != nil {
		return nil, f.err
	}
	return f.routes, nil
}

func (f *fakeRouter) SnapToRoad(ctx context.Context, p geo.LatLng) geo.LatLng {
	return p
}

func (f *fakeRouter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRouter) avoidedTolls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.tollFlags...)
}

// congressRoute is a two-step northbound route up Congress Ave: turn at
// 11th St, arrive at the capitol.
func congressRoute() route.Route {
	line := testutil.CongressLine()
	return route.Route{
		Points:  line,
		Summary: "Congress Ave",
		Steps: []route.Step{
			{
				Instruction:     "Head north on Congress Ave",
				End:             testutil.CongressAt11th,
				Polyline:        line[:3],
				DistanceMeters:  1100,
				DurationSeconds: 200,
			},
			{
				Instruction:     "Continue to the Capitol",
				End:             testutil.CapitolSteps,
				Polyline:        line[2:],
				DistanceMeters:  200,
				DurationSeconds: 40,
			},
		},
		DistanceMeters:  1300,
		DurationSeconds: 240,
	}
}
