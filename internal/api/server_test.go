package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/hazard"
	"github.com/navmiles/navmiles/internal/motion"
	"github.com/navmiles/navmiles/internal/nav"
	"github.com/navmiles/navmiles/internal/route"
	"github.com/navmiles/navmiles/internal/store"
	"github.com/navmiles/navmiles/internal/testutil"
	"github.com/navmiles/navmiles/internal/timeutil"
)

type silentAnnouncer struct{}

func (silentAnnouncer) Speak(string)          {}
func (silentAnnouncer) Notify(_, _, _ string) {}
func (silentAnnouncer) CancelAll()            {}

type stubRouter struct {
	routes     []route.Route
	err        error
	avoidTolls bool // from the last Directions call
}

func (r *stubRouter) Directions(_ context.Context, _, _ geo.LatLng, _ []geo.LatLng, avoidTolls bool) ([]route.Route, error) {
	r.avoidTolls = avoidTolls
	return r.routes, r.err
}

func (r *stubRouter) SnapToRoad(_ context.Context, p geo.LatLng) geo.LatLng { return p }

type testHarness struct {
	engine *nav.Engine
	clock  *timeutil.MockClock
	server *httptest.Server
	router *stubRouter
}

func newHarness(t *testing.T, st *store.Store) *testHarness {
	t.Helper()
	cfg := config.Default()
	clock := timeutil.NewMockClock(testutil.FixedTime)
	rtr := &stubRouter{}
	engine := nav.NewEngine(nav.Deps{
		Cfg:       cfg,
		Clock:     clock,
		Router:    rtr,
		Announcer: silentAnnouncer{},
		Store:     st,
		Fuel:      fuel.NewModel(cfg, clock, 15, 28, 10, nil),
		Board:     hazard.NewBoard(cfg, clock),
	})
	srv := httptest.NewServer(NewServer(engine, st).ServeMux())
	t.Cleanup(srv.Close)
	return &testHarness{engine: engine, clock: clock, server: srv, router: rtr}
}

func (h *testHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	return resp
}

func (h *testHarness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u := decodeBody[nav.Update](t, resp)
	assert.Equal(t, nav.StateIdle, u.Progress.State)
	assert.InDelta(t, 10, u.Fuel.Gallons, 1e-9)
}

func TestStatusRejectsPost(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.post(t, "/api/status", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNavigateEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.router.routes = []route.Route{{
		Points:         testutil.CongressLine(),
		Steps:          []route.Step{{Instruction: "Head north", End: testutil.CongressAt11th, DistanceMeters: 1100}},
		Summary:        "Congress Ave",
		DistanceMeters: 1100,
	}}

	// Navigation needs a position fix first.
	resp := h.post(t, "/api/navigate", navigateRequest{Destination: testutil.CongressAt11th})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.NoError(t, h.engine.ProcessFix(context.Background(), motion.RawFix{
		Pos:      testutil.CongressAt1st,
		SpeedMPS: 10,
		Course:   20,
		Time:     h.clock.Now(),
	}))

	resp = h.post(t, "/api/navigate", navigateRequest{Destination: testutil.CongressAt11th, AvoidTolls: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "Congress Ave", body["summary"])
	assert.True(t, h.router.avoidTolls, "toll preference reaches the directions request")

	resp = h.post(t, "/api/navigate/stop", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, nav.StateIdle, h.engine.Snapshot().Progress.State)
}

func TestNavigateValidation(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.post(t, "/api/navigate", navigateRequest{Destination: geo.LatLng{Lat: 95, Lng: 0}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(h.server.URL+"/api/navigate", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHazardLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.post(t, "/api/hazards", reportHazardRequest{
		Type: hazard.TypePolice,
		Pos:  testutil.CongressAt5th,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[hazard.Hazard](t, resp)
	require.NotEmpty(t, created.ID)

	resp = h.get(t, "/api/hazards")
	listed := decodeBody[[]hazard.Hazard](t, resp)
	require.Len(t, listed, 1)

	resp = h.get(t, "/api/hazards?type=crash")
	assert.Empty(t, decodeBody[[]hazard.Hazard](t, resp))

	resp = h.get(t, "/api/hazards?type=bogus")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.post(t, "/api/hazards/vote", voteHazardRequest{ID: created.ID, StillThere: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voted := decodeBody[hazard.Hazard](t, resp)
	assert.Equal(t, 2, voted.Confirms)

	resp = h.post(t, "/api/hazards/vote", voteHazardRequest{ID: "nope", StillThere: true})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHazardRejectsBadType(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.post(t, "/api/hazards", reportHazardRequest{
		Type: "meteor",
		Pos:  testutil.CongressAt5th,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFuelEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, "/api/fuel")
	st := decodeBody[fuel.Status](t, resp)
	assert.InDelta(t, 10, st.Gallons, 1e-9)

	resp = h.post(t, "/api/fuel/fill", fuel.FillEvent{Kind: fuel.FillFull, Odometer: 12000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	saved := decodeBody[fuel.FillEvent](t, resp)
	assert.NotEmpty(t, saved.ID)

	resp = h.get(t, "/api/fuel")
	st = decodeBody[fuel.Status](t, resp)
	assert.InDelta(t, 15, st.Gallons, 1e-9, "full fill tops the tank")

	resp = h.post(t, "/api/fuel/fill", fuel.FillEvent{Kind: fuel.FillPartial, Gallons: -2})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.get(t, "/api/fuel/log")
	log := decodeBody[[]fuel.FillEvent](t, resp)
	assert.Len(t, log, 1)
}

func TestTripsEndpoint(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.AppendTrip(store.TripLog{
		ID:        "t1",
		StartedAt: testutil.FixedTime,
		EndedAt:   testutil.FixedTime.Add(10 * time.Minute),
		Miles:     4.2,
		Start:     testutil.CongressAt1st,
		End:       testutil.CongressAt11th,
	}))

	h := newHarness(t, st)
	resp := h.get(t, "/api/trips")
	trips := decodeBody[[]store.TripLog](t, resp)
	require.Len(t, trips, 1)
	assert.InDelta(t, 4.2, trips[0].Miles, 1e-9)

	resp = h.get(t, "/api/trips?limit=0")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTripsWithoutStore(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.get(t, "/api/trips")
	assert.Empty(t, decodeBody[[]store.TripLog](t, resp))
}

func TestLookAheadEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, "/api/lookahead")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, h.engine.ProcessFix(context.Background(), motion.RawFix{
		Pos:      testutil.CongressAt1st,
		SpeedMPS: 10,
		Course:   0,
		Time:     h.clock.Now(),
	}))

	resp = h.get(t, "/api/lookahead?meters=200")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pos := decodeBody[geo.LatLng](t, resp)
	assert.True(t, pos.IsValid())

	resp = h.get(t, "/api/lookahead?meters=-5")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVersionEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.get(t, "/api/version")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "dev", body["version"])
}

func TestTelemetryWebsocket(t *testing.T) {
	h := newHarness(t, nil)

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// First frame is the snapshot at connect time.
	var first nav.Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, nav.StateIdle, first.Progress.State)

	require.NoError(t, h.engine.ProcessFix(context.Background(), motion.RawFix{
		Pos:      testutil.CongressAt5th,
		SpeedMPS: 8,
		Course:   10,
		Time:     h.clock.Now(),
	}))

	var next nav.Update
	require.NoError(t, conn.ReadJSON(&next))
	assert.InDelta(t, testutil.CongressAt5th.Lat, next.Estimate.Pos.Lat, 1e-6,
		fmt.Sprintf("frame should carry the processed fix, got %+v", next.Estimate))
}
