package nav

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/hazard"
	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/motion"
	"github.com/navmiles/navmiles/internal/route"
	"github.com/navmiles/navmiles/internal/store"
	"github.com/navmiles/navmiles/internal/timeutil"
	"github.com/navmiles/navmiles/internal/units"
)

// Router is the slice of the directions client the engine needs.
// Implemented by route.Client.
type Router interface {
	Directions(ctx context.Context, origin, dest geo.LatLng, waypoints []geo.LatLng, avoidTolls bool) ([]route.Route, error)
	SnapToRoad(ctx context.Context, p geo.LatLng) geo.LatLng
}

// Keys for persisted snapshots.
const (
	KVFuelGallons = "fuel_gallons"
	KVLastDrain   = "fuel_last_drain"
	KVNavMode     = "nav_mode"
)

// Update is one telemetry frame pushed to subscribers after every
// processed fix and every guidance tick.
type Update struct {
	Estimate motion.Estimate `json:"estimate"`
	Fuel     fuel.Status     `json:"fuel"`
	Progress Progress        `json:"progress"`
}

// Deps are the engine's collaborators.
type Deps struct {
	Cfg       *config.TuningConfig
	Clock     timeutil.Clock
	Router    Router
	Announcer Announcer
	Store     *store.Store // nil disables persistence
	Fuel      *fuel.Model
	Board     *hazard.Board
}

type tripState struct {
	id         string
	startedAt  time.Time
	start      geo.LatLng
	end        geo.LatLng
	lastMoveAt time.Time
	miles      float64
}

// Engine owns one vehicle's navigation pipeline. Raw fixes enter via
// ProcessFix; guidance cadence runs in Run. All mutation happens under
// one mutex so per-fix ordering (filter, fuel, hazards, off-route) is
// deterministic.
type Engine struct {
	mu sync.Mutex

	cfg       *config.TuningConfig
	clock     timeutil.Clock
	router    Router
	announcer Announcer
	st        *store.Store

	filter   *motion.Filter
	guider   *Guider
	offroute *OffRouteMonitor
	fuel     *fuel.Model
	board    *hazard.Board

	lastEst motion.Estimate
	hasEst  bool
	// drainAnchor is where fuel accounting last settled. It advances
	// only when accumulated displacement clears the drain floor, so
	// slow creep keeps adding up instead of vanishing fix by fix.
	drainAnchor geo.LatLng
	trip        *tripState

	subscribers map[int]chan Update
	nextSubID   int
}

// NewEngine wires an Engine from its dependencies and registers the
// hazard persistence hooks.
func NewEngine(d Deps) *Engine {
	e := &Engine{
		cfg:         d.Cfg,
		clock:       d.Clock,
		router:      d.Router,
		announcer:   d.Announcer,
		st:          d.Store,
		filter:      motion.NewFilter(d.Cfg),
		guider:      NewGuider(d.Cfg, d.Clock, d.Announcer),
		offroute:    NewOffRouteMonitor(d.Cfg, d.Clock),
		fuel:        d.Fuel,
		board:       d.Board,
		subscribers: make(map[int]chan Update),
	}
	if e.st != nil {
		e.board.SetRemoveHandler(func(h hazard.Hazard) {
			if err := e.st.DeleteHazard(h.ID); err != nil {
				monitoring.Logf("nav: delete hazard %s: %v", h.ID, err)
			}
		})
	}
	return e
}

// RestoreHazards loads persisted hazards onto the board.
func (e *Engine) RestoreHazards() error {
	if e.st == nil {
		return nil
	}
	hazards, err := e.st.ListHazards()
	if err != nil {
		return fmt.Errorf("restore hazards: %w", err)
	}
	e.board.Restore(hazards)
	return nil
}

// ProcessFix runs one raw fix through the pipeline: motion filtering,
// fuel drain, hazard proximity, off-route detection. Invalid fixes are
// dropped with an error.
func (e *Engine) ProcessFix(ctx context.Context, fix motion.RawFix) error {
	est, err := e.filter.Process(fix)
	if err != nil {
		monitoring.Logf("nav: dropped fix: %v", err)
		return err
	}

	e.mu.Lock()

	// Fuel drain from filtered displacement against the anchor.
	miles := 0.0
	if !e.hasEst {
		e.drainAnchor = est.Pos
	} else if d := units.MetersToMiles(geo.Distance(e.drainAnchor, est.Pos)); d >= e.cfg.GetDrainFloorMiles() {
		miles = d
		e.drainAnchor = est.Pos
		if alert := e.fuel.Drain(miles); alert != nil {
			body := fmt.Sprintf("About %d miles of fuel left", alert.RangeMiles)
			e.announcer.Speak(body)
			e.announcer.Notify("lowfuel", "Low fuel", body)
		}
		e.persistGallonsLocked()
	}
	e.trackTripLocked(est, miles)
	e.lastEst = est
	e.hasEst = true
	e.mu.Unlock()

	// Hazard pass prompts.
	for _, p := range e.board.UpdatePosition(est.Pos) {
		e.announcer.Notify("hazard:"+p.Hazard.ID,
			"Hazard check",
			fmt.Sprintf("Is the %s still there?", p.Hazard.Type))
	}

	// Off-route detection with silent reroute.
	e.mu.Lock()
	confirmed := e.offroute.Check(est, e.guider.routePoints())
	e.mu.Unlock()
	if confirmed {
		e.maybeReroute(ctx, est)
	}

	e.guider.UpdateEstimate(est)
	e.publish()
	return nil
}

// maybeReroute fetches a fresh route to the existing destination with
// waypoints and toll preference preserved. Deliberately silent: no voice
// announcement, the map just heals.
func (e *Engine) maybeReroute(ctx context.Context, est motion.Estimate) {
	goal, ok := e.guider.currentGoal()
	if !ok {
		return
	}
	e.mu.Lock()
	allowed := e.offroute.AllowReroute()
	e.mu.Unlock()
	if !allowed {
		return
	}

	origin := e.router.SnapToRoad(ctx, est.Pos)
	routes, err := e.router.Directions(ctx, origin, goal.dest, goal.waypoints, goal.avoidTolls)
	if err != nil {
		monitoring.Logf("nav: reroute failed: %v", err)
		return
	}

	monitoring.Logf("nav: rerouting via %s", routes[0].Summary)
	e.guider.Start(routes[0], goal.dest, goal.waypoints, goal.avoidTolls, false)
	e.mu.Lock()
	e.offroute.Reset()
	e.mu.Unlock()
}

// Navigate starts guidance from the current position to dest. The
// origin is snapped to the road network first. avoidTolls sticks to the
// session and carries through reroutes.
func (e *Engine) Navigate(ctx context.Context, dest geo.LatLng, waypoints []geo.LatLng, avoidTolls bool) (route.Route, error) {
	e.mu.Lock()
	hasEst := e.hasEst
	est := e.lastEst
	e.mu.Unlock()
	if !hasEst {
		return route.Route{}, fmt.Errorf("nav: no position fix yet")
	}

	origin := e.router.SnapToRoad(ctx, est.Pos)
	routes, err := e.router.Directions(ctx, origin, dest, waypoints, avoidTolls)
	if err != nil {
		return route.Route{}, err
	}

	e.guider.Start(routes[0], dest, waypoints, avoidTolls, true)
	e.mu.Lock()
	e.offroute.Reset()
	e.mu.Unlock()
	e.persistNavMode(string(StateGuiding))
	e.publish()
	return routes[0], nil
}

// StopNavigation cancels guidance.
func (e *Engine) StopNavigation() {
	e.guider.Stop()
	e.persistNavMode(string(StateIdle))
	e.publish()
}

// Run drives the guidance tick loop until ctx is cancelled, then
// flushes the trip log.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.GetTickIntervalMillis()) * time.Millisecond
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.FlushTrip()
			return
		case <-ticker.C():
			e.TickOnce()
		}
	}
}

// TickOnce runs one guidance evaluation. Exposed for deterministic
// tests; Run calls it on the tick interval.
func (e *Engine) TickOnce() {
	before := e.guider.State()
	e.guider.Tick()
	after := e.guider.State()

	if before == StateGuiding && after == StateArrived {
		e.persistNavMode(string(StateArrived))
		e.FlushTrip()
	}
	e.publish()
}

// trackTripLocked accumulates the current drive. A trip opens on the
// first moving fix and closes via FlushTrip.
func (e *Engine) trackTripLocked(est motion.Estimate, miles float64) {
	moving := est.SpeedMPH >= 1
	if e.trip == nil {
		if !moving {
			return
		}
		e.trip = &tripState{
			id:         uuid.New().String(),
			startedAt:  est.Time,
			start:      est.Pos,
			end:        est.Pos,
			lastMoveAt: est.Time,
		}
		return
	}
	e.trip.miles += miles
	e.trip.end = est.Pos
	if moving {
		e.trip.lastMoveAt = est.Time
	}
}

// FlushTrip writes the open trip summary, if any, and resets it.
func (e *Engine) FlushTrip() {
	e.mu.Lock()
	trip := e.trip
	e.trip = nil
	e.mu.Unlock()

	if trip == nil || trip.miles <= 0 {
		return
	}
	hours := trip.lastMoveAt.Sub(trip.startedAt).Hours()
	avg := 0.0
	if hours > 0 {
		avg = trip.miles / hours
	}
	tl := store.TripLog{
		ID:          trip.id,
		StartedAt:   trip.startedAt,
		EndedAt:     trip.lastMoveAt,
		Miles:       trip.miles,
		AvgSpeedMPH: avg,
		Start:       trip.start,
		End:         trip.end,
	}
	if e.st != nil {
		if err := e.st.AppendTrip(tl); err != nil {
			monitoring.Logf("nav: trip log write failed: %v", err)
			return
		}
	}
	monitoring.Logf("nav: trip logged, %.1f mi at %.0f mph", tl.Miles, tl.AvgSpeedMPH)
}

// ReportHazard records a sighting and persists it.
func (e *Engine) ReportHazard(typ hazard.Type, pos geo.LatLng) (hazard.Hazard, error) {
	if !ValidHazardInput(typ, pos) {
		return hazard.Hazard{}, fmt.Errorf("nav: bad hazard report: type %q pos %+v", typ, pos)
	}
	h, _ := e.board.Report(typ, pos)
	if e.st != nil {
		if err := e.st.SaveHazard(h); err != nil {
			monitoring.Logf("nav: persist hazard %s: %v", h.ID, err)
		}
	}
	return h, nil
}

// VoteHazard answers a hazard prompt and syncs storage.
func (e *Engine) VoteHazard(id string, stillThere bool) (hazard.Hazard, error) {
	h, err := e.board.Vote(id, stillThere)
	if err != nil {
		return hazard.Hazard{}, err
	}
	if e.st != nil && h.Denies < e.cfg.GetHazardDenyLimit() {
		// Deletion is handled by the board's remove hook.
		if err := e.st.SaveHazard(h); err != nil {
			monitoring.Logf("nav: persist hazard vote %s: %v", id, err)
		}
	}
	return h, nil
}

// RecordFill logs a fill-up, updates the tank, and persists both.
func (e *Engine) RecordFill(ev fuel.FillEvent) (fuel.FillEvent, error) {
	ev, err := e.fuel.RecordFill(ev)
	if err != nil {
		return fuel.FillEvent{}, err
	}
	if e.st != nil {
		if err := e.st.AppendFill(ev); err != nil {
			monitoring.Logf("nav: persist fill %s: %v", ev.ID, err)
		}
	}
	e.mu.Lock()
	e.persistGallonsLocked()
	e.mu.Unlock()
	e.publish()
	return ev, nil
}

// Board exposes the hazard board for read-only consumers.
func (e *Engine) Board() *hazard.Board { return e.board }

// Fuel exposes the fuel model for read-only consumers.
func (e *Engine) Fuel() *fuel.Model { return e.fuel }

// LookAhead projects a point the given distance ahead of the vehicle
// along its current heading, for searching fuel stops up the road.
func (e *Engine) LookAhead(meters float64) (geo.LatLng, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasEst {
		return geo.LatLng{}, false
	}
	return geo.DestinationPoint(e.lastEst.Pos, meters, e.lastEst.Heading), true
}

// Snapshot returns the current telemetry frame.
func (e *Engine) Snapshot() Update {
	e.mu.Lock()
	est := e.lastEst
	e.mu.Unlock()
	return Update{
		Estimate: est,
		Fuel:     e.fuel.Status(),
		Progress: e.guider.Progress(),
	}
}

// Subscribe registers a telemetry channel. Slow consumers drop frames
// rather than stalling the pipeline.
func (e *Engine) Subscribe() (int, <-chan Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan Update, 8)
	e.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a telemetry channel.
func (e *Engine) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		close(ch)
	}
}

func (e *Engine) publish() {
	u := e.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (e *Engine) persistGallonsLocked() {
	if e.st == nil {
		return
	}
	v := strconv.FormatFloat(e.fuel.Gallons(), 'f', 3, 64)
	if err := e.st.SetKV(KVFuelGallons, v); err != nil {
		monitoring.Logf("nav: persist gallons: %v", err)
	}
	if err := e.st.SetKV(KVLastDrain, e.clock.Now().Format(time.RFC3339)); err != nil {
		monitoring.Logf("nav: persist drain time: %v", err)
	}
}

func (e *Engine) persistNavMode(mode string) {
	if e.st == nil {
		return
	}
	if err := e.st.SetKV(KVNavMode, mode); err != nil {
		monitoring.Logf("nav: persist nav mode: %v", err)
	}
}

// ValidHazardInput checks a hazard report before it reaches the board.
func ValidHazardInput(typ hazard.Type, pos geo.LatLng) bool {
	return hazard.ValidType(typ) && pos.IsValid()
}
