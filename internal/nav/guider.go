// Package nav drives turn-by-turn guidance: the per-route session state
// machine, voice announcements, off-route detection with silent
// rerouting, and the engine that ties the motion filter, fuel model and
// hazard board to a position source.
package nav

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/motion"
	"github.com/navmiles/navmiles/internal/route"
	"github.com/navmiles/navmiles/internal/timeutil"
	"github.com/navmiles/navmiles/internal/units"
)

// State is the guidance lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateGuiding State = "guiding"
	StateArrived State = "arrived"
)

// Announcer delivers guidance output to the driver. Speak is voice:
// spoken once, immediately. Notify is a visual notification deduped by
// key upstream of the OS notification tray. CancelAll stops in-flight
// speech and withdraws pending notifications when guidance ends.
type Announcer interface {
	Speak(text string)
	Notify(key, title, body string)
	CancelAll()
}

// Announcement distance keys, tracked once per step.
const (
	cueMile  = "mile"
	cueClose = "close"
	cueNow   = "now"
)

// session is the per-route guidance state. It dies with the route.
type session struct {
	route       route.Route
	destination geo.LatLng
	waypoints   []geo.LatLng
	avoidTolls  bool
	stepIndex   int
	startedAt   time.Time

	// Per-step announcement edge tracking.
	announced map[string]bool
	// Distance to the step end at the previous tick, -1 until the
	// first tick of a step. Cues fire on threshold crossings only.
	prevCueDist float64
	// Notification dedupe: key -> last delivery.
	notified map[string]time.Time

	// Pass-jitter detection for the current step.
	inPassWindow bool
	prevStepDist float64
	passCount    int
}

func (s *session) resetStepState() {
	s.prevCueDist = -1
	s.inPassWindow = false
	s.prevStepDist = 0
	s.passCount = 0
}

func (s *session) cueKey(cue string) string {
	return fmt.Sprintf("step%d:%s", s.stepIndex, cue)
}

// Progress is a snapshot of guidance state for display.
type Progress struct {
	State           State      `json:"state"`
	StepIndex       int        `json:"step_index"`
	Instruction     string     `json:"instruction,omitempty"`
	TurnDistance    string     `json:"turn_distance,omitempty"`
	RemainingMiles  float64    `json:"remaining_miles"`
	ETA             string     `json:"eta,omitempty"`
	Destination     geo.LatLng `json:"destination,omitempty"`
	RouteSummary    string     `json:"route_summary,omitempty"`
	DistanceToTurnM float64    `json:"distance_to_turn_m"`
}

// Guider runs the guidance state machine. Position estimates stream in
// via UpdateEstimate; guidance decisions happen on Tick so announcement
// cadence is decoupled from fix rate.
type Guider struct {
	mu sync.Mutex

	cfg       *config.TuningConfig
	clock     timeutil.Clock
	announcer Announcer

	state   State
	session *session

	est    motion.Estimate
	hasEst bool
}

// NewGuider builds an idle Guider.
func NewGuider(cfg *config.TuningConfig, clock timeutil.Clock, announcer Announcer) *Guider {
	return &Guider{
		cfg:       cfg,
		clock:     clock,
		announcer: announcer,
		state:     StateIdle,
	}
}

// Start begins guiding along r toward dest. Any prior session is
// replaced. avoidTolls is remembered so reroutes keep the preference.
// announce controls whether the first instruction is spoken; silent
// restarts are used for rerouting.
func (g *Guider) Start(r route.Route, dest geo.LatLng, waypoints []geo.LatLng, avoidTolls, announce bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.session = &session{
		route:       r,
		destination: dest,
		waypoints:   append([]geo.LatLng(nil), waypoints...),
		avoidTolls:  avoidTolls,
		startedAt:   g.clock.Now(),
		announced:   make(map[string]bool),
		prevCueDist: -1,
		notified:    make(map[string]time.Time),
	}
	g.state = StateGuiding
	monitoring.Logf("nav: guidance started, %d steps, %.1f mi",
		len(r.Steps), units.MetersToMiles(r.DistanceMeters))

	if announce && len(r.Steps) > 0 {
		g.announcer.Speak(r.Steps[0].Instruction)
	}
}

// Stop ends guidance and returns to idle.
func (g *Guider) Stop() {
	g.mu.Lock()
	g.session = nil
	g.state = StateIdle
	g.mu.Unlock()
	// Outside the lock: announcer implementations may call back in.
	g.announcer.CancelAll()
}

// State returns the current lifecycle state.
func (g *Guider) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// UpdateEstimate records the latest filtered position.
func (g *Guider) UpdateEstimate(est motion.Estimate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.est = est
	g.hasEst = true
}

// Tick evaluates guidance against the latest estimate: distance cues,
// step advancement, and arrival. Call on a steady interval.
func (g *Guider) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateGuiding || g.session == nil || !g.hasEst {
		return
	}
	s := g.session
	if s.stepIndex >= len(s.route.Steps) {
		g.arriveLocked()
		return
	}

	step := s.route.Steps[s.stepIndex]
	d := geo.Distance(g.est.Pos, step.End)

	g.announceLocked(s, step, d)

	if g.shouldAdvanceLocked(s, d) {
		g.advanceLocked()
	}
}

// announceLocked fires the distance cues for the current step. A cue
// fires only when the vehicle actually crosses its threshold inbound, so
// a step entered already inside a band stays quiet until the next
// crossing. The utterance carries the live distance; the final callout
// speaks the bare instruction.
func (g *Guider) announceLocked(s *session, step route.Step, d float64) {
	prev := s.prevCueDist
	s.prevCueDist = d
	if prev < 0 {
		return
	}

	type cue struct {
		key    string
		within float64
	}
	cues := []cue{
		{cueNow, g.cfg.GetAnnounceNowMeters()},
		{cueClose, g.cfg.GetAnnounce400FtMeters()},
		{cueMile, g.cfg.GetAnnounceMileMeters()},
	}
	for _, c := range cues {
		if prev <= c.within || d > c.within || s.announced[s.cueKey(c.key)] {
			continue
		}
		s.announced[s.cueKey(c.key)] = true

		spokenD := d
		if c.key == cueNow {
			spokenD = 0
		}
		text := spokenCue(spokenD, step.Instruction, s.stepIndex)
		g.announcer.Speak(text)
		g.notifyLocked(s, s.cueKey(c.key), "Upcoming turn", text)
		break
	}
}

// notifyLocked delivers a notification unless the same key fired within
// the cooldown.
func (g *Guider) notifyLocked(s *session, key, title, body string) {
	cooldown := time.Duration(g.cfg.GetNotifyCooldownSeconds()) * time.Second
	if last, ok := s.notified[key]; ok && g.clock.Since(last) < cooldown {
		return
	}
	s.notified[key] = g.clock.Now()
	g.announcer.Notify(key, title, body)
}

// shouldAdvanceLocked decides whether the current step is done: either
// the vehicle closed within the turn radius, or it entered the pass
// window and the distance has been growing for consecutive ticks,
// meaning the turn was taken (or missed) between fixes.
func (g *Guider) shouldAdvanceLocked(s *session, d float64) bool {
	if d < g.cfg.GetNearTurnMeters() {
		return true
	}

	if d < g.cfg.GetPassWindowMeters() {
		s.inPassWindow = true
	}
	if s.inPassWindow {
		if s.prevStepDist > 0 && d > s.prevStepDist {
			s.passCount++
		} else {
			s.passCount = 0
		}
		s.prevStepDist = d
		if s.passCount >= g.cfg.GetPassJitterCount() {
			return true
		}
	}
	return false
}

func (g *Guider) advanceLocked() {
	s := g.session
	s.stepIndex++
	s.resetStepState()

	if s.stepIndex >= len(s.route.Steps) {
		g.arriveLocked()
		return
	}
	monitoring.Logf("nav: advanced to step %d/%d", s.stepIndex+1, len(s.route.Steps))
}

func (g *Guider) arriveLocked() {
	g.state = StateArrived
	// Flush any queued turn speech and withdraw pending notifications
	// before the arrival line.
	g.announcer.CancelAll()
	g.announcer.Speak("You have arrived at your destination")
	monitoring.Logf("nav: arrived after %s", g.clock.Since(g.session.startedAt).Round(time.Second))
	g.session = nil
}

// Progress returns a display snapshot. Zero value when idle.
func (g *Guider) Progress() Progress {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := Progress{State: g.state}
	if g.state != StateGuiding || g.session == nil {
		return p
	}
	s := g.session
	p.StepIndex = s.stepIndex
	p.Destination = s.destination
	p.RouteSummary = s.route.Summary

	if s.stepIndex < len(s.route.Steps) && g.hasEst {
		step := s.route.Steps[s.stepIndex]
		d := geo.Distance(g.est.Pos, step.End)
		p.Instruction = step.Instruction
		p.DistanceToTurnM = d
		p.TurnDistance = FormatTurnDistance(d)

		// Remaining time is the sum of the later steps' durations plus
		// the unfinished share of the current step's.
		remaining := d
		seconds := 0.0
		if step.DistanceMeters > 0 {
			seconds = step.DurationSeconds * math.Min(1, d/step.DistanceMeters)
		}
		for i := s.stepIndex + 1; i < len(s.route.Steps); i++ {
			remaining += s.route.Steps[i].DistanceMeters
			seconds += s.route.Steps[i].DurationSeconds
		}
		p.RemainingMiles = units.MetersToMiles(remaining)
		p.ETA = FormatETA(seconds)
	}
	return p
}

// Session route geometry for off-route checks. Returns nil when not
// guiding.
func (g *Guider) routePoints() []geo.LatLng {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateGuiding || g.session == nil {
		return nil
	}
	return g.session.route.Points
}

// goal is the routing target of an active session, used for rerouting.
type goal struct {
	dest       geo.LatLng
	waypoints  []geo.LatLng
	avoidTolls bool
}

// currentGoal returns the active routing goal for rerouting.
func (g *Guider) currentGoal() (goal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateGuiding || g.session == nil {
		return goal{}, false
	}
	return goal{
		dest:       g.session.destination,
		waypoints:  g.session.waypoints,
		avoidTolls: g.session.avoidTolls,
	}, true
}
