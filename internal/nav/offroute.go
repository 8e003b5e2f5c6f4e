package nav

import (
	"time"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/motion"
	"github.com/navmiles/navmiles/internal/timeutil"
)

// OffRouteMonitor watches the cross-track distance from the active route
// polyline. The tolerance widens at highway speed where GPS lag drags
// the filtered position off the carriageway. Single outliers do not
// trip it; consecutive offenses do.
type OffRouteMonitor struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock

	strikes     int
	lastReroute time.Time
}

// NewOffRouteMonitor builds a monitor.
func NewOffRouteMonitor(cfg *config.TuningConfig, clock timeutil.Clock) *OffRouteMonitor {
	return &OffRouteMonitor{cfg: cfg, clock: clock}
}

// Check records one estimate against the route geometry and reports
// whether the vehicle is confirmed off route. Empty geometry never
// trips.
func (m *OffRouteMonitor) Check(est motion.Estimate, routePts []geo.LatLng) bool {
	if len(routePts) < 2 {
		m.strikes = 0
		return false
	}

	threshold := m.cfg.GetOffRouteLowMeters()
	if est.SpeedMPH > m.cfg.GetOffRouteHighSpeedMPH() {
		threshold = m.cfg.GetOffRouteHighMeters()
	}

	if geo.DistanceToPolyline(est.Pos, routePts) > threshold {
		m.strikes++
	} else {
		m.strikes = 0
	}
	return m.strikes >= m.cfg.GetOffRouteStrikes()
}

// AllowReroute reports whether the reroute cooldown has elapsed, and if
// so consumes it. The cooldown stops a flapping GPS from hammering the
// directions service.
func (m *OffRouteMonitor) AllowReroute() bool {
	cooldown := time.Duration(m.cfg.GetRerouteCooldownSeconds()) * time.Second
	if !m.lastReroute.IsZero() && m.clock.Since(m.lastReroute) < cooldown {
		return false
	}
	m.lastReroute = m.clock.Now()
	return true
}

// Reset clears strike state, used when a new route is installed.
func (m *OffRouteMonitor) Reset() {
	m.strikes = 0
}
