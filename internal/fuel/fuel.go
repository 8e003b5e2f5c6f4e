// Package fuel tracks the fuel tank level, calibrates real-world fuel
// economy from the fill-up log, and raises low fuel alerts. All math is
// in gallons and statute miles, matching how US drivers log fill-ups.
package fuel

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/timeutil"
)

var (
	// ErrOdometerRequired is returned when a fill that anchors MPG
	// calibration, or a calibration that lowers the gauge, is recorded
	// without an odometer reading.
	ErrOdometerRequired = errors.New("fuel: odometer reading required")

	// ErrOdometerNotIncreasing is returned when a fill's odometer does
	// not advance past the last recorded reading.
	ErrOdometerNotIncreasing = errors.New("fuel: odometer must increase")

	// ErrBadGallons is returned for non-positive or non-finite gallon
	// amounts.
	ErrBadGallons = errors.New("fuel: gallons must be a positive amount")
)

// FillKind distinguishes fill-up log entries.
type FillKind string

const (
	// FillFull means the tank was topped off. Full fills anchor MPG
	// calibration.
	FillFull FillKind = "full"
	// FillPartial is a splash of gas without topping off.
	FillPartial FillKind = "partial"
	// FillCalibration is a manual correction of the current level,
	// not a purchase.
	FillCalibration FillKind = "calibration"
)

// FillEvent is one entry in the fill-up log.
type FillEvent struct {
	ID       string    `json:"id"`
	Kind     FillKind  `json:"kind"`
	Gallons  float64   `json:"gallons"`
	Odometer float64   `json:"odometer,omitempty"` // miles, 0 means not recorded
	Time     time.Time `json:"time"`
}

// Alert is a low fuel notification.
type Alert struct {
	ThresholdMiles float64 `json:"threshold_miles"`
	RangeMiles     int     `json:"range_miles"`
}

// Status is a snapshot of the model for persistence and display.
type Status struct {
	Gallons      float64 `json:"gallons"`
	TankGallons  float64 `json:"tank_gallons"`
	AvgMPG       float64 `json:"avg_mpg"`
	EPAMPG       float64 `json:"epa_mpg"`
	Estimated    bool    `json:"estimated"` // MPG is the EPA fallback, not calibrated
	RangeMiles   int     `json:"range_miles"`
	Advisory     string  `json:"advisory,omitempty"`
	LastOdometer float64 `json:"last_odometer,omitempty"`
}

// Model owns the fuel state for one vehicle. Safe for concurrent use.
type Model struct {
	mu sync.Mutex

	cfg   *config.TuningConfig
	clock timeutil.Clock

	tankGallons float64
	epaMPG      float64

	gallons   float64
	avgMPG    float64
	estimated bool

	log          []FillEvent
	lastOdometer float64

	lastAlertAt    map[float64]time.Time // per threshold
	firedThreshold float64               // 0 when re-armed
}

// NewModel builds a Model for a vehicle with the given tank capacity and
// EPA combined MPG. gallons is the last known level; log is the existing
// fill-up history, oldest first, and drives the initial calibration.
func NewModel(cfg *config.TuningConfig, clock timeutil.Clock, tankGallons, epaMPG, gallons float64, log []FillEvent) *Model {
	m := &Model{
		cfg:         cfg,
		clock:       clock,
		tankGallons: tankGallons,
		epaMPG:      epaMPG,
		gallons:     math.Max(0, math.Min(gallons, tankGallons)),
		log:         append([]FillEvent(nil), log...),
		lastAlertAt: make(map[float64]time.Time),
	}
	for _, ev := range m.log {
		if ev.Odometer > m.lastOdometer {
			m.lastOdometer = ev.Odometer
		}
	}
	m.recalibrate()
	return m
}

// Drain burns fuel for miles of driving and returns a low fuel alert if
// one fired. Distances under the drain floor are ignored so GPS jitter
// while parked does not bleed the tank.
func (m *Model) Drain(miles float64) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if miles < m.cfg.GetDrainFloorMiles() || math.IsNaN(miles) || math.IsInf(miles, 0) {
		return nil
	}

	mpg := math.Max(m.avgMPG, m.cfg.GetMPGClampMin())
	m.gallons -= miles / mpg
	if m.gallons < 0 {
		m.gallons = 0
	}
	return m.checkLowFuelLocked()
}

// checkLowFuelLocked fires the edge-triggered low fuel alert. Alerts
// fire once per threshold crossing and re-arm once range recovers above
// the first threshold. Each threshold carries its own cooldown, so
// burning through 100 miles straight into 50 still announces both.
func (m *Model) checkLowFuelLocked() *Alert {
	rng := m.rangeMilesLocked()
	first := m.cfg.GetLowFuelFirstMiles()
	second := m.cfg.GetLowFuelSecondMiles()

	if float64(rng) > first {
		m.firedThreshold = 0
		return nil
	}

	var threshold float64
	switch {
	case float64(rng) <= second:
		threshold = second
	default:
		threshold = first
	}
	if m.firedThreshold != 0 && m.firedThreshold <= threshold {
		return nil
	}
	cooldown := time.Duration(m.cfg.GetLowFuelCooldownMinutes()) * time.Minute
	if last, ok := m.lastAlertAt[threshold]; ok && m.clock.Since(last) < cooldown {
		return nil
	}

	m.firedThreshold = threshold
	m.lastAlertAt[threshold] = m.clock.Now()
	monitoring.Logf("fuel: low fuel alert, ~%d mi range (threshold %.0f)", rng, threshold)
	return &Alert{ThresholdMiles: threshold, RangeMiles: rng}
}

// RecordFill appends a fill-up to the log, adjusts the tank level, and
// recalibrates MPG. The event's ID is assigned if empty.
func (m *Model) RecordFill(ev FillEvent) (FillEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if math.IsNaN(ev.Gallons) || math.IsInf(ev.Gallons, 0) ||
		(ev.Kind != FillCalibration && ev.Gallons <= 0) {
		return FillEvent{}, ErrBadGallons
	}
	if ev.Kind == FillFull && ev.Odometer <= 0 {
		return FillEvent{}, ErrOdometerRequired
	}
	// A calibration that lowers the gauge reflects driving done outside
	// the app; it needs the odometer so the mileage is not lost.
	if ev.Kind == FillCalibration && ev.Gallons < m.gallons && ev.Odometer <= 0 {
		return FillEvent{}, ErrOdometerRequired
	}
	if ev.Odometer > 0 && ev.Odometer <= m.lastOdometer {
		return FillEvent{}, ErrOdometerNotIncreasing
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = m.clock.Now()
	}

	switch ev.Kind {
	case FillFull:
		m.gallons = m.tankGallons
	case FillPartial:
		m.gallons = math.Min(m.tankGallons, m.gallons+ev.Gallons)
	case FillCalibration:
		m.gallons = math.Max(0, math.Min(m.tankGallons, ev.Gallons))
	}
	if ev.Odometer > 0 {
		m.lastOdometer = ev.Odometer
	}
	m.log = append(m.log, ev)
	m.recalibrate()
	return ev, nil
}

// recalibrate derives average MPG from the two most recent full fills
// that carry odometer readings: miles driven between them divided by the
// gallons pumped after the first full up to and including the second.
// With fewer than two qualifying fulls the EPA figure stands in.
func (m *Model) recalibrate() {
	var lastFull, prevFull = -1, -1
	for i := len(m.log) - 1; i >= 0; i-- {
		if m.log[i].Kind == FillFull && m.log[i].Odometer > 0 {
			if lastFull == -1 {
				lastFull = i
			} else {
				prevFull = i
				break
			}
		}
	}

	if prevFull == -1 {
		m.avgMPG = m.epaMPG
		m.estimated = true
		return
	}

	miles := m.log[lastFull].Odometer - m.log[prevFull].Odometer
	var gallons float64
	for i := prevFull + 1; i <= lastFull; i++ {
		if m.log[i].Kind != FillCalibration {
			gallons += m.log[i].Gallons
		}
	}
	if miles <= 0 || gallons <= 0 {
		m.avgMPG = m.epaMPG
		m.estimated = true
		return
	}

	m.avgMPG = miles / gallons
	m.estimated = false
}

// rangeMilesLocked computes remaining range with both inputs clamped so
// a corrupted level or an absurd calibration cannot produce a wild
// number on screen.
func (m *Model) rangeMilesLocked() int {
	g := math.Max(0, math.Min(m.gallons, m.tankGallons))
	mpg := math.Max(m.cfg.GetMPGClampMin(), math.Min(m.avgMPG, m.cfg.GetMPGClampEPAFactor()*m.epaMPG))
	return int(math.Round(g * mpg))
}

// RangeMiles returns the clamped remaining range estimate.
func (m *Model) RangeMiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rangeMilesLocked()
}

// Gallons returns the current tank level.
func (m *Model) Gallons() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gallons
}

// Status returns a snapshot including the partial-fill advisory when the
// most recent fills are all partials and calibration is going stale.
func (m *Model) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Gallons:      m.gallons,
		TankGallons:  m.tankGallons,
		AvgMPG:       m.avgMPG,
		EPAMPG:       m.epaMPG,
		Estimated:    m.estimated,
		RangeMiles:   m.rangeMilesLocked(),
		LastOdometer: m.lastOdometer,
	}

	partials := 0
	for i := len(m.log) - 1; i >= 0; i-- {
		if m.log[i].Kind != FillPartial {
			break
		}
		partials++
	}
	if partials >= m.cfg.GetPartialFillAdviceCount() {
		s.Advisory = "Fill the tank completely to recalibrate fuel economy"
	}
	return s
}

// Log returns a copy of the fill-up history, oldest first.
func (m *Model) Log() []FillEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FillEvent(nil), m.log...)
}
