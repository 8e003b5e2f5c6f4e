// Package hazard maintains the crowd-sourced road hazard board. Reports
// near an existing hazard of the same type refresh it instead of piling
// up duplicates, drivers passing a hazard get asked whether it is still
// there, and hazards expire on a timer or after enough denials.
package hazard

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/timeutil"
)

// ErrNotFound is returned when voting on a hazard that no longer exists.
var ErrNotFound = errors.New("hazard: not found")

// Type classifies a hazard report.
type Type string

const (
	TypePolice  Type = "police"
	TypeCrash   Type = "crash"
	TypeDebris  Type = "debris"
	TypeClosure Type = "closure"
)

// ValidType reports whether t is a known hazard type.
func ValidType(t Type) bool {
	switch t {
	case TypePolice, TypeCrash, TypeDebris, TypeClosure:
		return true
	}
	return false
}

// Hazard is one active report on the board.
type Hazard struct {
	ID        string     `json:"id"`
	Type      Type       `json:"type"`
	Pos       geo.LatLng `json:"pos"`
	Confirms  int        `json:"confirms"`
	Denies    int        `json:"denies"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Prompt asks the driver whether a hazard they just passed is still
// present.
type Prompt struct {
	Hazard Hazard `json:"hazard"`
}

// Board owns the active hazard set. Safe for concurrent use.
type Board struct {
	mu sync.Mutex

	cfg   *config.TuningConfig
	clock timeutil.Clock

	hazards map[string]*Hazard
	timers  map[string]timeutil.Timer

	// Per-hazard pass tracking for the confirmation prompt.
	entered  map[string]bool
	prompted map[string]bool

	onRemove func(Hazard)
}

// NewBoard builds an empty Board.
func NewBoard(cfg *config.TuningConfig, clock timeutil.Clock) *Board {
	return &Board{
		cfg:      cfg,
		clock:    clock,
		hazards:  make(map[string]*Hazard),
		timers:   make(map[string]timeutil.Timer),
		entered:  make(map[string]bool),
		prompted: make(map[string]bool),
	}
}

// SetRemoveHandler registers a callback invoked whenever a hazard leaves
// the board, whether by expiry or denial. Used to keep persistent
// storage in sync.
func (b *Board) SetRemoveHandler(fn func(Hazard)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemove = fn
}

// Restore loads previously persisted hazards, dropping any already
// expired and scheduling expiry for the rest.
func (b *Board) Restore(hazards []Hazard) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	for _, h := range hazards {
		if !h.ExpiresAt.After(now) {
			continue
		}
		hc := h
		b.hazards[h.ID] = &hc
		b.scheduleExpiryLocked(h.ID, h.ExpiresAt.Sub(now))
	}
}

// Report records a sighting. A report within the merge radius of an
// existing hazard of the same type refreshes it: confirmations go up,
// denials reset, and the expiry clock restarts. Otherwise a new hazard
// is created. Returns the hazard and whether it was newly created.
func (b *Board) Report(typ Type, pos geo.LatLng) (Hazard, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merge := b.cfg.GetHazardMergeMeters()
	ttl := time.Duration(b.cfg.GetHazardTTLMinutes()) * time.Minute

	for _, h := range b.hazards {
		if h.Type == typ && geo.Distance(h.Pos, pos) <= merge {
			h.Confirms++
			h.Denies = 0
			h.ExpiresAt = b.clock.Now().Add(ttl)
			b.scheduleExpiryLocked(h.ID, ttl)
			monitoring.Logf("hazard: refreshed %s %s (%d confirms)", h.Type, h.ID, h.Confirms)
			return *h, false
		}
	}

	now := b.clock.Now()
	h := &Hazard{
		ID:        uuid.New().String(),
		Type:      typ,
		Pos:       pos,
		Confirms:  1,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	b.hazards[h.ID] = h
	b.scheduleExpiryLocked(h.ID, ttl)
	monitoring.Logf("hazard: created %s %s", h.Type, h.ID)
	return *h, true
}

// Vote records a driver's answer to a hazard prompt. Confirmations
// refresh the expiry; enough denials delete the hazard outright.
func (b *Board) Vote(id string, stillThere bool) (Hazard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hazards[id]
	if !ok {
		return Hazard{}, ErrNotFound
	}

	if stillThere {
		ttl := time.Duration(b.cfg.GetHazardTTLMinutes()) * time.Minute
		h.Confirms++
		h.Denies = 0
		h.ExpiresAt = b.clock.Now().Add(ttl)
		b.scheduleExpiryLocked(id, ttl)
		return *h, nil
	}

	h.Denies++
	if h.Denies >= b.cfg.GetHazardDenyLimit() {
		gone := *h
		b.removeLocked(id)
		monitoring.Logf("hazard: removed %s %s after %d denials", gone.Type, id, gone.Denies)
		return gone, nil
	}
	return *h, nil
}

// UpdatePosition feeds the vehicle position to the pass detector. A
// prompt fires once per hazard after the vehicle has come within the
// inner radius and then left the outer one.
func (b *Board) UpdatePosition(pos geo.LatLng) []Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()

	in := b.cfg.GetHazardPromptInMeters()
	out := b.cfg.GetHazardPromptOutMeters()

	var prompts []Prompt
	for id, h := range b.hazards {
		d := geo.Distance(pos, h.Pos)
		switch {
		case d <= in:
			b.entered[id] = true
		case d > out:
			if b.entered[id] && !b.prompted[id] {
				b.prompted[id] = true
				prompts = append(prompts, Prompt{Hazard: *h})
			}
		}
	}
	return prompts
}

// Active returns all live hazards, newest first.
func (b *Board) Active() []Hazard {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Hazard, 0, len(b.hazards))
	for _, h := range b.hazards {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Near returns hazards within radius meters of pos.
func (b *Board) Near(pos geo.LatLng, radius float64) []Hazard {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Hazard
	for _, h := range b.hazards {
		if geo.Distance(pos, h.Pos) <= radius {
			out = append(out, *h)
		}
	}
	return out
}

func (b *Board) scheduleExpiryLocked(id string, d time.Duration) {
	if t, ok := b.timers[id]; ok {
		t.Reset(d)
		return
	}
	b.timers[id] = b.clock.AfterFunc(d, func() {
		b.expire(id)
	})
}

func (b *Board) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hazards[id]
	if !ok {
		return
	}
	// A refresh may have raced the timer fire.
	if h.ExpiresAt.After(b.clock.Now()) {
		return
	}
	monitoring.Logf("hazard: expired %s %s", h.Type, id)
	b.removeLocked(id)
}

func (b *Board) removeLocked(id string) {
	h, ok := b.hazards[id]
	if !ok {
		return
	}
	gone := *h
	delete(b.hazards, id)
	delete(b.entered, id)
	delete(b.prompted, id)
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
	if b.onRemove != nil {
		go b.onRemove(gone)
	}
}
