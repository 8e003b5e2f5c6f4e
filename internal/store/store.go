// Package store persists engine state to sqlite: the hazard board, the
// fuel fill-up log, completed trip summaries, and small key/value
// snapshots like the last known tank level. Schema changes go through
// versioned migrations embedded in the binary.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/hazard"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sqlite database.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serialises writes; a single connection avoids
	// table-lock errors under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Hazards

// SaveHazard inserts or replaces a hazard row.
func (s *Store) SaveHazard(h hazard.Hazard) error {
	_, err := s.Exec(`
		INSERT INTO hazards (id, type, lat, lng, confirms, denies, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confirms = excluded.confirms,
			denies = excluded.denies,
			expires_at = excluded.expires_at
	`, h.ID, string(h.Type), h.Pos.Lat, h.Pos.Lng, h.Confirms, h.Denies, h.CreatedAt, h.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save hazard %s: %w", h.ID, err)
	}
	return nil
}

// DeleteHazard removes a hazard row. Missing rows are not an error.
func (s *Store) DeleteHazard(id string) error {
	_, err := s.Exec(`DELETE FROM hazards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete hazard %s: %w", id, err)
	}
	return nil
}

// ListHazards returns all stored hazards, including expired ones; the
// board filters on restore.
func (s *Store) ListHazards() ([]hazard.Hazard, error) {
	rows, err := s.Query(`
		SELECT id, type, lat, lng, confirms, denies, created_at, expires_at
		FROM hazards ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list hazards: %w", err)
	}
	defer rows.Close()

	var out []hazard.Hazard
	for rows.Next() {
		var h hazard.Hazard
		var typ string
		if err := rows.Scan(&h.ID, &typ, &h.Pos.Lat, &h.Pos.Lng, &h.Confirms, &h.Denies, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan hazard: %w", err)
		}
		h.Type = hazard.Type(typ)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListHazardsByType returns stored hazards of one type.
func (s *Store) ListHazardsByType(t hazard.Type) ([]hazard.Hazard, error) {
	rows, err := s.Query(`
		SELECT id, type, lat, lng, confirms, denies, created_at, expires_at
		FROM hazards WHERE type = ? ORDER BY created_at
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("list hazards by type: %w", err)
	}
	defer rows.Close()

	var out []hazard.Hazard
	for rows.Next() {
		var h hazard.Hazard
		var typ string
		if err := rows.Scan(&h.ID, &typ, &h.Pos.Lat, &h.Pos.Lng, &h.Confirms, &h.Denies, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan hazard: %w", err)
		}
		h.Type = hazard.Type(typ)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Fuel log

// AppendFill appends one fill-up log entry.
func (s *Store) AppendFill(ev fuel.FillEvent) error {
	var odo sql.NullFloat64
	if ev.Odometer > 0 {
		odo = sql.NullFloat64{Float64: ev.Odometer, Valid: true}
	}
	_, err := s.Exec(`
		INSERT INTO fuel_log (id, kind, gallons, odometer, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Kind), ev.Gallons, odo, ev.Time)
	if err != nil {
		return fmt.Errorf("append fill %s: %w", ev.ID, err)
	}
	return nil
}

// ListFills returns the fill-up log, oldest first.
func (s *Store) ListFills() ([]fuel.FillEvent, error) {
	rows, err := s.Query(`
		SELECT id, kind, gallons, odometer, recorded_at
		FROM fuel_log ORDER BY recorded_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var out []fuel.FillEvent
	for rows.Next() {
		var ev fuel.FillEvent
		var kind string
		var odo sql.NullFloat64
		if err := rows.Scan(&ev.ID, &kind, &ev.Gallons, &odo, &ev.Time); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		ev.Kind = fuel.FillKind(kind)
		if odo.Valid {
			ev.Odometer = odo.Float64
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Trip logs

// TripLog summarises one completed drive.
type TripLog struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at"`
	Miles       float64    `json:"miles"`
	AvgSpeedMPH float64    `json:"avg_speed_mph"`
	Start       geo.LatLng `json:"start"`
	End         geo.LatLng `json:"end"`
}

// AppendTrip records a completed trip.
func (s *Store) AppendTrip(tr TripLog) error {
	_, err := s.Exec(`
		INSERT INTO trip_logs (id, started_at, ended_at, miles, avg_speed_mph, start_lat, start_lng, end_lat, end_lng)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.StartedAt, tr.EndedAt, tr.Miles, tr.AvgSpeedMPH,
		tr.Start.Lat, tr.Start.Lng, tr.End.Lat, tr.End.Lng)
	if err != nil {
		return fmt.Errorf("append trip %s: %w", tr.ID, err)
	}
	return nil
}

// ListTrips returns up to limit trips, newest first. limit <= 0 means
// all.
func (s *Store) ListTrips(limit int) ([]TripLog, error) {
	q := `
		SELECT id, started_at, ended_at, miles, avg_speed_mph, start_lat, start_lng, end_lat, end_lng
		FROM trip_logs ORDER BY started_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.Query(q+" LIMIT ?", limit)
	} else {
		rows, err = s.Query(q)
	}
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var out []TripLog
	for rows.Next() {
		var tr TripLog
		if err := rows.Scan(&tr.ID, &tr.StartedAt, &tr.EndedAt, &tr.Miles, &tr.AvgSpeedMPH,
			&tr.Start.Lat, &tr.Start.Lng, &tr.End.Lat, &tr.End.Lng); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Key/value snapshots

// SetKV upserts a key/value pair.
func (s *Store) SetKV(key, value string) error {
	_, err := s.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %q: %w", key, err)
	}
	return nil
}

// GetKV fetches a value; ok is false when the key is absent.
func (s *Store) GetKV(key string) (value string, ok bool, err error) {
	err = s.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %q: %w", key, err)
	}
	return value, true, nil
}
