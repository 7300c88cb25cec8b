package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/geo"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

// RecordFix appends an accepted fix.
func (db *DB) RecordFix(f geolocation.Fix) error {
	p := f.Position
	at := p.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO fixes (
			recorded_unix_nanos, latitude, longitude, altitude, accuracy_m,
			satellites, source, distance_moved_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), p.Coord.Lat, p.Coord.Lon, p.Coord.Alt, p.Accuracy,
		p.Satellites, p.Source, f.DistanceMoved,
	)
	if err != nil {
		return fmt.Errorf("failed to record fix: %w", err)
	}
	return nil
}

// RecentFixes returns up to limit fixes, newest first.
func (db *DB) RecentFixes(limit int) ([]geolocation.Fix, error) {
	rows, err := db.Query(
		`SELECT recorded_unix_nanos, latitude, longitude, altitude, accuracy_m,
			satellites, source, distance_moved_m
		FROM fixes ORDER BY recorded_unix_nanos DESC, fix_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []geolocation.Fix
	for rows.Next() {
		f, err := scanFix(rows)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// LastFix returns the newest fix. ok is false when the journal has none.
func (db *DB) LastFix() (f geolocation.Fix, ok bool, err error) {
	row := db.QueryRow(
		`SELECT recorded_unix_nanos, latitude, longitude, altitude, accuracy_m,
			satellites, source, distance_moved_m
		FROM fixes ORDER BY recorded_unix_nanos DESC, fix_id DESC LIMIT 1`)
	f, err = scanFix(row)
	if errors.Is(err, sql.ErrNoRows) {
		return geolocation.Fix{}, false, nil
	}
	if err != nil {
		return geolocation.Fix{}, false, err
	}
	return f, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFix(s scanner) (geolocation.Fix, error) {
	var (
		nanos int64
		c     geo.Coord
		f     geolocation.Fix
	)
	err := s.Scan(&nanos, &c.Lat, &c.Lon, &c.Alt, &f.Position.Accuracy,
		&f.Position.Satellites, &f.Position.Source, &f.DistanceMoved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, err
		}
		return f, fmt.Errorf("failed to scan fix: %w", err)
	}
	f.Position.Coord = c
	f.Position.Time = time.Unix(0, nanos)
	return f, nil
}

// SessionEvent is a journaled session.Event.
type SessionEvent struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Type        string    `json:"type"`
	Kind        string    `json:"kind,omitempty"`
	SessionType string    `json:"session_type,omitempty"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// RecordSessionEvent appends ev as seen at at.
func (db *DB) RecordSessionEvent(ev session.Event, at time.Time) error {
	var kind, msg string
	if ev.Kind != 0 {
		kind = ev.Kind.String()
	}
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	_, err := db.Exec(
		`INSERT INTO session_events (
			recorded_unix_nanos, event_type, kind, session_type, instance_id, error
		) VALUES (?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), string(ev.Type), kind, string(ev.SessionType), ev.InstanceID, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// RecentSessionEvents returns up to limit events, newest first.
func (db *DB) RecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := db.Query(
		`SELECT event_id, recorded_unix_nanos, event_type, kind, session_type, instance_id, error
		FROM session_events ORDER BY recorded_unix_nanos DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var (
			e     SessionEvent
			nanos int64
		)
		if err := rows.Scan(&e.ID, &nanos, &e.Type, &e.Kind, &e.SessionType, &e.InstanceID, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		e.At = time.Unix(0, nanos)
		events = append(events, e)
	}
	return events, rows.Err()
}
