package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

// TrackStore defines the interface for track persistence operations.
type TrackStore interface {
	SaveTrack(track *telemetry.Track) error
	LoadTrack(subject string) (*telemetry.Track, error)
	ClearTrack(subject string) error
	StartSession(session *FlightSession) error
	RecordLanding(sessionID string, pos telemetry.Coordinate, confidence float64, at time.Time) error
	GetSessions(subject string, limit int) ([]*FlightSession, error)
}

// FlightSession is one recorded flight of a subject.
type FlightSession struct {
	SessionID         string                `json:"session_id"`
	Subject           string                `json:"subject"`
	StartedAt         time.Time             `json:"started_at"`
	LandedAt          *time.Time            `json:"landed_at,omitempty"`
	LandingPosition   *telemetry.Coordinate `json:"landing_position,omitempty"`
	LandingConfidence *float64              `json:"landing_confidence,omitempty"`
}

// SaveTrack checkpoints the full track for its subject, replacing any
// previous checkpoint. Runs in one transaction so a torn write can
// never leave a half-replaced track.
func (db *DB) SaveTrack(track *telemetry.Track) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin track checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM track_points WHERE subject = ?`, track.Subject); err != nil {
		return fmt.Errorf("clear previous checkpoint: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO track_points (
			subject, source, lat, lon, altitude_m,
			horizontal_mps, vertical_mps, ts_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare track insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range track.Points {
		if _, err := stmt.Exec(
			p.Subject, string(p.Source), p.Lat, p.Lon, p.AltitudeM,
			p.HorizontalMps, p.VerticalMps, p.Time.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert track point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit track checkpoint: %w", err)
	}
	return nil
}

// LoadTrack returns the persisted track for subject, or nil when no
// checkpoint exists.
func (db *DB) LoadTrack(subject string) (*telemetry.Track, error) {
	rows, err := db.Query(`
		SELECT source, lat, lon, altitude_m, horizontal_mps, vertical_mps, ts_unix_nanos
		FROM track_points
		WHERE subject = ?
		ORDER BY ts_unix_nanos ASC, id ASC
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("query track points: %w", err)
	}
	defer rows.Close()

	track := telemetry.NewTrack(subject)
	for rows.Next() {
		var source string
		var lat, lon, alt, h, v float64
		var nanos int64
		if err := rows.Scan(&source, &lat, &lon, &alt, &h, &v, &nanos); err != nil {
			return nil, fmt.Errorf("scan track point: %w", err)
		}
		track.Append(telemetry.Point{
			Source:        telemetry.Source(source),
			Subject:       subject,
			Lat:           lat,
			Lon:           lon,
			AltitudeM:     alt,
			HorizontalMps: h,
			VerticalMps:   v,
			Time:          time.Unix(0, nanos).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track points: %w", err)
	}

	if track.Len() == 0 {
		return nil, nil
	}
	return track, nil
}

// ClearTrack drops the checkpoint for subject.
func (db *DB) ClearTrack(subject string) error {
	if _, err := db.Exec(`DELETE FROM track_points WHERE subject = ?`, subject); err != nil {
		return fmt.Errorf("clear track: %w", err)
	}
	return nil
}

// StartSession records the start of a flight.
func (db *DB) StartSession(session *FlightSession) error {
	_, err := db.Exec(`
		INSERT INTO flight_sessions (session_id, subject, started_unix_nanos)
		VALUES (?, ?, ?)
	`, session.SessionID, session.Subject, session.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert flight session: %w", err)
	}
	return nil
}

// RecordLanding stamps the landing fix onto a session.
func (db *DB) RecordLanding(sessionID string, pos telemetry.Coordinate, confidence float64, at time.Time) error {
	res, err := db.Exec(`
		UPDATE flight_sessions
		SET landed_lat = ?, landed_lon = ?, landing_confidence = ?, landed_unix_nanos = ?
		WHERE session_id = ?
	`, pos.Lat, pos.Lon, confidence, at.UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("record landing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record landing rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record landing: unknown session %q", sessionID)
	}
	return nil
}

// GetSessions returns the most recent sessions for subject, newest first.
func (db *DB) GetSessions(subject string, limit int) ([]*FlightSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT session_id, subject, started_unix_nanos,
		       landed_lat, landed_lon, landing_confidence, landed_unix_nanos
		FROM flight_sessions
		WHERE subject = ?
		ORDER BY started_unix_nanos DESC
		LIMIT ?
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("query flight sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*FlightSession
	for rows.Next() {
		var s FlightSession
		var startedNanos int64
		var lat, lon, conf sql.NullFloat64
		var landedNanos sql.NullInt64
		if err := rows.Scan(&s.SessionID, &s.Subject, &startedNanos, &lat, &lon, &conf, &landedNanos); err != nil {
			return nil, fmt.Errorf("scan flight session: %w", err)
		}
		s.StartedAt = time.Unix(0, startedNanos).UTC()
		if lat.Valid && lon.Valid {
			s.LandingPosition = &telemetry.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
		}
		if conf.Valid {
			s.LandingConfidence = &conf.Float64
		}
		if landedNanos.Valid {
			at := time.Unix(0, landedNanos.Int64).UTC()
			s.LandedAt = &at
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}
