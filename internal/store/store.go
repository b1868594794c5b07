package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection used for session history.
// A single pgx.Conn is not safe for concurrent use, so every call is serialized.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// Session is one run of the framing pipeline.
type Session struct {
	ID         string
	Source     string
	StartedAt  time.Time
	EndedAt    *time.Time
	Frames     int64
	Detections int64
	AvgFPS     float64
	Config     json.RawMessage
	TrackCount int
}

// SessionStats are written when a session ends.
type SessionStats struct {
	Frames     int64
	Detections int64
	AvgFPS     float64
}

// TrackRecord is the lifetime summary of one face track.
type TrackRecord struct {
	TrackID        int
	FirstFrame     int
	LastFrame      int
	Detections     int
	PeakConfidence float64
	EndedAt        time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS framing_sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames BIGINT NOT NULL DEFAULT 0,
			detections BIGINT NOT NULL DEFAULT 0,
			avg_fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			config JSONB
		);
		CREATE TABLE IF NOT EXISTS session_tracks (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES framing_sessions(id) ON DELETE CASCADE,
			track_id INT NOT NULL,
			first_frame INT NOT NULL,
			last_frame INT NOT NULL,
			detections INT NOT NULL,
			peak_confidence DOUBLE PRECISION NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS session_tracks_session_id_idx ON session_tracks (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// StartSession registers a new session. cfg is stored as JSON for later inspection.
func (s *Store) StartSession(ctx context.Context, id, source string, cfg interface{}) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO framing_sessions (id, source, started_at, config)
		VALUES ($1, $2, NOW(), $3)
	`, id, source, raw)
	return err
}

// EndSession stamps the end time and final counters.
func (s *Store) EndSession(ctx context.Context, id string, stats SessionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, `
		UPDATE framing_sessions
		SET ended_at = NOW(), frames = $2, detections = $3, avg_fps = $4
		WHERE id = $1
	`, id, stats.Frames, stats.Detections, stats.AvgFPS)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTrack saves the summary of a track that left the scene.
func (s *Store) InsertTrack(ctx context.Context, sessionID string, t TrackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO session_tracks (session_id, track_id, first_frame, last_frame, detections, peak_confidence, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sessionID, t.TrackID, t.FirstFrame, t.LastFrame, t.Detections, t.PeakConfidence, t.EndedAt)
	return err
}

// ListSessions returns the newest sessions first with their track counts.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.source, s.started_at, s.ended_at, s.frames, s.detections, s.avg_fps,
		       COALESCE(s.config, 'null'::jsonb), COUNT(t.id)
		FROM framing_sessions s
		LEFT JOIN session_tracks t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var ss Session
		var cfg []byte
		if err := rows.Scan(&ss.ID, &ss.Source, &ss.StartedAt, &ss.EndedAt, &ss.Frames, &ss.Detections, &ss.AvgFPS, &cfg, &ss.TrackCount); err != nil {
			return nil, err
		}
		ss.Config = cfg
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// GetSessionTracks returns the tracks of one session ordered by track id.
func (s *Store) GetSessionTracks(ctx context.Context, sessionID string) ([]TrackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM framing_sessions WHERE id = $1)", sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.conn.Query(ctx, `
		SELECT track_id, first_frame, last_frame, detections, peak_confidence, ended_at
		FROM session_tracks
		WHERE session_id = $1
		ORDER BY track_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []TrackRecord
	for rows.Next() {
		var t TrackRecord
		if err := rows.Scan(&t.TrackID, &t.FirstFrame, &t.LastFrame, &t.Detections, &t.PeakConfidence, &t.EndedAt); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS session_tracks CASCADE;
		DROP TABLE IF EXISTS framing_sessions CASCADE;
	`)
	return err
}
