// Package transcript persists the outcome of every completed reveal in
// PostgreSQL: what was shown, how it ended and how long it took.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/whisper/reveal/internal/reveal"
)

// Transcript is one completed reveal.
type Transcript struct {
	ID        int64
	StreamID  string
	SessionID string
	Status    reveal.Status
	Skipped   bool
	Revealed  int
	Total     int
	Text      string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// FromResult builds a Transcript from a reveal result.
func FromResult(streamID, sessionID string, r reveal.Result, d time.Duration) Transcript {
	t := Transcript{
		StreamID:  streamID,
		SessionID: sessionID,
		Status:    r.Status,
		Skipped:   r.Skipped,
		Revealed:  r.Revealed,
		Total:     r.Total,
		Text:      r.Text,
		Duration:  d,
	}
	if r.Err != nil {
		t.Error = r.Err.Error()
	}
	return t
}

// Store manages transcripts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a new transcript store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a transcript.
func (s *Store) Record(ctx context.Context, t Transcript) error {
	if t.Status != reveal.StatusSuccess && t.Status != reveal.StatusTruncated {
		return fmt.Errorf("transcript: invalid status %q", t.Status)
	}

	var errText sql.NullString
	if t.Error != "" {
		errText = sql.NullString{String: t.Error, Valid: true}
	}

	const query = `
		INSERT INTO reveal_transcripts (stream_id, session_id, status, skipped, revealed, total, text, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		t.StreamID,
		t.SessionID,
		string(t.Status),
		t.Skipped,
		t.Revealed,
		t.Total,
		t.Text,
		errText,
		t.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("transcript: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit transcripts of streamID, newest first.
func (s *Store) Recent(ctx context.Context, streamID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, stream_id, session_id, status, skipped, revealed, total, text, error, duration_ms, created_at
		FROM reveal_transcripts
		WHERE stream_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: query: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var (
			t       Transcript
			status  string
			errText sql.NullString
			ms      int64
		)
		if err := rows.Scan(&t.ID, &t.StreamID, &t.SessionID, &status, &t.Skipped,
			&t.Revealed, &t.Total, &t.Text, &errText, &ms, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		t.Status = reveal.Status(status)
		t.Error = errText.String
		t.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: rows: %w", err)
	}
	return out, nil
}
