package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/reveal/internal/reveal"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestFromResult(t *testing.T) {
	r := reveal.Result{
		Status:   reveal.StatusTruncated,
		Err:      &reveal.TransportError{Reason: "bad frame", Fatal: true},
		Text:     "partial",
		Revealed: 7,
		Total:    20,
	}

	tr := FromResult("s1", "sess", r, 1500*time.Millisecond)
	assert.Equal(t, "s1", tr.StreamID)
	assert.Equal(t, reveal.StatusTruncated, tr.Status)
	assert.Contains(t, tr.Error, "bad frame")
	assert.Equal(t, 7, tr.Revealed)
}

func TestRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO reveal_transcripts").
		WithArgs("s1", "sess", "success", true, 11, 11, "Hello world", nil, int64(250)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Record(context.Background(), Transcript{
		StreamID:  "s1",
		SessionID: "sess",
		Status:    reveal.StatusSuccess,
		Skipped:   true,
		Revealed:  11,
		Total:     11,
		Text:      "Hello world",
		Duration:  250 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInvalidStatus(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Record(context.Background(), Transcript{StreamID: "s1", Status: "exploded"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDBError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO reveal_transcripts").WillReturnError(errors.New("connection refused"))

	err := store.Record(context.Background(), Transcript{StreamID: "s1", Status: reveal.StatusSuccess})
	assert.ErrorContains(t, err, "transcript: insert")
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "stream_id", "session_id", "status", "skipped", "revealed", "total", "text", "error", "duration_ms", "created_at",
	}).
		AddRow(2, "s1", "b", "truncated", false, 4, 9, "part", "reveal: fatal transport error: x", 900, now).
		AddRow(1, "s1", "a", "success", false, 9, 9, "full text", nil, 1200, now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM reveal_transcripts").
		WithArgs("s1", 5).
		WillReturnRows(rows)

	got, err := store.Recent(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, reveal.StatusTruncated, got[0].Status)
	assert.Equal(t, 900*time.Millisecond, got[0].Duration)
	assert.NotEmpty(t, got[0].Error)
	assert.Equal(t, "", got[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM reveal_transcripts").
		WithArgs("s1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := store.Recent(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
