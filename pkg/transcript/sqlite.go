package transcript

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteTranscriptSchemaV1 = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    speaker TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_entries_session ON transcript_entries(session_id, id);
`

type Line struct {
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore persists transcript lines across sessions.
type SQLiteStore struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	now       func() time.Time
	closed    bool
}

var _ Sink = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string, sessionID string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript database")
	}
	// a single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteTranscriptSchemaV1); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate transcript database")
	}
	return &SQLiteStore{db: db, sessionID: sessionID, now: time.Now}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, speaker string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sqlite transcript store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries (session_id, speaker, message, created_at_ms) VALUES (?, ?, ?, ?)`,
		s.sessionID, speaker, message, s.now().UnixMilli(),
	)
	return errors.Wrap(err, "insert transcript entry")
}

// Lines returns the lines of one session in insertion order. An empty
// sessionID selects every session.
func (s *SQLiteStore) Lines(ctx context.Context, sessionID string) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("sqlite transcript store is closed")
	}

	query := `SELECT session_id, speaker, message, created_at_ms FROM transcript_entries`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query transcript entries")
	}
	defer rows.Close()

	var ret []Line
	for rows.Next() {
		var l Line
		var ms int64
		if err := rows.Scan(&l.SessionID, &l.Speaker, &l.Message, &ms); err != nil {
			return nil, errors.Wrap(err, "scan transcript entry")
		}
		l.CreatedAt = time.UnixMilli(ms)
		ret = append(ret, l)
	}
	return ret, errors.Wrap(rows.Err(), "iterate transcript entries")
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
