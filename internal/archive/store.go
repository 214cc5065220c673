// Package archive persists session transcripts to SQLite so conversations
// survive restarts and are browsable over the API. Archival is best-effort:
// the loop keeps running when the archive is down.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/canvasmate/canvasmate/internal/agent"
)

// Store is the transcript archive backed by one SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// SessionInfo summarizes one archived session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens (or creates) the archive database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: wal mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "archive"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			text       TEXT NOT NULL DEFAULT '',
			call_id    TEXT NOT NULL DEFAULT '',
			tool       TEXT NOT NULL DEFAULT '',
			args       TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '',
			is_error   INTEGER NOT NULL DEFAULT 0,
			ts         TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// AppendTurn records one turn. Implements agent.TranscriptSink; re-appending
// the same (session, seq) is an upsert so sink retries stay idempotent.
func (s *Store) AppendTurn(sessionID string, seq int, turn agent.Turn) error {
	var args string
	if len(turn.Args) > 0 {
		data, err := json.Marshal(turn.Args)
		if err != nil {
			return fmt.Errorf("archive: encode args: %w", err)
		}
		args = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, seq, kind, text, call_id, tool, args, payload, is_error, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, seq) DO UPDATE SET
		   kind=excluded.kind, text=excluded.text, call_id=excluded.call_id,
		   tool=excluded.tool, args=excluded.args, payload=excluded.payload,
		   is_error=excluded.is_error, ts=excluded.ts`,
		sessionID, seq, string(turn.Kind), turn.Text, turn.CallID, turn.Tool,
		args, turn.Payload, boolToInt(turn.IsError), turn.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive: append turn: %w", err)
	}
	return nil
}

// ListSession returns one session's turns in sequence order.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]agent.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, text, call_id, tool, args, payload, is_error, ts
		 FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: list session: %w", err)
	}
	defer rows.Close()

	var turns []agent.Turn
	for rows.Next() {
		var (
			turn    agent.Turn
			kind    string
			args    string
			isError int
			ts      string
		)
		if err := rows.Scan(&kind, &turn.Text, &turn.CallID, &turn.Tool, &args, &turn.Payload, &isError, &ts); err != nil {
			return nil, fmt.Errorf("archive: scan turn: %w", err)
		}
		turn.Kind = agent.TurnKind(kind)
		turn.IsError = isError != 0
		if args != "" {
			if err := json.Unmarshal([]byte(args), &turn.Args); err != nil {
				s.logger.Warn("corrupt args in archive", "session", sessionID, "error", err)
			}
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			turn.Timestamp = parsed
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Sessions lists archived sessions, most recently active first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MIN(ts), MAX(ts)
		 FROM turns GROUP BY session_id ORDER BY MAX(ts) DESC`)
	if err != nil {
		return nil, fmt.Errorf("archive: list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var (
			info       SessionInfo
			first, last string
		)
		if err := rows.Scan(&info.ID, &info.Turns, &first, &last); err != nil {
			return nil, fmt.Errorf("archive: scan session: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, first); err == nil {
			info.StartedAt = parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, last); err == nil {
			info.UpdatedAt = parsed
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
