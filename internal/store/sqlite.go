package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
	_ "modernc.org/sqlite"
)

// Busy-retry schedule for writes. The busy_timeout pragma does not cover
// locks taken during WAL checkpointing.
const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// execBusyRetry runs a write operation, retrying with exponential backoff
// (100ms, 200ms, 400ms) while SQLite reports the database busy.
func execBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		if i < busyRetries-1 {
			delay := busyBaseDelay * time.Duration(1<<i)
			slog.Debug("sqlite busy, retrying write", "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("write retries exhausted: %w", err)
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		phone TEXT PRIMARY KEY,
		generation INTEGER NOT NULL,
		state TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		last_event_id TEXT NOT NULL DEFAULT '',
		last_response TEXT NOT NULL DEFAULT '',
		score_json TEXT,
		offer_json TEXT,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_archive (
		phone TEXT NOT NULL,
		generation INTEGER NOT NULL,
		state TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		score_json TEXT,
		offer_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		archived_at INTEGER NOT NULL,
		PRIMARY KEY (phone, generation)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSession retrieves the current session for a phone number.
func (s *SQLiteStore) LoadSession(ctx context.Context, phone string) (*domain.Session, error) {
	query := `
		SELECT phone, generation, state, fields_json, last_event_id, last_response,
		       score_json, offer_json, version, created_at, updated_at
		FROM sessions WHERE phone = ?`

	row := s.db.QueryRowContext(ctx, query, phone)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// SaveSession persists a session with optimistic version locking.
// A session with Version 0 is inserted; otherwise the update only applies
// when the stored version still matches, and the in-memory version is
// bumped on success.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	fieldsJSON, scoreJSON, offerJSON, err := marshalSession(session)
	if err != nil {
		return err
	}

	if session.Version == 0 {
		query := `
		INSERT INTO sessions (phone, generation, state, fields_json, last_event_id,
			last_response, score_json, offer_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

		err := execBusyRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, query,
				session.Phone, session.Generation, string(session.State), fieldsJSON,
				session.LastEventID, session.LastResponse, scoreJSON, offerJSON,
				session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
			)
			return err
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert session %s: %w", session.Phone, domain.ErrConflict)
			}
			return fmt.Errorf("insert session: %w", err)
		}
		session.Version = 1
		return nil
	}

	query := `
		UPDATE sessions SET generation = ?, state = ?, fields_json = ?,
			last_event_id = ?, last_response = ?, score_json = ?, offer_json = ?,
			version = version + 1, updated_at = ?
		WHERE phone = ? AND version = ?`

	var result sql.Result
	err = execBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query,
			session.Generation, string(session.State), fieldsJSON,
			session.LastEventID, session.LastResponse, scoreJSON, offerJSON,
			session.UpdatedAt.Unix(), session.Phone, session.Version,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update session %s at version %d: %w",
			session.Phone, session.Version, domain.ErrConflict)
	}

	session.Version++
	return nil
}

// ArchiveSession copies a session generation into the archive table.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, session *domain.Session) error {
	fieldsJSON, scoreJSON, offerJSON, err := marshalSession(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO session_archive (phone, generation, state, fields_json,
			score_json, offer_json, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone, generation) DO NOTHING`

	err = execBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.Phone, session.Generation, string(session.State), fieldsJSON,
			scoreJSON, offerJSON,
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(), time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// GetIdleSessions retrieves non-terminal sessions idle beyond the TTL.
func (s *SQLiteStore) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT phone, generation, state, fields_json, last_event_id, last_response,
		       score_json, offer_json, version, created_at, updated_at
		FROM sessions
		WHERE updated_at < ? AND state NOT IN (?, ?, ?)`

	rows, err := s.db.QueryContext(ctx, query, threshold,
		string(domain.StateAccepted), string(domain.StateDeclined), string(domain.StateAbandoned))
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var state, fieldsJSON string
	var scoreJSON, offerJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.Phone, &session.Generation, &state, &fieldsJSON,
		&session.LastEventID, &session.LastResponse,
		&scoreJSON, &offerJSON, &session.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.State = domain.State(state)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(fieldsJSON), &session.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if scoreJSON.Valid {
		session.Score = &domain.ScoreResult{}
		if err := json.Unmarshal([]byte(scoreJSON.String), session.Score); err != nil {
			return nil, fmt.Errorf("decode score: %w", err)
		}
	}
	if offerJSON.Valid {
		session.Offer = &domain.OfferResult{}
		if err := json.Unmarshal([]byte(offerJSON.String), session.Offer); err != nil {
			return nil, fmt.Errorf("decode offer: %w", err)
		}
	}

	return &session, nil
}

func marshalSession(session *domain.Session) (fields string, score, offer any, err error) {
	fieldsBytes, err := json.Marshal(session.Fields)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encode fields: %w", err)
	}
	fields = string(fieldsBytes)

	if session.Score != nil {
		b, err := json.Marshal(session.Score)
		if err != nil {
			return "", nil, nil, fmt.Errorf("encode score: %w", err)
		}
		score = string(b)
	}
	if session.Offer != nil {
		b, err := json.Marshal(session.Offer)
		if err != nil {
			return "", nil, nil, fmt.Errorf("encode offer: %w", err)
		}
		offer = string(b)
	}
	return fields, score, offer, nil
}
