package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	_ "modernc.org/sqlite"

	"github.com/vocalnews/assistant/internal/store"
)

//go:embed migrations/001_init.sql
var initialSchema string

// Stored timestamps use a fixed width layout so ORDER BY on the text column
// matches chronological order.
const storedLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db *sql.DB
}

type sessionRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Agent       string `db:"agent"`
	CreatedAt   string `db:"created_at"`
	LastUpdated string `db:"last_updated"`
}

type messageRow struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	Sequence  int64  `db:"sequence"`
	CreatedAt string `db:"created_at"`
	Metadata  string `db:"metadata"`
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	var applied []int
	if err := sqlscan.Select(ctx, s.db, &applied, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, initialSchema},
	}
	for _, migration := range migrations {
		if slices.Contains(applied, migration.version) {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", migration.version, formatStored(store.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session store.Session) error {
	agent := strings.TrimSpace(session.Agent)
	if agent == "" {
		agent = "general"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO chat_sessions (id, user_id, agent, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		session.ID,
		session.UserID,
		agent,
		formatStored(session.CreatedAt),
		formatStored(session.LastUpdated),
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	var row sessionRow
	err := sqlscan.Get(ctx, s.db, &row, `SELECT id, user_id, agent, created_at, last_updated FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	session := row.toSession()
	return &session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	var rows []sessionRow
	err := sqlscan.Select(ctx, s.db, &rows, `
		SELECT id, user_id, agent, created_at, last_updated
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY last_updated DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	results := make([]store.Session, len(rows))
	for i, row := range rows {
		results[i] = row.toSession()
	}
	return results, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chat_sessions SET last_updated = ? WHERE id = ?", formatStored(at), sessionID)
	return err
}

func (s *SQLiteStore) UpdateSessionAgent(ctx context.Context, sessionID string, agent string, at string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE chat_sessions SET agent = ?, last_updated = ? WHERE id = ?", agent, formatStored(at), sessionID)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ? AND user_id = ?", sessionID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id = ?", sessionID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var ids []string
	if err := sqlscan.Select(ctx, tx, &ids, "SELECT id FROM chat_sessions WHERE user_id = ? ORDER BY id", userID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE user_id = ?)", userID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE user_id = ?", userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg store.Message) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, sequence, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Sequence, formatStored(msg.CreatedAt), string(encoded),
	)
	return err
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	var rows []messageRow
	err := sqlscan.Select(ctx, s.db, &rows, `
		SELECT id, session_id, role, content, sequence, created_at, metadata
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	results := make([]store.Message, len(rows))
	for i, row := range rows {
		metadata := map[string]any{}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for message %s: %w", row.ID, err)
			}
		}
		results[i] = store.Message{
			ID:        row.ID,
			SessionID: row.SessionID,
			Role:      row.Role,
			Content:   row.Content,
			Sequence:  row.Sequence,
			CreatedAt: normalizeStored(row.CreatedAt),
			Metadata:  metadata,
		}
	}
	return results, nil
}

func (s *SQLiteStore) GetQueryUsage(ctx context.Context, userID string) (int, error) {
	var count int
	err := sqlscan.Get(ctx, s.db, &count, "SELECT query_count FROM user_usage WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) IncrementQueryUsage(ctx context.Context, userID string, at string) (int, error) {
	var count int
	err := sqlscan.Get(ctx, s.db, &count, `
		INSERT INTO user_usage (user_id, query_count, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET query_count = query_count + 1,
			updated_at = excluded.updated_at
		RETURNING query_count`, userID, formatStored(at))
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r sessionRow) toSession() store.Session {
	return store.Session{
		ID:          r.ID,
		UserID:      r.UserID,
		Agent:       r.Agent,
		CreatedAt:   normalizeStored(r.CreatedAt),
		LastUpdated: normalizeStored(r.LastUpdated),
	}
}

func formatStored(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		parsed = time.Now()
	}
	return parsed.UTC().Format(storedLayout)
}

func normalizeStored(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return store.FormatTime(parsed)
}
