package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vocalnews/assistant/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"chat_sessions",
		"chat_messages",
		"user_usage",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) CreateSession(ctx context.Context, session store.Session) error {
	agent := strings.TrimSpace(session.Agent)
	if agent == "" {
		agent = "general"
	}
	const query = `
		INSERT INTO chat_sessions (id, user_id, agent, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.UserID,
		agent,
		parseTimestampValue(session.CreatedAt),
		parseTimestampValue(session.LastUpdated),
	)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	const query = `
		SELECT id, user_id, agent, created_at, last_updated
		FROM chat_sessions
		WHERE id = $1
	`
	var createdAt time.Time
	var lastUpdated time.Time
	session := store.Session{}
	err := p.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.Agent,
		&createdAt,
		&lastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.CreatedAt = store.FormatTime(createdAt)
	session.LastUpdated = store.FormatTime(lastUpdated)
	return &session, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	const query = `
		SELECT id, user_id, agent, created_at, last_updated
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY last_updated DESC, id ASC
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Session{}
	for rows.Next() {
		var createdAt time.Time
		var lastUpdated time.Time
		var session store.Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.Agent, &createdAt, &lastUpdated); err != nil {
			return nil, err
		}
		session.CreatedAt = store.FormatTime(createdAt)
		session.LastUpdated = store.FormatTime(lastUpdated)
		results = append(results, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) TouchSession(ctx context.Context, sessionID string, at string) error {
	_, err := p.db.ExecContext(ctx, "UPDATE chat_sessions SET last_updated = $2 WHERE id = $1", sessionID, parseTimestampValue(at))
	return err
}

func (p *PostgresStore) UpdateSessionAgent(ctx context.Context, sessionID string, agent string, at string) error {
	_, err := p.db.ExecContext(
		ctx,
		"UPDATE chat_sessions SET agent = $2, last_updated = $3 WHERE id = $1",
		sessionID,
		agent,
		parseTimestampValue(at),
	)
	return err
}

func (p *PostgresStore) DeleteSession(ctx context.Context, sessionID string, userID string) (bool, error) {
	result, err := p.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2", sessionID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (p *PostgresStore) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "DELETE FROM chat_sessions WHERE user_id = $1 RETURNING id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	removed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}

func (p *PostgresStore) AddMessage(ctx context.Context, msg store.Message) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO chat_messages (id, session_id, role, content, sequence, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, query, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Sequence, parseTimestampValue(msg.CreatedAt), encoded)
	return err
}

func (p *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	const query = `
		SELECT id, session_id, role, content, sequence, created_at, metadata
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY sequence ASC
	`
	rows, err := p.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		var createdAt time.Time
		var metadataBytes []byte
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Sequence, &createdAt, &metadataBytes); err != nil {
			return nil, err
		}
		msg.CreatedAt = store.FormatTime(createdAt)
		msg.Metadata = decodeJSONMap(metadataBytes)
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) GetQueryUsage(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, "SELECT query_count FROM user_usage WHERE user_id = $1", userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (p *PostgresStore) IncrementQueryUsage(ctx context.Context, userID string, at string) (int, error) {
	const query = `
		INSERT INTO user_usage (user_id, query_count, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET query_count = user_usage.query_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING query_count
	`
	var count int
	if err := p.db.QueryRowContext(ctx, query, userID, parseTimestampValue(at)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
