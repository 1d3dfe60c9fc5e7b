package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/vocalnews/assistant/internal/store"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return &PostgresStore{db: db}, mock, cleanup
}

func expectSchema(mock sqlmock.Sqlmock, tables ...string) {
	for _, table := range tables {
		mock.ExpectQuery("SELECT to_regclass").
			WithArgs("public." + table).
			WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(table))
	}
}

func TestNew_VerifiesSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	original := openDB
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		require.Equal(t, "pgx", driverName)
		return db, nil
	}
	defer func() { openDB = original }()

	mock.ExpectPing()
	expectSchema(mock, "chat_sessions", "chat_messages", "user_usage")

	pgStore, err := New("postgres://example")
	require.NoError(t, err)
	require.NotNil(t, pgStore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_PingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	original := openDB
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) { return db, nil }
	defer func() { openDB = original }()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = New("postgres://example")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_OpenError(t *testing.T) {
	original := openDB
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) { return nil, errors.New("bad dsn") }
	defer func() { openDB = original }()

	_, err := New("::")
	require.EqualError(t, err, "bad dsn")
}

func TestVerifySchema_QueryError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WillReturnError(errors.New("query error"))
	if err := verifySchema(ctx, pgStore.db); err == nil {
		t.Fatalf("expected schema verification error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifySchema_MissingTable(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	expectSchema(mock, "chat_sessions")
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("public.chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))

	err := verifySchema(ctx, pgStore.db)
	require.ErrorContains(t, err, "chat_messages table not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO chat_sessions").
		WithArgs("s-1", "u-1", "general", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := pgStore.CreateSession(ctx, store.Session{ID: "s-1", UserID: "u-1", CreatedAt: store.Now(), LastUpdated: store.Now()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT id, user_id, agent, created_at, last_updated").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "agent", "created_at", "last_updated"}).
			AddRow("s-1", "u-1", "news", created, created))
	mock.ExpectQuery("SELECT id, user_id, agent, created_at, last_updated").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	session, err := pgStore.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "news", session.Agent)
	require.Equal(t, "2024-01-02T03:04:05Z", session.CreatedAt)

	missing, err := pgStore.GetSession(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessions_RowsErr(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "user_id", "agent", "created_at", "last_updated"}).
		AddRow("s-1", "u-1", "general", time.Now(), time.Now()).
		AddRow("s-2", "u-1", "general", time.Now(), time.Now())
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT id, user_id, agent, created_at, last_updated").WillReturnRows(rows)
	if _, err := pgStore.ListSessions(ctx, "u-1"); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "user_id", "agent", "created_at", "last_updated"}).
		AddRow("s-2", "u-1", "news", time.Now(), time.Now()).
		AddRow("s-1", "u-1", "general", time.Now(), time.Now().Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY last_updated DESC")).WithArgs("u-1").WillReturnRows(rows)

	sessions, err := pgStore.ListSessions(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s-2", sessions[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM chat_sessions WHERE id").WithArgs("s-1", "u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM chat_sessions WHERE id").WithArgs("s-2", "u-1").WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := pgStore.DeleteSession(ctx, "s-1", "u-1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = pgStore.DeleteSession(ctx, "s-2", "u-1")
	require.NoError(t, err)
	require.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserSessions(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM chat_sessions WHERE user_id = $1 RETURNING id")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-b").AddRow("s-a"))

	removed, err := pgStore.DeleteUserSessions(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, []string{"s-a", "s-b"}, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchAndUpdateAgent(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE chat_sessions SET last_updated").WithArgs("s-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chat_sessions SET agent").WithArgs("s-1", "news", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, pgStore.TouchSession(ctx, "s-1", store.Now()))
	require.NoError(t, pgStore.UpdateSessionAgent(ctx, "s-1", "news", store.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMessage_EncodesMetadata(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs("m-1", "s-1", "user", "hi", int64(1), sqlmock.AnyArg(), []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := pgStore.AddMessage(ctx, store.Message{ID: "m-1", SessionID: "s-1", Role: "user", Content: "hi", Sequence: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessages_RowsErr(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "sequence", "created_at", "metadata"}).
		AddRow("m-1", "s-1", "user", "hi", int64(1), time.Now(), []byte("{}")).
		AddRow("m-2", "s-1", "user", "hi", int64(2), time.Now(), []byte("{}"))
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT id, session_id, role, content, sequence, created_at, metadata").WillReturnRows(rows)
	if _, err := pgStore.ListMessages(ctx, "s-1"); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMessages_ScanError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "sequence", "created_at", "metadata"}).
		AddRow("m-1", "s-1", "user", "hi", "not-int", time.Now(), []byte("{}"))

	mock.ExpectQuery("SELECT id, session_id, role, content, sequence, created_at, metadata").WillReturnRows(rows)
	if _, err := pgStore.ListMessages(ctx, "s-1"); err == nil {
		t.Fatalf("expected scan error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMessages_DecodesMetadata(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "sequence", "created_at", "metadata"}).
		AddRow("m-1", "s-1", "user", "hi", int64(1), time.Now(), []byte(`{"agent":"news"}`)).
		AddRow("m-2", "s-1", "assistant", "hello", int64(2), time.Now(), nil)
	mock.ExpectQuery("SELECT id, session_id, role, content, sequence, created_at, metadata").WithArgs("s-1").WillReturnRows(rows)

	messages, err := pgStore.ListMessages(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "news", messages[0].Metadata["agent"])
	require.Empty(t, messages[1].Metadata)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryUsage(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT query_count FROM user_usage").WithArgs("u-new").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO user_usage").
		WithArgs("u-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"query_count"}).AddRow(3))
	mock.ExpectQuery("SELECT query_count FROM user_usage").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"query_count"}).AddRow(3))

	count, err := pgStore.GetQueryUsage(ctx, "u-new")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = pgStore.IncrementQueryUsage(ctx, "u-1", store.Now())
	require.NoError(t, err)
	require.Equal(t, 3, count)

	count, err = pgStore.GetQueryUsage(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseTimestampValue(t *testing.T) {
	parsed := parseTimestampValue("2024-01-02T03:04:05+02:00")
	require.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), parsed)
	require.WithinDuration(t, time.Now().UTC(), parseTimestampValue("garbage"), time.Minute)
}

func TestDecodeJSONMap(t *testing.T) {
	require.Empty(t, decodeJSONMap(nil))
	require.Empty(t, decodeJSONMap([]byte("{bad")))
	require.Equal(t, map[string]any{"a": "b"}, decodeJSONMap([]byte(`{"a":"b"}`)))
}
