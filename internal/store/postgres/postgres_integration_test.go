//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	storepkg "github.com/vocalnews/assistant/internal/store"
)

var testConn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("assistant"),
		tcpostgres.WithUsername("assistant"),
		tcpostgres.WithPassword("assistant"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres container:", err)
		os.Exit(1)
	}
	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "connection string:", err)
		os.Exit(1)
	}
	ldb, err := sql.Open("pgx", conn)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	if err := applyMigrations(ctx, ldb); err != nil {
		_ = ldb.Close()
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "apply migrations:", err)
		os.Exit(1)
	}
	_ = ldb.Close()
	testConn = conn
	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("resolve repo root")
	}
	migrationsDir := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	files := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func TestPostgresStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	pg, err := New(testConn)
	require.NoError(t, err)
	defer pg.Close()

	userID := uuid.NewString()
	older := storepkg.FormatTime(time.Now().Add(-time.Hour))
	require.NoError(t, pg.CreateSession(ctx, storepkg.Session{ID: "a-" + userID, UserID: userID, CreatedAt: older, LastUpdated: older}))
	require.NoError(t, pg.CreateSession(ctx, storepkg.Session{ID: "b-" + userID, UserID: userID, Agent: "news", CreatedAt: storepkg.Now(), LastUpdated: storepkg.Now()}))

	sessions, err := pg.ListSessions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "b-"+userID, sessions[0].ID)
	require.Equal(t, "general", sessions[1].Agent)

	require.NoError(t, pg.AddMessage(ctx, storepkg.Message{ID: uuid.NewString(), SessionID: "a-" + userID, Role: "user", Content: "hi", Sequence: 1, CreatedAt: storepkg.Now()}))
	require.NoError(t, pg.AddMessage(ctx, storepkg.Message{ID: uuid.NewString(), SessionID: "a-" + userID, Role: "assistant", Content: "hello", Sequence: 2, CreatedAt: storepkg.Now(), Metadata: map[string]any{"agent": "general"}}))
	messages, err := pg.ListMessages(ctx, "a-"+userID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "general", messages[1].Metadata["agent"])

	require.NoError(t, pg.UpdateSessionAgent(ctx, "a-"+userID, "news", storepkg.Now()))
	session, err := pg.GetSession(ctx, "a-"+userID)
	require.NoError(t, err)
	require.Equal(t, "news", session.Agent)

	deleted, err := pg.DeleteSession(ctx, "a-"+userID, "intruder")
	require.NoError(t, err)
	require.False(t, deleted)
	deleted, err = pg.DeleteSession(ctx, "a-"+userID, userID)
	require.NoError(t, err)
	require.True(t, deleted)
	messages, err = pg.ListMessages(ctx, "a-"+userID)
	require.NoError(t, err)
	require.Empty(t, messages)

	removed, err := pg.DeleteUserSessions(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, []string{"b-" + userID}, removed)
}

func TestPostgresStore_QueryUsage(t *testing.T) {
	ctx := context.Background()
	pg, err := New(testConn)
	require.NoError(t, err)
	defer pg.Close()

	userID := uuid.NewString()
	for i := 1; i <= 3; i++ {
		count, err := pg.IncrementQueryUsage(ctx, userID, storepkg.Now())
		require.NoError(t, err)
		require.Equal(t, i, count)
	}
	count, err := pg.GetQueryUsage(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
