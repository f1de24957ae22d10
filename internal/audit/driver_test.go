package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"modernc.org/sqlite"
)

func openAudited(t *testing.T, a *Auditor) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db")
	connector, err := WrapDriver(&sqlite.Driver{}, dsn, a)
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectorAuditsStatements(t *testing.T) {
	sink := &recordingSink{}
	a := New(time.Hour, WithSinks(sink), WithLogger(quietLogger()))
	db := openAudited(t, a)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", int64(1), "alpha")
	require.NoError(t, err)

	var name string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT name FROM t WHERE id = ?", 1).Scan(&name))
	assert.Equal(t, "alpha", name)

	got := sink.completions()
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[1].Statement, "INSERT"))
	assert.Equal(t, []any{int64(1), "alpha"}, got[1].Parameters)
	assert.False(t, got[2].Slow)
	assert.Equal(t, got[0].ConnID, got[2].ConnID)
	assert.Equal(t, 0, a.Depth(got[0].ConnID))
}

func TestConnectorAuditsPreparedStatements(t *testing.T) {
	sink := &recordingSink{}
	a := New(time.Hour, WithSinks(sink), WithLogger(quietLogger()))
	db := openAudited(t, a)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	st, err := db.PrepareContext(ctx, "INSERT INTO t (id) VALUES (?)")
	require.NoError(t, err)
	for i := range 3 {
		_, err := st.ExecContext(ctx, int64(i+1))
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	assert.Len(t, sink.completions(), 4)
}

func TestConnectorRecordsFailures(t *testing.T) {
	sink := &recordingSink{}
	a := New(time.Hour, WithSinks(sink), WithLogger(quietLogger()))
	db := openAudited(t, a)

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing VALUES (1)")
	require.Error(t, err)

	got := sink.completions()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Err, "missing")
}

func TestConnectorReleasesStacksOnClose(t *testing.T) {
	a := New(time.Hour, WithLogger(quietLogger()))
	db := openAudited(t, a)
	_, err := db.Exec("SELECT 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Equal(t, 0, a.Connections())
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := time.Now()
	a := New(100*time.Millisecond,
		WithSinks(NewLogSink(logger)),
		WithLogger(quietLogger()),
		WithClock(fakeClock(base, base.Add(150*time.Millisecond))),
	)

	a.Before(context.Background(), 1, "SELECT pg_sleep(1)", nil)
	a.After(context.Background(), 1, "SELECT pg_sleep(1)", nil, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var start, done map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &start))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &done))

	assert.Equal(t, "DEBUG", start["level"])
	assert.Equal(t, "sql_start", start["msg"])
	assert.Equal(t, "sql", start["logger"])
	assert.Equal(t, "WARN", done["level"])
	assert.Equal(t, "sql_slow", done["msg"])
	assert.Equal(t, true, done["slow"])
	assert.InDelta(t, 150.0, done["duration_ms"], 0.001)
}
