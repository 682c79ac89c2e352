package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, RunKindForecast)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, RunKindForecast, got.Kind)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Skipped)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, 0)
}

func TestSQLite_CompleteRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, RunKindForecast)
	require.NoError(t, err)

	err = st.CompleteRun(ctx, run.ID, RunSummary{
		RegionsProcessed: 3,
		Skipped:          []string{"East"},
		NonConvergent:    []string{"North"},
		Rows:             42,
	})
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
	assert.Equal(t, 3, got.RegionsProcessed)
	assert.Equal(t, []string{"East"}, got.Skipped)
	assert.Equal(t, []string{"North"}, got.NonConvergent)
	assert.Equal(t, int64(42), got.Rows)
	assert.Empty(t, got.Error)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, RunKindSync)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, "workbook locked"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "workbook locked", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLite_UnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.CompleteRun(ctx, "missing", RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: missing")

	err = st.FailRun(ctx, "missing", "boom")
	assert.Error(t, err)

	_, err = st.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for _, kind := range []RunKind{RunKindForecast, RunKindMetrics, RunKindForecast} {
		run, err := st.CreateRun(ctx, kind)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	require.NoError(t, st.FailRun(ctx, ids[2], "boom"))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, ids[2], all[0].ID)

	forecasts, err := st.ListRuns(ctx, RunFilter{Kind: RunKindForecast})
	require.NoError(t, err)
	assert.Len(t, forecasts, 2)

	failed, err := st.ListRuns(ctx, RunFilter{Status: RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[2], failed[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	run, err := s.CreateRun(context.Background(), RunKindMetrics)
	require.NoError(t, err)
	assert.Equal(t, RunKindMetrics, run.Kind)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestEncodeDecodeList(t *testing.T) {
	s, err := encodeList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	v, err := decodeList([]byte(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)

	v, err = decodeList([]byte(`[]`))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = decodeList([]byte(`{`))
	assert.Error(t, err)
}
