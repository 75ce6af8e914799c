package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/nfp-revisions/internal/table"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// sampleTable has every column kind and a row that is missing everywhere.
func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	tb := table.New([]time.Time{month(2024, 1), month(2024, 2), month(2024, 3)})
	require.NoError(t, tb.SetFloats("release1", []table.Float{table.Some(353), table.Some(275.5), {}}))
	require.NoError(t, tb.SetBools("is_outlier", []sql.Null[bool]{{V: false, Valid: true}, {V: true, Valid: true}, {}}))
	require.NoError(t, tb.SetStrings("seasonal_adjustment_quality", []sql.Null[string]{{V: "good", Valid: true}, {}, {}}))
	return tb
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SaveLoadRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	in := sampleTable(t)

	require.NoError(t, st.Save(ctx, "nfp_revisions", in))
	out, err := st.Load(ctx, "nfp_revisions")
	require.NoError(t, err)

	assert.Equal(t, in.Dates(), out.Dates())
	assert.Equal(t, in.Columns(), out.Columns())
	assert.Equal(t, in.Floats("release1"), out.Floats("release1"))
	assert.Equal(t, in.Bools("is_outlier"), out.Bools("is_outlier"))
	assert.Equal(t, in.Strings("seasonal_adjustment_quality"), out.Strings("seasonal_adjustment_quality"))
}

func TestSQLite_SaveIsFullRewrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "d", sampleTable(t)))

	smaller := table.New([]time.Time{month(2025, 1)})
	require.NoError(t, smaller.SetFloats("final", []table.Float{table.Some(1)}))
	require.NoError(t, st.Save(ctx, "d", smaller))

	out, err := st.Load(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"final"}, out.Columns())
	assert.Equal(t, 1, out.Len())
}

func TestSQLite_DatasetsAreIsolated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "a", sampleTable(t)))
	_, err := st.Load(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_EmptyTableWithColumnsLoads(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	empty := table.New(nil)
	require.NoError(t, empty.SetFloats("release1", nil))
	require.NoError(t, st.Save(ctx, "d", empty))

	out, err := st.Load(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, []string{"release1"}, out.Columns())
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.StartRun(ctx, "run-1", "adjust"))
	require.NoError(t, st.CompleteRun(ctx, "run-1", json.RawMessage(`{"total_records":3}`)))
	require.NoError(t, st.StartRun(ctx, "run-2", "run"))
	require.NoError(t, st.FailRun(ctx, "run-2", "dataset not found"))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "dataset not found", runs[0].Error)
	require.NotNil(t, runs[0].CompletedAt)

	assert.Equal(t, RunStatusComplete, runs[1].Status)
	assert.JSONEq(t, `{"total_records":3}`, string(runs[1].Summary))

	runs, err = st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_CompleteUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}
