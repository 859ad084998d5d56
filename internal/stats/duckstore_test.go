package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/print-slicer/backend/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.duckdb"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSummarize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results := []models.FileResult{
		{FileID: "a", Status: models.FileStatusSuccess, MassGrams: 10, Timing: models.Timing{TotalMs: 100, SliceMs: 80}},
		{FileID: "b", Status: models.FileStatusSuccess, MassGrams: 30, Scaled: true, Timing: models.Timing{TotalMs: 300, SliceMs: 200}},
		{FileID: "c", Status: models.FileStatusError, FailureKind: models.FailureTimeout, Timing: models.Timing{TotalMs: 1000}},
	}
	for _, r := range results {
		require.NoError(t, s.Record(ctx, "batch-1", r))
	}

	sum, err := s.Summarize(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Total)
	require.Len(t, sum.Outcomes, 2)

	ok := sum.Outcomes[0]
	assert.Equal(t, "success", ok.Status)
	assert.Equal(t, int64(2), ok.Count)
	assert.InDelta(t, 200, ok.AvgTotalMs, 1e-9)
	assert.InDelta(t, 140, ok.AvgSliceMs, 1e-9)
	assert.InDelta(t, 40, ok.TotalMassG, 1e-9)
	assert.Equal(t, int64(1), ok.ScaledCount)

	failed := sum.Outcomes[1]
	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, "timeout", failed.FailureKind)
}

func TestSummarize_Empty(t *testing.T) {
	s := openTestStore(t)
	sum, err := s.Summarize(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.NotNil(t, sum.Outcomes)
}

func TestUnitFinishedAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.UnitFinished(ctx, "", models.FileResult{FileID: "m", Status: models.FileStatusSuccess})

	n, err := s.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Prune(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.duckdb")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), "b", models.FileResult{FileID: "x", Status: models.FileStatusSuccess}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	sum, err := s.Summarize(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Total)
}
