package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "segments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.RunKindTrain, map[string]any{"k": 4, "seed": 42})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	stats := &model.FilterStats{InputRows: 10, KeptRows: 8, CustomersKept: 3}
	require.NoError(t, s.CompleteRun(ctx, run.ID, "v1", stats))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindTrain, got.Kind)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, "v1", got.ArtifactVersion)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 8, got.Stats.KeptRows)
	assert.JSONEq(t, `{"k":4,"seed":42}`, string(got.Params))
}

func TestSQLiteStore_FailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.RunKindScore, nil)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, errors.New("schema mismatch")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "schema mismatch", got.Error)
	assert.Nil(t, got.Stats)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.CompleteRun(ctx, "missing", "v1", nil), ErrNotFound)
	assert.ErrorIs(t, s.FailRun(ctx, "missing", nil), ErrNotFound)

	_, err = s.GetCustomerSegment(ctx, "17850")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, kind := range []model.RunKind{model.RunKindTrain, model.RunKindScore, model.RunKindScore} {
		_, err := s.CreateRun(ctx, kind, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   int
	}{
		{"all", RunFilter{}, 3},
		{"by kind", RunFilter{Kind: model.RunKindScore}, 2},
		{"by status", RunFilter{Status: model.RunStatusComplete}, 0},
		{"limit", RunFilter{Limit: 1}, 1},
		{"offset", RunFilter{Limit: 10, Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.False(t, runs[0].CreatedAt.Before(runs[1].CreatedAt))
}

func TestSQLiteStore_SaveAssignments(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, model.RunKindScore, nil)
	require.NoError(t, err)

	n, err := s.SaveAssignments(ctx, first.ID, "v1", []model.SegmentAssignment{
		{CustomerID: "12347", SegmentID: 0, SegmentLabel: "VIP", DistanceToCentroid: 0.5},
		{CustomerID: "12346", SegmentID: 2, SegmentLabel: "At-Risk", DistanceToCentroid: 1.25},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.ListAssignments(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "12346", got[0].CustomerID)
	assert.Equal(t, "At-Risk", got[0].SegmentLabel)

	second, err := s.CreateRun(ctx, model.RunKindScore, nil)
	require.NoError(t, err)
	_, err = s.SaveAssignments(ctx, second.ID, "v2", []model.SegmentAssignment{
		{CustomerID: "12346", SegmentID: 1, SegmentLabel: "New", DistanceToCentroid: 0.1},
	})
	require.NoError(t, err)

	cs, err := s.GetCustomerSegment(ctx, "12346")
	require.NoError(t, err)
	assert.Equal(t, "New", cs.SegmentLabel)
	assert.Equal(t, "v2", cs.ArtifactVersion)
	assert.Equal(t, second.ID, cs.RunID)

	cs, err = s.GetCustomerSegment(ctx, "12347")
	require.NoError(t, err)
	assert.Equal(t, "VIP", cs.SegmentLabel)
	assert.Equal(t, first.ID, cs.RunID)
}

func TestSQLiteStore_SaveAssignments_Empty(t *testing.T) {
	s := newTestSQLite(t)

	n, err := s.SaveAssignments(context.Background(), "any", "v1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
