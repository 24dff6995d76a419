package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock, nil), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, kind, status, params, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "train", "running", []byte(`{"k":4}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.RunKindTrain, map[string]int{"k": 4})
	require.NoError(t, err)
	assert.Equal(t, model.RunKindTrain, run.Kind)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, artifact_version = \$2`).
		WithArgs("complete", "v1", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", "v1", &model.FilterStats{InputRows: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, kind, status, artifact_version, params, stats, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2011, 12, 10, 0, 0, 0, 0, time.UTC)
	version := "v1"
	stats := []byte(`{"input_rows":5,"kept_rows":4}`)
	params := []byte(`{"k":3}`)

	rows := pgxmock.NewRows([]string{"id", "kind", "status", "artifact_version", "params", "stats", "error", "created_at", "updated_at"}).
		AddRow("run-1", "score", "complete", &version, &params, &stats, (*string)(nil), now, now)
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	r, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunKindScore, r.Kind)
	assert.Equal(t, model.RunStatusComplete, r.Status)
	assert.Equal(t, "v1", r.ArtifactVersion)
	require.NotNil(t, r.Stats)
	assert.Equal(t, 4, r.Stats.KeptRows)
	assert.Empty(t, r.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND kind = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("train", "failed", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "status", "artifact_version", "params", "stats", "error", "created_at", "updated_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Kind:   model.RunKindTrain,
		Status: model.RunStatusFailed,
		Limit:  5,
		Offset: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAssignments(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"segment_assignments"}, assignmentColumns).
		WillReturnResult(2)
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_customer_segments"}, segmentColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "customer_segments" AS t .* WHERE t."scored_at" <= EXCLUDED."scored_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.SaveAssignments(context.Background(), "run-1", "v1", []model.SegmentAssignment{
		{CustomerID: "12346", SegmentID: 1, SegmentLabel: "New", DistanceToCentroid: 0.2},
		{CustomerID: "12347", SegmentID: 0, SegmentLabel: "VIP", DistanceToCentroid: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPostgresStore_SaveAssignments_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"segment_assignments"}, assignmentColumns).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := s.SaveAssignments(context.Background(), "run-1", "v1", []model.SegmentAssignment{
		{CustomerID: "12346", SegmentID: 1, SegmentLabel: "New"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy assignments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAssignments_MergeErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"segment_assignments"}, assignmentColumns).
		WillReturnResult(1)
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_customer_segments"}, segmentColumns).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "customer_segments"`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := s.SaveAssignments(context.Background(), "run-1", "v1", []model.SegmentAssignment{
		{CustomerID: "12346", SegmentID: 1, SegmentLabel: "New"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge customer segments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCustomerSegment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM customer_segments WHERE customer_id = \$1`).
		WithArgs("99999").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCustomerSegment(context.Background(), "99999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
