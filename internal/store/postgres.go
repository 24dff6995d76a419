package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/db"
	"github.com/sells-group/segment-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPostgresPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. closeFn, if non-nil, runs on Close.
func NewPostgresFromPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	artifact_version TEXT,
	params           JSONB,
	stats            JSONB,
	error            TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS segment_assignments (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	customer_id          TEXT NOT NULL,
	segment_id           INTEGER NOT NULL,
	segment_label        TEXT NOT NULL,
	distance_to_centroid DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, customer_id)
);

CREATE TABLE IF NOT EXISTS customer_segments (
	customer_id          TEXT PRIMARY KEY,
	segment_id           INTEGER NOT NULL,
	segment_label        TEXT NOT NULL,
	distance_to_centroid DOUBLE PRECISION NOT NULL,
	artifact_version     TEXT NOT NULL,
	run_id               TEXT NOT NULL,
	scored_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_customer_segments_segment ON customer_segments(segment_id);
`

var (
	assignmentColumns = []string{"run_id", "customer_id", "segment_id", "segment_label", "distance_to_centroid"}
	segmentColumns    = []string{"customer_id", "segment_id", "segment_label", "distance_to_centroid", "artifact_version", "run_id", "scored_at"}

	segmentMerge = db.MergeSpec{
		Table:   "customer_segments",
		Key:     []string{"customer_id"},
		Columns: segmentColumns,
		Newer:   "scored_at",
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, params any) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(kind), string(model.RunStatusRunning), paramsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Kind:      kind,
		Status:    model.RunStatusRunning,
		Params:    paramsJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID, artifactVersion string, stats *model.FilterStats) error {
	var statsJSON []byte
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run stats")
		}
		statsJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, artifact_version = $2, stats = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusComplete), artifactVersion, statsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, kind, status, artifact_version, params, stats, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveAssignments copies the run's assignments with COPY and merges each
// customer's latest segment into customer_segments, in one transaction.
func (s *PostgresStore) SaveAssignments(ctx context.Context, runID, artifactVersion string, assignments []model.SegmentAssignment) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	copyRows := make([][]any, len(assignments))
	segmentRows := make([][]any, len(assignments))
	for i, a := range assignments {
		copyRows[i] = []any{runID, a.CustomerID, a.SegmentID, a.SegmentLabel, a.DistanceToCentroid}
		segmentRows[i] = []any{a.CustomerID, a.SegmentID, a.SegmentLabel, a.DistanceToCentroid, artifactVersion, runID, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin assignments tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.CopyFrom(ctx, tx, "segment_assignments", assignmentColumns, copyRows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: copy assignments for run %s", runID)
	}
	merged, err := db.Merge(ctx, tx, segmentMerge, segmentRows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: merge customer segments for run %s", runID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit assignments")
	}

	zap.L().Debug("postgres: assignments saved",
		zap.String("run_id", runID),
		zap.Int64("copied", n),
		zap.Int64("merged", merged),
	)
	return n, nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, runID string) ([]model.SegmentAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT customer_id, segment_id, segment_label, distance_to_centroid
		 FROM segment_assignments WHERE run_id = $1 ORDER BY customer_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list assignments %s", runID)
	}
	defer rows.Close()

	var out []model.SegmentAssignment
	for rows.Next() {
		var a model.SegmentAssignment
		if err := rows.Scan(&a.CustomerID, &a.SegmentID, &a.SegmentLabel, &a.DistanceToCentroid); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assignments iterate")
}

func (s *PostgresStore) GetCustomerSegment(ctx context.Context, customerID string) (*CustomerSegment, error) {
	var cs CustomerSegment
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, segment_id, segment_label, distance_to_centroid, artifact_version, run_id, scored_at
		 FROM customer_segments WHERE customer_id = $1`, customerID,
	).Scan(&cs.CustomerID, &cs.SegmentID, &cs.SegmentLabel, &cs.DistanceToCentroid, &cs.ArtifactVersion, &cs.RunID, &cs.ScoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: customer %s", customerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get customer segment %s", customerID)
	}
	cs.ScoredAt = cs.ScoredAt.UTC()
	return &cs, nil
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var kind, status string
	var version, runErr *string
	var params, stats *[]byte

	if err := row.Scan(&r.ID, &kind, &status, &version, &params, &stats, &runErr, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)
	if version != nil {
		r.ArtifactVersion = *version
	}
	if runErr != nil {
		r.Error = *runErr
	}
	if params != nil {
		r.Params = *params
	}
	if stats != nil {
		r.Stats = &model.FilterStats{}
		if err := json.Unmarshal(*stats, r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run stats")
		}
	}
	return &r, nil
}
