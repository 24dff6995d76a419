package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/db"
	"github.com/sells-group/segment-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := db.OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	artifact_version TEXT,
	params           TEXT,
	stats            TEXT,
	error            TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS segment_assignments (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	customer_id          TEXT NOT NULL,
	segment_id           INTEGER NOT NULL,
	segment_label        TEXT NOT NULL,
	distance_to_centroid REAL NOT NULL,
	PRIMARY KEY (run_id, customer_id)
);

CREATE TABLE IF NOT EXISTS customer_segments (
	customer_id          TEXT PRIMARY KEY,
	segment_id           INTEGER NOT NULL,
	segment_label        TEXT NOT NULL,
	distance_to_centroid REAL NOT NULL,
	artifact_version     TEXT NOT NULL,
	run_id               TEXT NOT NULL,
	scored_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_customer_segments_segment ON customer_segments(segment_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, params any) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(kind), string(model.RunStatusRunning), string(paramsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID, artifactVersion string, stats *model.FilterStats) error {
	var statsJSON sql.NullString
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run stats")
		}
		statsJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, artifact_version = ?, stats = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), artifactVersion, statsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, kind, status, artifact_version, params, stats, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveAssignments(ctx context.Context, runID, artifactVersion string, assignments []model.SegmentAssignment) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin assignments tx")
	}
	defer tx.Rollback() //nolint:errcheck

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO segment_assignments (run_id, customer_id, segment_id, segment_label, distance_to_centroid)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare assignment insert")
	}
	defer ins.Close() //nolint:errcheck

	up, err := tx.PrepareContext(ctx,
		`INSERT INTO customer_segments (customer_id, segment_id, segment_label, distance_to_centroid, artifact_version, run_id, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id) DO UPDATE SET
		   segment_id = excluded.segment_id,
		   segment_label = excluded.segment_label,
		   distance_to_centroid = excluded.distance_to_centroid,
		   artifact_version = excluded.artifact_version,
		   run_id = excluded.run_id,
		   scored_at = excluded.scored_at
		 WHERE customer_segments.scored_at <= excluded.scored_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare segment upsert")
	}
	defer up.Close() //nolint:errcheck

	for _, a := range assignments {
		if _, err := ins.ExecContext(ctx, runID, a.CustomerID, a.SegmentID, a.SegmentLabel, a.DistanceToCentroid); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert assignment %s", a.CustomerID)
		}
		if _, err := up.ExecContext(ctx, a.CustomerID, a.SegmentID, a.SegmentLabel, a.DistanceToCentroid, artifactVersion, runID, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert segment %s", a.CustomerID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit assignments")
	}
	return int64(len(assignments)), nil
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, runID string) ([]model.SegmentAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, segment_id, segment_label, distance_to_centroid
		 FROM segment_assignments WHERE run_id = ? ORDER BY customer_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list assignments %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SegmentAssignment
	for rows.Next() {
		var a model.SegmentAssignment
		if err := rows.Scan(&a.CustomerID, &a.SegmentID, &a.SegmentLabel, &a.DistanceToCentroid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assignments iterate")
}

func (s *SQLiteStore) GetCustomerSegment(ctx context.Context, customerID string) (*CustomerSegment, error) {
	var cs CustomerSegment
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id, segment_id, segment_label, distance_to_centroid, artifact_version, run_id, scored_at
		 FROM customer_segments WHERE customer_id = ?`, customerID,
	).Scan(&cs.CustomerID, &cs.SegmentID, &cs.SegmentLabel, &cs.DistanceToCentroid, &cs.ArtifactVersion, &cs.RunID, &cs.ScoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: customer %s", customerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get customer segment %s", customerID)
	}
	cs.ScoredAt = cs.ScoredAt.UTC()
	return &cs, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var version, params, stats, runErr sql.NullString

	err := row.Scan(&r.ID, &r.Kind, &r.Status, &version, &params, &stats, &runErr, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.ArtifactVersion = version.String
	r.Error = runErr.String
	if params.Valid && params.String != "" {
		r.Params = []byte(params.String)
	}
	if stats.Valid {
		r.Stats = &model.FilterStats{}
		if err := json.Unmarshal([]byte(stats.String), r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run stats")
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}
