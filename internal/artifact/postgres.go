package artifact

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/db"
	"github.com/sells-group/segment-cli/internal/model"
)

// PostgresStore keeps artifact envelopes in a Postgres table.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore wraps pool. closeFn, if non-nil, runs on Close.
func NewPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	version    TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	k          INTEGER NOT NULL,
	columns    TEXT[] NOT NULL,
	checksum   TEXT NOT NULL,
	document   JSONB NOT NULL,
	raw        BYTEA NOT NULL
);
`

// Migrate creates the artifact table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate artifacts")
}

// Save implements Store. The JSONB copy serves ad-hoc queries; loads verify
// the byte-exact raw column.
func (s *PostgresStore) Save(ctx context.Context, a *model.ModelArtifact) (model.ArtifactInfo, error) {
	doc, sum, err := Encode(a)
	if err != nil {
		return model.ArtifactInfo{}, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO model_artifacts (version, created_at, k, columns, checksum, document, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (version) DO NOTHING`,
		a.Version, a.CreatedAt.UTC(), a.K(), a.FeatureColumnOrder, sum, string(doc), doc,
	)
	if err != nil {
		return model.ArtifactInfo{}, eris.Wrapf(err, "postgres: insert artifact %s", a.Version)
	}
	if tag.RowsAffected() == 0 {
		return model.ArtifactInfo{}, eris.Wrapf(ErrVersionExists, "postgres: save %s", a.Version)
	}

	zap.L().Info("artifact: saved", zap.String("version", a.Version), zap.String("backend", "postgres"), zap.String("checksum", sum))
	return Info(a, sum), nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, version string) (*model.ModelArtifact, error) {
	if err := checkLoadVersion(version); err != nil {
		return nil, err
	}

	var row pgx.Row
	if version == model.LatestVersion {
		row = s.pool.QueryRow(ctx, `SELECT version, raw FROM model_artifacts ORDER BY version DESC LIMIT 1`)
	} else {
		row = s.pool.QueryRow(ctx, `SELECT version, raw FROM model_artifacts WHERE version = $1`, version)
	}

	var stored string
	var doc []byte
	if err := row.Scan(&stored, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.ArtifactNotFoundError{Version: version}
		}
		return nil, eris.Wrapf(err, "postgres: load artifact %s", version)
	}

	a, _, err := Decode(stored, doc)
	return a, err
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]model.ArtifactInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, created_at, k, columns, checksum FROM model_artifacts ORDER BY version DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var out []model.ArtifactInfo
	for rows.Next() {
		var info model.ArtifactInfo
		if err := rows.Scan(&info.Version, &info.CreatedAt, &info.K, &info.Columns, &info.Checksum); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate artifacts")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
