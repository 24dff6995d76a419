package artifact

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/db"
	"github.com/sells-group/segment-cli/internal/model"
)

// SQLiteStore keeps artifact envelopes in a SQLite table. Version ids sort by
// creation time, so "latest" is the greatest version.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	conn, err := db.OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	version    TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	k          INTEGER NOT NULL,
	columns    TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	document   BLOB NOT NULL
);
`

// Migrate creates the artifact table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate artifacts")
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, a *model.ModelArtifact) (model.ArtifactInfo, error) {
	doc, sum, err := Encode(a)
	if err != nil {
		return model.ArtifactInfo{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO model_artifacts (version, created_at, k, columns, checksum, document)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (version) DO NOTHING`,
		a.Version, a.CreatedAt.UTC(), a.K(), strings.Join(a.FeatureColumnOrder, ","), sum, doc,
	)
	if err != nil {
		return model.ArtifactInfo{}, eris.Wrapf(err, "sqlite: insert artifact %s", a.Version)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ArtifactInfo{}, eris.Wrapf(ErrVersionExists, "sqlite: save %s", a.Version)
	}

	zap.L().Info("artifact: saved", zap.String("version", a.Version), zap.String("backend", "sqlite"), zap.String("checksum", sum))
	return Info(a, sum), nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, version string) (*model.ModelArtifact, error) {
	if err := checkLoadVersion(version); err != nil {
		return nil, err
	}

	var row *sql.Row
	if version == model.LatestVersion {
		row = s.db.QueryRowContext(ctx, `SELECT version, document FROM model_artifacts ORDER BY version DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT version, document FROM model_artifacts WHERE version = ?`, version)
	}

	var stored string
	var doc []byte
	if err := row.Scan(&stored, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &model.ArtifactNotFoundError{Version: version}
		}
		return nil, eris.Wrapf(err, "sqlite: load artifact %s", version)
	}

	a, _, err := Decode(stored, doc)
	return a, err
}

// List implements Store. Listing reads the summary columns only.
func (s *SQLiteStore) List(ctx context.Context) ([]model.ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, created_at, k, columns, checksum FROM model_artifacts ORDER BY version DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ArtifactInfo
	for rows.Next() {
		var info model.ArtifactInfo
		var created time.Time
		var cols string
		if err := rows.Scan(&info.Version, &created, &info.K, &cols, &info.Checksum); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		info.CreatedAt = created.UTC()
		info.Columns = strings.Split(cols, ",")
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate artifacts")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
