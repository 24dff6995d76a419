package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// MergeSpec describes a keyed merge of staged rows into Table.
type MergeSpec struct {
	Table   string   // target, optionally schema-qualified
	Key     []string // unique constraint the merge conflicts on
	Columns []string // columns supplied per row, key columns included

	// Newer names a column that never moves backwards: a conflicting row
	// replaces the stored one only when its Newer value is not older.
	Newer string
}

func (m MergeSpec) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: no columns", m.Table)
	case len(m.Key) == 0:
		return eris.Errorf("db: merge %s: no key columns", m.Table)
	}
	for _, k := range m.Key {
		if !slices.Contains(m.Columns, k) {
			return eris.Errorf("db: merge %s: key column %s is not supplied", m.Table, k)
		}
	}
	if m.Newer != "" && !slices.Contains(m.Columns, m.Newer) {
		return eris.Errorf("db: merge %s: guard column %s is not supplied", m.Table, m.Newer)
	}
	return nil
}

func (m MergeSpec) stagingTable() string {
	return "_merge_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m MergeSpec) mergeSQL() string {
	cols := quoteAndJoin(m.Columns)
	sql := fmt.Sprintf("INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		identifier(m.Table).Sanitize(), cols, cols,
		pgx.Identifier{m.stagingTable()}.Sanitize(), quoteAndJoin(m.Key))

	var set []string
	for _, c := range m.Columns {
		if slices.Contains(m.Key, c) {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		set = append(set, q+" = EXCLUDED."+q)
	}
	if len(set) == 0 {
		return sql + " DO NOTHING"
	}
	sql += " DO UPDATE SET " + strings.Join(set, ", ")
	if m.Newer != "" {
		q := pgx.Identifier{m.Newer}.Sanitize()
		sql += " WHERE t." + q + " <= EXCLUDED." + q
	}
	return sql
}

// Merge stages rows in a temp table dropped at commit and merges them into
// spec.Table. It runs inside tx, so the merge commits or rolls back together
// with the caller's other writes. It returns the rows inserted or updated.
func Merge(ctx context.Context, tx pgx.Tx, spec MergeSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.validate(); err != nil {
		return 0, err
	}

	staging := spec.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), identifier(spec.Table).Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create staging table", spec.Table)
	}
	if _, err := CopyFrom(ctx, tx, staging, spec.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: stage rows", spec.Table)
	}

	tag, err := tx.Exec(ctx, spec.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s", spec.Table)
	}
	return tag.RowsAffected(), nil
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
