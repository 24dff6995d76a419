package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentMerge() MergeSpec {
	return MergeSpec{
		Table:   "customer_segments",
		Key:     []string{"customer_id"},
		Columns: []string{"customer_id", "segment_id", "segment_label", "scored_at"},
		Newer:   "scored_at",
	}
}

func TestMergeSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MergeSpec)
		want   string
	}{
		{"no table", func(m *MergeSpec) { m.Table = "" }, "no table"},
		{"no columns", func(m *MergeSpec) { m.Columns = nil }, "no columns"},
		{"no key", func(m *MergeSpec) { m.Key = nil }, "no key columns"},
		{"key not supplied", func(m *MergeSpec) { m.Key = []string{"email"} }, "key column email"},
		{"guard not supplied", func(m *MergeSpec) { m.Newer = "updated_at" }, "guard column updated_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := segmentMerge()
			tt.mutate(&spec)
			_, err := Merge(context.Background(), nil, spec, [][]any{{"12346", 0, "VIP", "2011-12-10"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMergeSpec_SQL(t *testing.T) {
	spec := segmentMerge()
	assert.Equal(t,
		`INSERT INTO "customer_segments" AS t ("customer_id", "segment_id", "segment_label", "scored_at") `+
			`SELECT "customer_id", "segment_id", "segment_label", "scored_at" FROM "_merge_customer_segments" `+
			`ON CONFLICT ("customer_id") DO UPDATE SET "segment_id" = EXCLUDED."segment_id", `+
			`"segment_label" = EXCLUDED."segment_label", "scored_at" = EXCLUDED."scored_at" `+
			`WHERE t."scored_at" <= EXCLUDED."scored_at"`,
		spec.mergeSQL())

	spec.Newer = ""
	assert.NotContains(t, spec.mergeSQL(), "WHERE")

	keysOnly := MergeSpec{Table: "segments.members", Key: []string{"customer_id"}, Columns: []string{"customer_id"}}
	assert.Equal(t, "_merge_segments_members", keysOnly.stagingTable())
	assert.Contains(t, keysOnly.mergeSQL(), `INSERT INTO "segments"."members" AS t`)
	assert.Contains(t, keysOnly.mergeSQL(), "DO NOTHING")
}

func TestMerge_EmptyRows(t *testing.T) {
	n, err := Merge(context.Background(), nil, MergeSpec{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMerge_InCallerTx(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	spec := segmentMerge()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_merge_customer_segments" \(LIKE "customer_segments" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_customer_segments"}, spec.Columns).
		WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`WHERE t."scored_at" <= EXCLUDED."scored_at"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	rows := [][]any{{"12346", 0, "VIP", "2011-12-10"}, {"12347", 1, "At-Risk", "2011-12-10"}}
	n, err := Merge(context.Background(), tx, spec, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a row held back by the guard is not counted")
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMerge_StageError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	spec := segmentMerge()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_merge_customer_segments"}, spec.Columns).
		WillReturnError(fmt.Errorf("copy failed"))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	_, err = Merge(context.Background(), tx, spec, [][]any{{"12346", 0, "VIP", "2011-12-10"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: merge customer_segments: stage rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
