package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/export"
	"github.com/sells-group/segment-cli/internal/model"
)

// writeTransactions writes three frequent recent buyers and three lapsed
// one-off buyers in the Online Retail layout.
func writeTransactions(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n")
	inv := 540000
	for c := range 3 {
		for d := range 5 {
			inv++
			fmt.Fprintf(&b, "%d,2285%d,LANTERN,%d,2011-12-0%d 10:00:00,5.00,%d.0,United Kingdom\n", inv, d, 10+c, d+1, 101+c)
		}
	}
	for c := range 3 {
		inv++
		fmt.Fprintf(&b, "%d,84879,BIRD,1,2011-06-0%d 09:00:00,2.%d0,%d,France\n", inv, c+1, c, 201+c)
	}
	// Cancellation and missing customer rows are filtered out.
	fmt.Fprintf(&b, "C%d,84879,BIRD,-1,2011-06-05 09:00:00,2.00,201,France\n", inv+1)
	fmt.Fprintf(&b, "%d,84879,BIRD,3,2011-06-05 09:00:00,2.00,,France\n", inv+2)

	path := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "segment-cli %s", strings.Join(args, " "))
	return out.String()
}

func TestPipeline_TrainScoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SEGMENT_ARTIFACTS_DIR", filepath.Join(dir, "artifacts"))
	t.Setenv("SEGMENT_STORE_DATABASE_URL", filepath.Join(dir, "segment.db"))
	t.Setenv("SEGMENT_LOG_LEVEL", "error")
	input := writeTransactions(t, dir)

	featuresOut := filepath.Join(dir, "features.csv")
	execute(t, "features", input, "--out", featuresOut)

	f, err := os.Open(featuresOut)
	require.NoError(t, err)
	table, err := export.ReadFeatures(f, nil)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	require.Equal(t, 6, table.Len())
	assert.Equal(t, model.RFMColumns, table.Columns)

	out := execute(t, "train", input, "--k", "2")
	assert.Contains(t, out, "VIP")
	assert.Contains(t, out, "At-Risk")

	list := execute(t, "artifacts", "list")
	assert.Contains(t, list, "recency,frequency,monetary")

	scoreOut := filepath.Join(dir, "assignments.json")
	execute(t, "score", input, "--format", "json", "--out", scoreOut, "--save")

	raw, err := os.ReadFile(scoreOut)
	require.NoError(t, err)
	var assignments []model.SegmentAssignment
	require.NoError(t, json.Unmarshal(raw, &assignments))
	require.Len(t, assignments, 6)

	labels := make(map[string]string, len(assignments))
	for _, a := range assignments {
		labels[a.CustomerID] = a.SegmentLabel
	}
	for _, id := range []string{"101", "102", "103"} {
		assert.Equal(t, "VIP", labels[id], "customer %s", id)
	}
	for _, id := range []string{"201", "202", "203"} {
		assert.Equal(t, "At-Risk", labels[id], "customer %s", id)
	}

	// Scoring the prepared feature table gives the same assignments.
	execute(t, "score", "--features", featuresOut, "--format", "json", "--out", scoreOut)
	raw2, err := os.ReadFile(scoreOut)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(raw2))

	// A feature file with a column the model was not trained on is rejected
	// before any value is read.
	lines := strings.Split(strings.TrimSpace(string(mustRead(t, featuresOut))), "\n")
	lines[0] += ",channel"
	for i := 1; i < len(lines); i++ {
		lines[i] += ",web"
	}
	extraOut := filepath.Join(dir, "features_extra.csv")
	require.NoError(t, os.WriteFile(extraOut, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	rootCmd.SetArgs([]string{"score", "--features", extraOut, "--format", "json", "--out", scoreOut})
	err = rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSchemaMismatch), "got %v", err)
	assert.Contains(t, err.Error(), "extra [channel]")

	runs := execute(t, "runs", "list")
	assert.Contains(t, runs, "train")
	assert.Contains(t, runs, "score")
	assert.Contains(t, runs, "complete")

	shown := execute(t, "artifacts", "show", "latest", "--format", "yaml")
	assert.Contains(t, shown, "segment_label_map:")
}
