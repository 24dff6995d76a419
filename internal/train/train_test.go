package train

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var snapshot = time.Date(2011, 12, 10, 12, 50, 0, 0, time.UTC)

func vec(id string, r, f int, m int64) model.CustomerFeatureVector {
	return model.CustomerFeatureVector{
		CustomerID:     id,
		Recency:        r,
		Frequency:      f,
		Monetary:       decimal.NewFromInt(m),
		TotalQuantity:  int64(f * 10),
		UniqueProducts: f,
	}
}

// threeGroups returns ten loyal big spenders (A*), ten lapsed one-off
// buyers (B*) and ten recent first-time buyers (C*).
func threeGroups(t *testing.T) *model.FeatureTable {
	t.Helper()
	var vs []model.CustomerFeatureVector
	for i := range 10 {
		vs = append(vs,
			vec(fmt.Sprintf("A%02d", i), 1+i%3, 20+i%3, 5000+int64(i)*10),
			vec(fmt.Sprintf("B%02d", i), 300+i%5, 1+i%2, 100+int64(i)*2),
			vec(fmt.Sprintf("C%02d", i), 5+i%4, 1, 50+int64(i)),
		)
	}
	table, err := model.NewFeatureTable(model.RFMColumns, vs, model.FilterStats{SnapshotDate: snapshot, CustomersKept: 30})
	require.NoError(t, err)
	return table
}

func params(k int) Params {
	p := DefaultParams()
	p.K = k
	return p
}

func TestFit_WellSeparatedGroups(t *testing.T) {
	tr := New(nil)
	res, err := tr.Fit(context.Background(), threeGroups(t), params(3))
	require.NoError(t, err)

	a := res.Artifact
	require.NoError(t, a.Validate())
	assert.Equal(t, 3, a.K())
	assert.Equal(t, model.RFMColumns, a.FeatureColumnOrder)
	assert.Equal(t, 30, a.Training.Customers)
	assert.Equal(t, "rfm", a.Training.Labeler)
	assert.Equal(t, snapshot, a.Training.SnapshotDate)
	assert.True(t, artifact.ValidVersion(a.Version))

	byGroup := map[byte]map[string]bool{}
	for _, as := range res.Assignments {
		g := as.CustomerID[0]
		if byGroup[g] == nil {
			byGroup[g] = map[string]bool{}
		}
		byGroup[g][as.SegmentLabel] = true
	}
	assert.Equal(t, map[string]bool{"VIP": true}, byGroup['A'])
	assert.Equal(t, map[string]bool{"At-Risk": true}, byGroup['B'])
	assert.Equal(t, map[string]bool{"New": true}, byGroup['C'])
}

func TestFit_ScalerUsesPopulationStd(t *testing.T) {
	res, err := New(nil).Fit(context.Background(), threeGroups(t), params(3))
	require.NoError(t, err)

	p := res.Artifact.ScalerParameters["frequency"]
	// 10×{20,21,22,20,...} + B {1,2,...} + C 1
	assert.Greater(t, p.Std, 0.0)
	assert.InDelta(t, (209.0+15.0+10.0)/30.0, p.Mean, 1e-9)
}

func TestFit_Deterministic(t *testing.T) {
	table := threeGroups(t)

	a, err := New(nil).Fit(context.Background(), table, params(4))
	require.NoError(t, err)

	p := params(4)
	p.Workers = 1
	b, err := New(nil).Fit(context.Background(), table, p)
	require.NoError(t, err)

	assert.Equal(t, a.Artifact.ClusterCentroids, b.Artifact.ClusterCentroids)
	assert.Equal(t, a.Artifact.SegmentLabelMap, b.Artifact.SegmentLabelMap)
	assert.Equal(t, a.Assignments, b.Assignments)
}

func TestFit_KEqualsCustomers(t *testing.T) {
	vs := []model.CustomerFeatureVector{vec("1", 1, 5, 900), vec("2", 40, 2, 300), vec("3", 200, 1, 20)}
	table, err := model.NewFeatureTable(model.RFMColumns, vs, model.FilterStats{})
	require.NoError(t, err)

	res, err := New(nil).Fit(context.Background(), table, params(3))
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Artifact.Training.Inertia, 1e-9)

	seen := map[int]bool{}
	for _, as := range res.Assignments {
		seen[as.SegmentID] = true
		assert.InDelta(t, 0, as.DistanceToCentroid, 1e-9)
	}
	assert.Len(t, seen, 3)
}

func TestFit_Errors(t *testing.T) {
	empty, err := model.NewFeatureTable(model.RFMColumns, nil, model.FilterStats{InputRows: 5, DroppedCancelled: 5})
	require.NoError(t, err)

	same := []model.CustomerFeatureVector{vec("1", 3, 2, 100), vec("2", 9, 2, 300), vec("3", 1, 2, 20)}
	flat, err := model.NewFeatureTable(model.RFMColumns, same, model.FilterStats{})
	require.NoError(t, err)

	table := threeGroups(t)
	badLabeler := params(3)
	badLabeler.Labeler = "random"
	noRestarts := params(3)
	noRestarts.Restarts = 0

	tests := []struct {
		name   string
		table  *model.FeatureTable
		params Params
		target error
	}{
		{"nil table", nil, params(3), model.ErrEmptyTrainingSet},
		{"empty table", empty, params(3), model.ErrEmptyTrainingSet},
		{"k below two", table, params(1), model.ErrInvalidParameter},
		{"k above customers", table, params(31), model.ErrInvalidParameter},
		{"no restarts", table, noRestarts, model.ErrInvalidParameter},
		{"unknown labeler", table, badLabeler, model.ErrInvalidParameter},
		{"degenerate frequency", flat, params(2), model.ErrDegenerateFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil).Fit(context.Background(), tt.table, tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())
		})
	}
}

func TestFit_DegenerateNamesColumn(t *testing.T) {
	same := []model.CustomerFeatureVector{vec("1", 3, 2, 100), vec("2", 9, 2, 300)}
	flat, err := model.NewFeatureTable(model.RFMColumns, same, model.FilterStats{})
	require.NoError(t, err)

	_, err = New(nil).Fit(context.Background(), flat, params(2))
	var de *model.DegenerateFeatureError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "frequency", de.Column)
}

func TestTrain_PersistsArtifact(t *testing.T) {
	store, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	ctx := context.Background()

	tr := New(store)
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	res, err := tr.Train(ctx, threeGroups(t), params(3))
	require.NoError(t, err)
	assert.Equal(t, res.Artifact.Version, res.Info.Version)
	assert.Len(t, res.Info.Checksum, 64)

	loaded, err := store.Load(ctx, model.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, res.Artifact, loaded)
}

func TestTrain_FailureWritesNothing(t *testing.T) {
	store, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = New(store).Train(ctx, threeGroups(t), params(99))
	require.Error(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTrain_NoStore(t *testing.T) {
	_, err := New(nil).Train(context.Background(), threeGroups(t), params(3))
	assert.Error(t, err)
}
