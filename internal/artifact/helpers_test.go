package artifact

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testArtifact(version string) *model.ModelArtifact {
	return &model.ModelArtifact{
		SchemaVersion:      model.ArtifactSchemaVersion,
		Version:            version,
		CreatedAt:          time.Date(2011, 12, 10, 9, 30, 0, 0, time.UTC),
		FeatureColumnOrder: []string{"recency", "frequency", "monetary"},
		ScalerParameters: map[string]model.ScalerParam{
			"recency":   {Mean: 92.5, Std: 100.1},
			"frequency": {Mean: 4.27, Std: 7.7},
			"monetary":  {Mean: 2053.79, Std: 8988.2},
		},
		ClusterCentroids: [][]float64{
			{-0.51, 0.38, 0.21},
			{1.56, -0.35, -0.18},
			{-0.86, 10.1, 13.4},
		},
		SegmentLabelMap: map[int]string{0: "New", 1: "At-Risk", 2: "VIP"},
		Training: model.TrainingInfo{
			K:             3,
			Seed:          42,
			Restarts:      10,
			MaxIterations: 300,
			Iterations:    7,
			Inertia:       4123.25,
			Customers:     4338,
			SnapshotDate:  time.Date(2011, 12, 10, 12, 50, 0, 0, time.UTC),
			Labeler:       "rfm",
		},
	}
}
