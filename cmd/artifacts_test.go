package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/segment-cli/internal/model"
)

func sampleArtifact() *model.ModelArtifact {
	return &model.ModelArtifact{
		SchemaVersion:      model.ArtifactSchemaVersion,
		Version:            "v1",
		CreatedAt:          time.Date(2011, 12, 10, 9, 0, 0, 0, time.UTC),
		FeatureColumnOrder: model.RFMColumns,
		ScalerParameters: map[string]model.ScalerParam{
			"recency":   {Mean: 92.5, Std: 100.1},
			"frequency": {Mean: 4.27, Std: 7.7},
			"monetary":  {Mean: 2053.79, Std: 8988.2},
		},
		ClusterCentroids: [][]float64{{-0.5, 0.4, 0.2}, {1.5, -0.3, -0.2}},
		SegmentLabelMap:  map[int]string{0: "VIP", 1: "At-Risk"},
	}
}

func TestRenderArtifact(t *testing.T) {
	a := sampleArtifact()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderArtifact(&buf, "json", a))

		var got model.ModelArtifact
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, a.Version, got.Version)
		assert.Equal(t, a.ClusterCentroids, got.ClusterCentroids)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderArtifact(&buf, "yaml", a))
		assert.Contains(t, buf.String(), "feature_column_order:")

		var got model.ModelArtifact
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "At-Risk", got.SegmentLabelMap[1])
	})

	t.Run("unknown", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, renderArtifact(&buf, "xml", a))
	})
}

func TestFormatArtifactList(t *testing.T) {
	var buf bytes.Buffer
	formatArtifactList(&buf, []model.ArtifactInfo{{
		Version:   "20111210T090000.000000000Z-1a2b3c4d",
		CreatedAt: time.Date(2011, 12, 10, 9, 0, 0, 0, time.UTC),
		K:         4,
		Columns:   model.RFMColumns,
		Checksum:  "0123456789abcdef0123456789abcdef",
	}})

	out := buf.String()
	assert.Contains(t, out, "20111210T090000.000000000Z-1a2b3c4d")
	assert.Contains(t, out, "recency,frequency,monetary")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
}
