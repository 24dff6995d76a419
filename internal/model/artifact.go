package model

import (
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// ArtifactSchemaVersion is the artifact document layout this build reads and writes.
const ArtifactSchemaVersion = 1

// LatestVersion resolves to the most recently saved artifact.
const LatestVersion = "latest"

// ScalerParam is one feature's standardization statistics.
type ScalerParam struct {
	Mean float64 `json:"mean" yaml:"mean"`
	Std  float64 `json:"std" yaml:"std"`
}

// TrainingInfo records how an artifact was produced.
type TrainingInfo struct {
	K                 int       `json:"k" yaml:"k"`
	Seed              int64     `json:"seed" yaml:"seed"`
	Restarts          int       `json:"restarts" yaml:"restarts"`
	MaxIterations     int       `json:"max_iterations" yaml:"max_iterations"`
	Iterations        int       `json:"iterations" yaml:"iterations"`
	Inertia           float64   `json:"inertia" yaml:"inertia"`
	Customers         int       `json:"customers" yaml:"customers"`
	ExcludedCustomers int       `json:"excluded_customers" yaml:"excluded_customers"`
	SnapshotDate      time.Time `json:"snapshot_date" yaml:"snapshot_date"`
	Labeler           string    `json:"labeler" yaml:"labeler"`
}

// ModelArtifact is the persisted, self-describing bundle needed to score
// without retraining. Treat it as read-only once created.
type ModelArtifact struct {
	SchemaVersion      int                    `json:"schema_version" yaml:"schema_version"`
	Version            string                 `json:"version" yaml:"version"`
	CreatedAt          time.Time              `json:"created_at" yaml:"created_at"`
	FeatureColumnOrder []string               `json:"feature_column_order" yaml:"feature_column_order"`
	ScalerParameters   map[string]ScalerParam `json:"scaler_parameters" yaml:"scaler_parameters"`
	ClusterCentroids   [][]float64            `json:"cluster_centroids" yaml:"cluster_centroids"`
	SegmentLabelMap    map[int]string         `json:"segment_label_map" yaml:"segment_label_map"`
	Training           TrainingInfo           `json:"training" yaml:"training"`
}

// K returns the number of segments.
func (a *ModelArtifact) K() int {
	return len(a.ClusterCentroids)
}

// Label returns the business label for a segment id.
func (a *ModelArtifact) Label(segmentID int) string {
	return a.SegmentLabelMap[segmentID]
}

// Labels returns the labels ordered by segment id.
func (a *ModelArtifact) Labels() []string {
	out := make([]string, a.K())
	for i := range out {
		out[i] = a.SegmentLabelMap[i]
	}
	return out
}

// Validate checks the structural invariants of an artifact. The returned
// error describes the first violation found.
func (a *ModelArtifact) Validate() error {
	if a.SchemaVersion != ArtifactSchemaVersion {
		return eris.Errorf("unsupported schema_version %d (want %d)", a.SchemaVersion, ArtifactSchemaVersion)
	}
	if len(a.FeatureColumnOrder) == 0 {
		return eris.New("feature_column_order is empty")
	}
	seen := make(map[string]bool, len(a.FeatureColumnOrder))
	for _, c := range a.FeatureColumnOrder {
		if !IsKnownColumn(c) {
			return eris.Errorf("unknown feature column %q", c)
		}
		if seen[c] {
			return eris.Errorf("duplicate feature column %q", c)
		}
		seen[c] = true
		p, ok := a.ScalerParameters[c]
		if !ok {
			return eris.Errorf("scaler_parameters missing %q", c)
		}
		if !(p.Std > 0) || math.IsInf(p.Std, 0) || math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) {
			return eris.Errorf("scaler_parameters for %q are not usable (mean=%g std=%g)", c, p.Mean, p.Std)
		}
	}
	if len(a.ScalerParameters) != len(a.FeatureColumnOrder) {
		return eris.Errorf("scaler_parameters has %d entries for %d columns", len(a.ScalerParameters), len(a.FeatureColumnOrder))
	}
	if len(a.ClusterCentroids) < 2 {
		return eris.Errorf("need at least 2 cluster_centroids, got %d", len(a.ClusterCentroids))
	}
	if len(a.SegmentLabelMap) != len(a.ClusterCentroids) {
		return eris.Errorf("segment_label_map has %d entries for %d centroids", len(a.SegmentLabelMap), len(a.ClusterCentroids))
	}
	for i, c := range a.ClusterCentroids {
		if len(c) != len(a.FeatureColumnOrder) {
			return eris.Errorf("centroid %d has %d dimensions, want %d", i, len(c), len(a.FeatureColumnOrder))
		}
		if slices.ContainsFunc(c, func(x float64) bool { return math.IsNaN(x) || math.IsInf(x, 0) }) {
			return eris.Errorf("centroid %d has a non-finite coordinate", i)
		}
		if label, ok := a.SegmentLabelMap[i]; !ok || label == "" {
			return eris.Errorf("segment_label_map has no label for centroid %d", i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias a stored artifact.
func (a *ModelArtifact) Clone() *ModelArtifact {
	if a == nil {
		return nil
	}
	out := *a
	out.FeatureColumnOrder = slices.Clone(a.FeatureColumnOrder)
	out.ScalerParameters = make(map[string]ScalerParam, len(a.ScalerParameters))
	for k, v := range a.ScalerParameters {
		out.ScalerParameters[k] = v
	}
	out.ClusterCentroids = make([][]float64, len(a.ClusterCentroids))
	for i, c := range a.ClusterCentroids {
		out.ClusterCentroids[i] = slices.Clone(c)
	}
	out.SegmentLabelMap = make(map[int]string, len(a.SegmentLabelMap))
	for k, v := range a.SegmentLabelMap {
		out.SegmentLabelMap[k] = v
	}
	return &out
}

// ArtifactInfo is a listing entry for a stored artifact.
type ArtifactInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	K         int       `json:"k"`
	Columns   []string  `json:"columns"`
	Checksum  string    `json:"checksum"`
}
