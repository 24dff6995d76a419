// Package train fits a segmentation model from a feature table and
// persists it as a versioned artifact.
package train

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/artifact"
	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/labeling"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/scaler"
)

// Params configures a training run.
type Params struct {
	K             int
	Seed          int64
	Restarts      int
	MaxIterations int
	Tolerance     float64
	Workers       int
	Labeler       string
}

// DefaultParams returns k=4, seed 42, 10 restarts and the RFM labeler.
func DefaultParams() Params {
	c := cluster.DefaultConfig()
	return Params{
		K:             c.K,
		Seed:          c.Seed,
		Restarts:      c.Restarts,
		MaxIterations: c.MaxIterations,
		Tolerance:     c.Tolerance,
		Workers:       c.Workers,
		Labeler:       labeling.RFMRankerName,
	}
}

func (p Params) clusterConfig() cluster.Config {
	return cluster.Config{
		K:             p.K,
		Restarts:      p.Restarts,
		MaxIterations: p.MaxIterations,
		Tolerance:     p.Tolerance,
		Seed:          p.Seed,
		Workers:       p.Workers,
	}
}

// Result is a fitted model plus the training customers' assignments.
type Result struct {
	Artifact    *model.ModelArtifact
	Assignments []model.SegmentAssignment
	Info        model.ArtifactInfo
}

// Trainer fits and stores models.
type Trainer struct {
	store artifact.Store
	now   func() time.Time
}

// New returns a Trainer that persists to store. A nil store makes Train
// fail; Fit still works.
func New(store artifact.Store) *Trainer {
	return &Trainer{store: store, now: time.Now}
}

// Fit standardizes the table, clusters it, and labels the clusters. The
// returned artifact carries a fresh version id but is not persisted.
func (t *Trainer) Fit(ctx context.Context, table *model.FeatureTable, p Params) (*Result, error) {
	if table == nil || table.Len() == 0 {
		var stats model.FilterStats
		if table != nil {
			stats = table.Stats
		}
		return nil, &model.EmptyInputError{Stage: "train", Stats: stats}
	}
	if p.K < 2 {
		return nil, &model.InvalidParameterError{Name: "k", Value: p.K, Reason: "must be >= 2"}
	}
	if p.K > table.Len() {
		return nil, &model.InvalidParameterError{Name: "k", Value: p.K, Reason: "exceeds the number of customers"}
	}
	labeler, err := labeling.New(p.Labeler)
	if err != nil {
		return nil, err
	}

	raw, err := table.Matrix()
	if err != nil {
		return nil, eris.Wrap(err, "train: feature matrix")
	}
	params, err := scaler.Fit(table.Columns, raw)
	if err != nil {
		return nil, eris.Wrap(err, "train: fit scaler")
	}
	z, err := scaler.Transform(table.Columns, params, raw)
	if err != nil {
		return nil, eris.Wrap(err, "train: standardize")
	}

	fit, err := cluster.KMeans(ctx, z, p.clusterConfig())
	if err != nil {
		return nil, eris.Wrap(err, "train: k-means")
	}

	labels, err := labeler.Label(fit.Centroids, table.Columns)
	if err != nil {
		return nil, eris.Wrap(err, "train: label segments")
	}

	now := t.now().UTC()
	a := &model.ModelArtifact{
		SchemaVersion:      model.ArtifactSchemaVersion,
		Version:            artifact.NewVersionID(now),
		CreatedAt:          now,
		FeatureColumnOrder: append([]string(nil), table.Columns...),
		ScalerParameters:   params,
		ClusterCentroids:   fit.Centroids,
		SegmentLabelMap:    labels,
		Training: model.TrainingInfo{
			K:                 p.K,
			Seed:              p.Seed,
			Restarts:          p.Restarts,
			MaxIterations:     p.MaxIterations,
			Iterations:        fit.Iterations,
			Inertia:           fit.Inertia,
			Customers:         table.Len(),
			ExcludedCustomers: table.Stats.CustomersExcluded,
			SnapshotDate:      table.Stats.SnapshotDate.UTC(),
			Labeler:           labeler.Name(),
		},
	}
	if err := a.Validate(); err != nil {
		return nil, eris.Wrap(err, "train: assemble artifact")
	}

	assignments := make([]model.SegmentAssignment, table.Len())
	for i, v := range table.Vectors {
		seg, dist := cluster.Nearest(a.ClusterCentroids, z[i])
		assignments[i] = model.SegmentAssignment{
			CustomerID:         v.CustomerID,
			SegmentID:          seg,
			SegmentLabel:       a.Label(seg),
			DistanceToCentroid: dist,
		}
	}

	zap.L().Info("train: model fitted",
		zap.String("version", a.Version),
		zap.Int("k", p.K),
		zap.Int("customers", table.Len()),
		zap.Float64("inertia", fit.Inertia),
		zap.Int("iterations", fit.Iterations),
		zap.Strings("labels", a.Labels()),
	)

	return &Result{Artifact: a, Assignments: assignments}, nil
}

// Train fits a model and saves it. Nothing is written when fitting fails.
func (t *Trainer) Train(ctx context.Context, table *model.FeatureTable, p Params) (*Result, error) {
	if t.store == nil {
		return nil, eris.New("train: no artifact store configured")
	}
	res, err := t.Fit(ctx, table, p)
	if err != nil {
		return nil, err
	}
	info, err := t.store.Save(ctx, res.Artifact)
	if err != nil {
		return nil, eris.Wrap(err, "train: save artifact")
	}
	res.Info = info
	return res, nil
}
