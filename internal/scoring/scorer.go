// Package scoring assigns customers to the segments of a stored model.
package scoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/features"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/scaler"
)

// minChunk is the smallest number of customers handed to one worker.
const minChunk = 256

// Scorer applies one artifact. It is safe for concurrent use.
type Scorer struct {
	artifact *model.ModelArtifact
	workers  int
}

// New validates a and returns a scorer for it. workers <= 0 means 4.
func New(a *model.ModelArtifact, workers int) (*Scorer, error) {
	if a == nil {
		return nil, eris.New("scoring: nil artifact")
	}
	if err := a.Validate(); err != nil {
		return nil, eris.Wrap(&model.ArtifactCorruptError{Version: a.Version, Reason: err.Error()}, "scoring: artifact")
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scorer{artifact: a, workers: workers}, nil
}

// Artifact returns the model this scorer applies.
func (s *Scorer) Artifact() *model.ModelArtifact { return s.artifact }

// Batch is the output of scoring raw transactions.
type Batch struct {
	Table       *model.FeatureTable
	Assignments []model.SegmentAssignment
}

// Score builds features from records with the artifact's column order and
// scores them. opts supplies the snapshot and filtering conventions; its
// Columns are ignored.
func (s *Scorer) Score(ctx context.Context, records []model.TransactionRecord, opts features.Options) (*Batch, error) {
	opts.Columns = s.artifact.FeatureColumnOrder
	table, err := features.Build(ctx, records, opts)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: build features")
	}
	assignments, err := s.ScoreTable(ctx, table)
	if err != nil {
		return nil, err
	}
	return &Batch{Table: table, Assignments: assignments}, nil
}

// ScoreTable assigns every customer in table to its nearest centroid. The
// table's columns must match the artifact's order exactly. Output follows
// the table order, which is ascending CustomerID.
func (s *Scorer) ScoreTable(ctx context.Context, table *model.FeatureTable) ([]model.SegmentAssignment, error) {
	if table.Len() == 0 {
		var stats model.FilterStats
		if table != nil {
			stats = table.Stats
		}
		return nil, &model.EmptyInputError{Stage: "score", Stats: stats}
	}
	a := s.artifact
	if err := model.CheckSchema(a.FeatureColumnOrder, table.Columns); err != nil {
		return nil, eris.Wrap(err, "scoring: feature columns")
	}

	n := table.Len()
	out := make([]model.SegmentAssignment, n)
	chunk := max(minChunk, (n+s.workers-1)/s.workers)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return eris.Wrap(err, "scoring: context cancelled")
			}
			for i := lo; i < hi; i++ {
				v := table.Vectors[i]
				raw, err := v.Point(a.FeatureColumnOrder)
				if err != nil {
					return eris.Wrapf(err, "scoring: customer %s", v.CustomerID)
				}
				z, err := scaler.TransformPoint(a.FeatureColumnOrder, a.ScalerParameters, raw)
				if err != nil {
					return eris.Wrapf(err, "scoring: standardize customer %s", v.CustomerID)
				}
				seg, dist := cluster.Nearest(a.ClusterCentroids, z)
				out[i] = model.SegmentAssignment{
					CustomerID:         v.CustomerID,
					SegmentID:          seg,
					SegmentLabel:       a.Label(seg),
					DistanceToCentroid: dist,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("scoring: batch scored",
		zap.String("version", a.Version),
		zap.Int("customers", n),
	)
	return out, nil
}
