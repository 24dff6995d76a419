package features

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/segment-cli/internal/model"
)

// ctxCheckInterval is how many rows a shard processes between context checks.
const ctxCheckInterval = 4096

// Options configures a feature build.
type Options struct {
	// SnapshotDate overrides the reference date for recency. When zero the
	// snapshot is the latest qualifying timestamp plus SnapshotOffset.
	SnapshotDate time.Time

	// SnapshotOffset is added to the latest timestamp when SnapshotDate is zero.
	SnapshotOffset time.Duration

	// CancellationPrefix marks cancelled invoices. Empty disables the rule.
	CancellationPrefix string

	// Columns selects and orders the feature columns of the table.
	Columns []string

	// Workers is the number of aggregation shards. Values below 1 mean 1.
	Workers int
}

// DefaultOptions returns the conventions of the Online Retail dataset:
// invoices prefixed "C" are cancellations and the snapshot is one day after
// the latest purchase.
func DefaultOptions() Options {
	return Options{
		SnapshotOffset:     24 * time.Hour,
		CancellationPrefix: "C",
		Columns:            append([]string(nil), model.RFMColumns...),
		Workers:            4,
	}
}

// ParseSnapshot reads a snapshot date given as YYYY-MM-DD or RFC 3339.
func ParseSnapshot(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &model.InvalidParameterError{Name: "snapshot", Value: s, Reason: "want YYYY-MM-DD or RFC 3339"}
	}
	return t.UTC(), nil
}

func (o Options) validate() error {
	if len(o.Columns) == 0 {
		return &model.InvalidParameterError{Name: "columns", Value: o.Columns, Reason: "at least one feature column is required"}
	}
	seen := make(map[string]bool, len(o.Columns))
	for _, c := range o.Columns {
		if !model.IsKnownColumn(c) {
			return &model.InvalidParameterError{Name: "columns", Value: c, Reason: "unknown feature column"}
		}
		if seen[c] {
			return &model.InvalidParameterError{Name: "columns", Value: c, Reason: "duplicate feature column"}
		}
		seen[c] = true
	}
	if o.SnapshotOffset < 0 {
		return &model.InvalidParameterError{Name: "snapshot_offset", Value: o.SnapshotOffset, Reason: "must be >= 0"}
	}
	return nil
}

// Build filters and aggregates records into a feature table keyed by
// customer. A customer whose rows are all filtered out is excluded and
// counted in Stats.CustomersExcluded. An empty table is not an error here;
// the trainer and scorer decide what an empty table means for them.
func Build(ctx context.Context, records []model.TransactionRecord, opts Options) (*model.FeatureTable, error) {
	if err := opts.validate(); err != nil {
		return nil, eris.Wrap(err, "features: options")
	}

	merged, err := aggregate(ctx, records, opts)
	if err != nil {
		return nil, err
	}

	snapshot := opts.SnapshotDate
	if snapshot.IsZero() && !merged.latest.IsZero() {
		snapshot = merged.latest.Add(opts.SnapshotOffset)
	}

	vectors := make([]model.CustomerFeatureVector, 0, len(merged.customers))
	for id, acc := range merged.customers {
		v, err := acc.vector(id, snapshot)
		if err != nil {
			return nil, eris.Wrap(err, "features: finalize customer")
		}
		vectors = append(vectors, v)
	}

	stats := merged.stats
	stats.SnapshotDate = snapshot
	stats.CustomersSeen = len(merged.seen)
	stats.CustomersKept = len(vectors)
	stats.CustomersExcluded = stats.CustomersSeen - stats.CustomersKept

	table, err := model.NewFeatureTable(opts.Columns, vectors, stats)
	if err != nil {
		return nil, eris.Wrap(err, "features: build table")
	}

	zap.L().Debug("features: table built",
		zap.Int("input_rows", stats.InputRows),
		zap.Int("kept_rows", stats.KeptRows),
		zap.Int("customers", stats.CustomersKept),
		zap.Int("customers_excluded", stats.CustomersExcluded),
		zap.Time("snapshot", snapshot),
	)

	return table, nil
}

// aggregate shards records into contiguous chunks, aggregates each chunk
// concurrently, and merges the shards.
func aggregate(ctx context.Context, records []model.TransactionRecord, opts Options) (*shard, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(records) {
		workers = max(len(records), 1)
	}

	chunk := (len(records) + workers - 1) / workers
	shards := make([]*shard, workers)

	g, gCtx := errgroup.WithContext(ctx)
	for i := range workers {
		lo := min(i*chunk, len(records))
		hi := min(lo+chunk, len(records))
		g.Go(func() error {
			s := newShard()
			for j, r := range records[lo:hi] {
				if j%ctxCheckInterval == 0 && gCtx.Err() != nil {
					return eris.Wrap(gCtx.Err(), "features: context cancelled")
				}
				s.add(r, opts.CancellationPrefix)
			}
			shards[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newShard()
	for _, s := range shards {
		merged.merge(s)
	}
	return merged, nil
}
