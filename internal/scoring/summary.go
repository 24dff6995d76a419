package scoring

import (
	"github.com/sells-group/segment-cli/internal/model"
)

// Summarize aggregates assignments per segment. Every segment of a appears,
// including empty ones. Feature means come from table when a customer is
// present there.
func Summarize(a *model.ModelArtifact, table *model.FeatureTable, assignments []model.SegmentAssignment) []model.SegmentSummary {
	out := make([]model.SegmentSummary, a.K())
	for i := range out {
		out[i] = model.SegmentSummary{SegmentID: i, SegmentLabel: a.Label(i)}
	}

	type sums struct{ r, f, m, d float64 }
	acc := make([]sums, a.K())
	for _, as := range assignments {
		if as.SegmentID < 0 || as.SegmentID >= len(out) {
			continue
		}
		out[as.SegmentID].Customers++
		s := &acc[as.SegmentID]
		s.d += as.DistanceToCentroid
		if table == nil {
			continue
		}
		if v, ok := table.Lookup(as.CustomerID); ok {
			s.r += float64(v.Recency)
			s.f += float64(v.Frequency)
			s.m += v.Monetary.InexactFloat64()
		}
	}

	for i := range out {
		n := float64(out[i].Customers)
		if n == 0 {
			continue
		}
		out[i].MeanRecency = acc[i].r / n
		out[i].MeanFrequency = acc[i].f / n
		out[i].MeanMonetary = acc[i].m / n
		out[i].MeanDistance = acc[i].d / n
	}
	return out
}
