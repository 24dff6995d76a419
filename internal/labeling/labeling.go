// Package labeling names k-means clusters.
package labeling

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// Labeler assigns a human-readable label to each centroid index.
// Centroids are in standardized feature space and columns give their order.
type Labeler interface {
	Name() string
	Label(centroids [][]float64, columns []string) (map[int]string, error)
}

// Label names produced by RFMRanker.
const (
	LabelVIP    = "VIP"
	LabelAtRisk = "At-Risk"
	LabelNew    = "New"
)

// New returns the labeler registered under name.
func New(name string) (Labeler, error) {
	switch name {
	case "", RFMRankerName:
		return RFMRanker{}, nil
	case OrdinalName:
		return Ordinal{}, nil
	default:
		return nil, eris.Wrap(&model.InvalidParameterError{
			Name:   "labeler",
			Value:  name,
			Reason: fmt.Sprintf("must be %q or %q", RFMRankerName, OrdinalName),
		}, "labeling: lookup")
	}
}

// RFMRankerName identifies RFMRanker.
const RFMRankerName = "rfm"

// RFMRanker labels clusters by their standardized recency, frequency and
// monetary coordinates:
//
//	VIP      max(-recency + frequency + monetary)
//	At-Risk  max(recency - frequency) among the rest
//	New      max(-frequency - recency) among the rest
//
// Remaining clusters become "Tier 1".."Tier n" in descending VIP score.
// Ties resolve to the lowest centroid index.
type RFMRanker struct{}

// Name implements Labeler.
func (RFMRanker) Name() string { return RFMRankerName }

// Label implements Labeler.
func (RFMRanker) Label(centroids [][]float64, columns []string) (map[int]string, error) {
	if len(centroids) == 0 {
		return nil, eris.New("labeling: no centroids")
	}

	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	for _, c := range model.RFMColumns {
		if _, ok := idx[c]; !ok {
			return nil, eris.Wrap(&model.InvalidParameterError{
				Name:   "labeler",
				Value:  RFMRankerName,
				Reason: "requires column " + c,
			}, "labeling: rfm")
		}
	}
	for i, c := range centroids {
		if len(c) != len(columns) {
			return nil, eris.Errorf("labeling: centroid %d has %d dimensions, want %d", i, len(c), len(columns))
		}
	}

	r, f, m := idx[model.ColumnRecency], idx[model.ColumnFrequency], idx[model.ColumnMonetary]
	value := func(c []float64) float64 { return -c[r] + c[f] + c[m] }
	risk := func(c []float64) float64 { return c[r] - c[f] }
	fresh := func(c []float64) float64 { return -c[f] - c[r] }

	labels := make(map[int]string, len(centroids))
	taken := make([]bool, len(centroids))

	for _, step := range []struct {
		label string
		score func([]float64) float64
	}{
		{LabelVIP, value},
		{LabelAtRisk, risk},
		{LabelNew, fresh},
	} {
		best := argmax(centroids, taken, step.score)
		if best < 0 {
			break
		}
		taken[best] = true
		labels[best] = step.label
	}

	var rest []int
	for i := range centroids {
		if !taken[i] {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		return value(centroids[rest[a]]) > value(centroids[rest[b]])
	})
	for n, i := range rest {
		labels[i] = fmt.Sprintf("Tier %d", n+1)
	}

	return labels, nil
}

// argmax returns the untaken index with the highest score, or -1.
func argmax(centroids [][]float64, taken []bool, score func([]float64) float64) int {
	best := -1
	var bestScore float64
	for i, c := range centroids {
		if taken[i] {
			continue
		}
		if s := score(c); best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// OrdinalName identifies Ordinal.
const OrdinalName = "ordinal"

// Ordinal labels clusters "Segment 0".."Segment k-1".
type Ordinal struct{}

// Name implements Labeler.
func (Ordinal) Name() string { return OrdinalName }

// Label implements Labeler.
func (Ordinal) Label(centroids [][]float64, _ []string) (map[int]string, error) {
	if len(centroids) == 0 {
		return nil, eris.New("labeling: no centroids")
	}
	labels := make(map[int]string, len(centroids))
	for i := range centroids {
		labels[i] = fmt.Sprintf("Segment %d", i)
	}
	return labels, nil
}
