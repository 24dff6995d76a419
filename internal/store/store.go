// Package store records pipeline runs and scoring output.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/segment-cli/internal/model"
)

// ErrNotFound is returned when a run or customer has no stored row.
var ErrNotFound = errors.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// CustomerSegment is the most recent segment stored for a customer.
type CustomerSegment struct {
	CustomerID         string    `json:"customer_id"`
	SegmentID          int       `json:"segment_id"`
	SegmentLabel       string    `json:"segment_label"`
	DistanceToCentroid float64   `json:"distance_to_centroid"`
	ArtifactVersion    string    `json:"artifact_version"`
	RunID              string    `json:"run_id"`
	ScoredAt           time.Time `json:"scored_at"`
}

// Store defines the persistence interface for runs and assignments.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind, params any) (*model.Run, error)
	CompleteRun(ctx context.Context, runID, artifactVersion string, stats *model.FilterStats) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Assignments
	SaveAssignments(ctx context.Context, runID, artifactVersion string, assignments []model.SegmentAssignment) (int64, error)
	ListAssignments(ctx context.Context, runID string) ([]model.SegmentAssignment, error)
	GetCustomerSegment(ctx context.Context, customerID string) (*CustomerSegment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}

func errorText(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}
