package model

import (
	"encoding/json"
	"time"
)

// RunKind identifies the pipeline stage a run executed.
type RunKind string

const (
	RunKindTrain RunKind = "train"
	RunKindScore RunKind = "score"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one train or score invocation.
type Run struct {
	ID              string          `json:"id"`
	Kind            RunKind         `json:"kind"`
	Status          RunStatus       `json:"status"`
	ArtifactVersion string          `json:"artifact_version,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Stats           *FilterStats    `json:"stats,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
