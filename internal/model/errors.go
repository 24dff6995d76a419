package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the segmentation pipeline. Every typed error below
// matches exactly one of these through errors.Is.
var (
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrEmptyTrainingSet  = errors.New("empty training set")
	ErrEmptyBatch        = errors.New("empty scoring batch")
	ErrDegenerateFeature = errors.New("degenerate feature")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrArtifactCorrupt   = errors.New("artifact corrupt")
)

// DataIntegrityError reports duplicate keys or malformed aggregates.
type DataIntegrityError struct {
	CustomerID string
	Reason     string
}

func (e *DataIntegrityError) Error() string {
	if e.CustomerID == "" {
		return fmt.Sprintf("%s: %s", ErrDataIntegrity, e.Reason)
	}
	return fmt.Sprintf("%s: %s (customer %q)", ErrDataIntegrity, e.Reason, e.CustomerID)
}

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// EmptyInputError reports that no rows survived filtering. Stats carries the
// before/after row counts for diagnosis.
type EmptyInputError struct {
	Stage string // "train" or "score"
	Stats FilterStats
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s: no customers survived filtering (%d input rows, %d kept, %d dropped missing customer, %d cancelled, %d non-positive quantity, %d non-positive price)",
		e.sentinel(), e.Stats.InputRows, e.Stats.KeptRows, e.Stats.DroppedMissingCustomer,
		e.Stats.DroppedCancelled, e.Stats.DroppedNonPositiveQty, e.Stats.DroppedNonPositivePrice)
}

func (e *EmptyInputError) sentinel() error {
	if e.Stage == "score" {
		return ErrEmptyBatch
	}
	return ErrEmptyTrainingSet
}

func (e *EmptyInputError) Is(target error) bool { return target == e.sentinel() }

// DegenerateFeatureError reports a zero-variance feature column.
type DegenerateFeatureError struct {
	Column string
	Value  float64
}

func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("%s: column %q has zero variance (every value is %g)", ErrDegenerateFeature, e.Column, e.Value)
}

func (e *DegenerateFeatureError) Is(target error) bool { return target == ErrDegenerateFeature }

// InvalidParameterError reports a bad operator-supplied parameter.
type InvalidParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrInvalidParameter, e.Name, e.Value, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// SchemaMismatchError reports a scoring-time column mismatch against an artifact.
type SchemaMismatchError struct {
	Expected []string
	Got      []string
	Missing  []string
	Extra    []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "extra ["+strings.Join(e.Extra, ", ")+"]")
	}
	if len(parts) == 0 {
		parts = append(parts, "column order differs")
	}
	return fmt.Sprintf("%s: %s (expected [%s], got [%s])", ErrSchemaMismatch,
		strings.Join(parts, "; "), strings.Join(e.Expected, ", "), strings.Join(e.Got, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// CheckSchema compares produced columns against an expected order. It never
// reorders: the same names in a different order is still a mismatch.
func CheckSchema(expected, got []string) error {
	same := len(expected) == len(got)
	for i := 0; same && i < len(expected); i++ {
		same = expected[i] == got[i]
	}
	if same {
		return nil
	}
	e := &SchemaMismatchError{
		Expected: append([]string(nil), expected...),
		Got:      append([]string(nil), got...),
	}
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[c] = true
	}
	wantSet := make(map[string]bool, len(expected))
	for _, c := range expected {
		wantSet[c] = true
		if !gotSet[c] {
			e.Missing = append(e.Missing, c)
		}
	}
	for _, c := range got {
		if !wantSet[c] {
			e.Extra = append(e.Extra, c)
		}
	}
	return e
}

// ArtifactNotFoundError reports a missing artifact version.
type ArtifactNotFoundError struct {
	Version string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("%s: version %q", ErrArtifactNotFound, e.Version)
}

func (e *ArtifactNotFoundError) Is(target error) bool { return target == ErrArtifactNotFound }

// ArtifactCorruptError reports an artifact that failed checksum or structure
// validation. A corrupt artifact is unusable, so it also matches
// ErrArtifactNotFound.
type ArtifactCorruptError struct {
	Version string
	Reason  string
}

func (e *ArtifactCorruptError) Error() string {
	return fmt.Sprintf("%s: version %q: %s", ErrArtifactCorrupt, e.Version, e.Reason)
}

func (e *ArtifactCorruptError) Is(target error) bool {
	return target == ErrArtifactCorrupt || target == ErrArtifactNotFound
}
