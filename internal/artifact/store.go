// Package artifact persists trained segmentation models.
//
// Artifacts are write-once: a version id is never overwritten. Every backend
// stores the same JSON envelope, {"checksum": ..., "artifact": {...}}, where
// checksum is the hex SHA-256 of the artifact bytes. Loads verify the
// checksum and the artifact's structural invariants, so a partially written
// or tampered document surfaces as model.ErrArtifactCorrupt instead of a
// half-populated model.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// ErrVersionExists is returned when saving a version id that is already stored.
var ErrVersionExists = errors.New("artifact version already exists")

// Store persists and retrieves model artifacts. Load accepts
// model.LatestVersion to resolve the most recently saved artifact.
type Store interface {
	Save(ctx context.Context, a *model.ModelArtifact) (model.ArtifactInfo, error)
	Load(ctx context.Context, version string) (*model.ModelArtifact, error)
	List(ctx context.Context) ([]model.ArtifactInfo, error)
	Close() error
}

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidVersion reports whether v is usable as a stored version id.
func ValidVersion(v string) bool {
	return v != model.LatestVersion && versionPattern.MatchString(v)
}

// NewVersionID returns a version id that sorts lexicographically by creation
// time. The uuid suffix keeps ids unique within the same nanosecond.
func NewVersionID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
}

type envelope struct {
	Checksum string          `json:"checksum"`
	Artifact json.RawMessage `json:"artifact"`
}

// Encode validates a and returns its envelope document and checksum.
func Encode(a *model.ModelArtifact) ([]byte, string, error) {
	if a == nil {
		return nil, "", eris.New("artifact: nil artifact")
	}
	if !ValidVersion(a.Version) {
		return nil, "", eris.Wrapf(&model.InvalidParameterError{Name: "version", Value: a.Version, Reason: "not a valid version id"}, "artifact: encode")
	}
	if err := a.Validate(); err != nil {
		return nil, "", eris.Wrapf(err, "artifact: encode %s", a.Version)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return nil, "", eris.Wrapf(err, "artifact: marshal %s", a.Version)
	}
	sum := checksum(body)

	doc, err := json.Marshal(envelope{Checksum: sum, Artifact: body})
	if err != nil {
		return nil, "", eris.Wrapf(err, "artifact: marshal envelope %s", a.Version)
	}
	return doc, sum, nil
}

// Decode parses and verifies an envelope document. version names the
// requested artifact for error reporting.
func Decode(version string, doc []byte) (*model.ModelArtifact, string, error) {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: "unreadable envelope: " + err.Error()}
	}
	if env.Checksum == "" || len(env.Artifact) == 0 {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: "envelope is missing checksum or artifact"}
	}
	if got := checksum(env.Artifact); got != env.Checksum {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: "checksum mismatch"}
	}

	var a model.ModelArtifact
	if err := json.Unmarshal(env.Artifact, &a); err != nil {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: "unreadable artifact: " + err.Error()}
	}
	if err := a.Validate(); err != nil {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: err.Error()}
	}
	if version != model.LatestVersion && a.Version != version {
		return nil, "", &model.ArtifactCorruptError{Version: version, Reason: "document holds version " + a.Version}
	}
	return &a, env.Checksum, nil
}

// Info summarizes a for listings.
func Info(a *model.ModelArtifact, sum string) model.ArtifactInfo {
	return model.ArtifactInfo{
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		K:         a.K(),
		Columns:   append([]string(nil), a.FeatureColumnOrder...),
		Checksum:  sum,
	}
}

func checksum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func checkLoadVersion(version string) error {
	if version == model.LatestVersion || ValidVersion(version) {
		return nil
	}
	return &model.ArtifactNotFoundError{Version: version}
}
