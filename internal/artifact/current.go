package artifact

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/model"
)

// Current holds the artifact a long-running process scores with. Readers
// get an immutable snapshot; Reload swaps in a new one atomically, so
// in-flight scoring keeps the artifact it started with.
type Current struct {
	store Store
	ptr   atomic.Pointer[model.ModelArtifact]
}

// NewCurrent returns an empty holder backed by store.
func NewCurrent(store Store) *Current {
	return &Current{store: store}
}

// Get returns the active artifact, or nil before the first Reload.
func (c *Current) Get() *model.ModelArtifact {
	return c.ptr.Load()
}

// Set installs a as the active artifact.
func (c *Current) Set(a *model.ModelArtifact) {
	c.ptr.Store(a)
}

// Reload loads version (usually model.LatestVersion) and swaps it in. On
// error the previous artifact stays active.
func (c *Current) Reload(ctx context.Context, version string) (*model.ModelArtifact, error) {
	a, err := c.store.Load(ctx, version)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: reload %s", version)
	}
	prev := c.ptr.Swap(a)

	fields := []zap.Field{zap.String("version", a.Version)}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Version))
	}
	zap.L().Info("artifact: active model swapped", fields...)
	return a, nil
}
