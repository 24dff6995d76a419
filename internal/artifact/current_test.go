package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/model"
)

func TestCurrent_Reload(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "a"))
	require.NoError(t, err)
	ctx := context.Background()
	cur := NewCurrent(store)

	assert.Nil(t, cur.Get())
	_, err = cur.Reload(ctx, model.LatestVersion)
	assert.True(t, errors.Is(err, model.ErrArtifactNotFound))

	_, err = store.Save(ctx, testArtifact("v1"))
	require.NoError(t, err)
	a, err := cur.Reload(ctx, model.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, "v1", a.Version)
	held := cur.Get()

	_, err = store.Save(ctx, testArtifact("v2"))
	require.NoError(t, err)
	_, err = cur.Reload(ctx, model.LatestVersion)
	require.NoError(t, err)

	assert.Equal(t, "v2", cur.Get().Version)
	assert.Equal(t, "v1", held.Version)

	// A failed reload keeps the active artifact.
	_, err = cur.Reload(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, "v2", cur.Get().Version)
}

func TestCurrent_ConcurrentReaders(t *testing.T) {
	cur := NewCurrent(nil)
	cur.Set(testArtifact("v1"))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i == 0 {
					cur.Set(testArtifact("v2"))
				}
				a := cur.Get()
				assert.Contains(t, []string{"v1", "v2"}, a.Version)
			}
		}()
	}
	wg.Wait()
}
