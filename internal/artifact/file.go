package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/model"
)

const (
	docSuffix   = ".json"
	latestFile  = "LATEST"
	lockFile    = "LATEST.lock"
	tempPattern = ".tmp.*"

	lockPoll  = 20 * time.Millisecond
	lockStale = 30 * time.Second
)

// FileStore keeps one envelope document per version in a directory plus a
// LATEST pointer file. Documents are published with a hard link from a fully
// synced temp file, so readers only ever see complete documents and an
// existing version can never be replaced. Writers in any number of processes
// may share a directory: saves hold the LATEST.lock file while publishing
// and moving the pointer, so LATEST only moves forward.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes saves within the process
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("artifact: file store directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: create %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(version string) string {
	return filepath.Join(s.dir, version+docSuffix)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, a *model.ModelArtifact) (model.ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.ArtifactInfo{}, eris.Wrap(err, "artifact: save")
	}
	doc, sum, err := Encode(a)
	if err != nil {
		return model.ArtifactInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx)
	if err != nil {
		return model.ArtifactInfo{}, err
	}
	defer unlock()

	if err := publishOnce(s.path(a.Version), doc); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return model.ArtifactInfo{}, eris.Wrapf(ErrVersionExists, "artifact: save %s", a.Version)
		}
		return model.ArtifactInfo{}, eris.Wrapf(err, "artifact: write %s", a.Version)
	}

	current, err := s.readLatest()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.ArtifactInfo{}, err
	}
	if a.Version > current {
		if err := writeFileAtomic(filepath.Join(s.dir, latestFile), []byte(a.Version+"\n")); err != nil {
			return model.ArtifactInfo{}, eris.Wrap(err, "artifact: update LATEST")
		}
	}

	zap.L().Info("artifact: saved",
		zap.String("version", a.Version),
		zap.String("path", s.path(a.Version)),
		zap.String("checksum", sum),
	)
	return Info(a, sum), nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, version string) (*model.ModelArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "artifact: load")
	}
	if err := checkLoadVersion(version); err != nil {
		return nil, err
	}

	resolved := version
	if version == model.LatestVersion {
		v, err := s.readLatest()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &model.ArtifactNotFoundError{Version: version}
		}
		if err != nil {
			return nil, err
		}
		if !ValidVersion(v) {
			return nil, &model.ArtifactCorruptError{Version: version, Reason: "LATEST names an invalid version"}
		}
		resolved = v
	}

	doc, err := os.ReadFile(s.path(resolved))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &model.ArtifactNotFoundError{Version: resolved}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", resolved)
	}

	a, _, err := Decode(resolved, doc)
	return a, err
}

// List implements Store. Newest versions come first; unreadable documents
// are skipped with a warning.
func (s *FileStore) List(ctx context.Context) ([]model.ArtifactInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: list %s", s.dir)
	}

	var out []model.ArtifactInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "artifact: list")
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		version := strings.TrimSuffix(name, docSuffix)
		if !ValidVersion(version) {
			continue
		}
		doc, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: read %s", version)
		}
		a, sum, err := Decode(version, doc)
		if err != nil {
			zap.L().Warn("artifact: skipping unreadable document", zap.String("version", version), zap.Error(err))
			continue
		}
		out = append(out, Info(a, sum))
	}

	slices.SortFunc(out, func(a, b model.ArtifactInfo) int { return strings.Compare(b.Version, a.Version) })
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// lock takes the directory's writer lock, waiting while another writer holds
// it. A lock file older than lockStale is left over from a crashed writer and
// is broken.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	path := filepath.Join(s.dir, lockFile)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, eris.Wrap(err, "artifact: create lock")
		}
		if fi, err := os.Stat(path); err == nil && time.Since(fi.ModTime()) > lockStale {
			zap.L().Warn("artifact: breaking stale lock", zap.String("path", path), zap.Time("modified", fi.ModTime()))
			_ = os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "artifact: wait for lock")
		case <-time.After(lockPoll):
		}
	}
}

func (s *FileStore) readLatest() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		return "", eris.Wrap(err, "artifact: read LATEST")
	}
	return strings.TrimSpace(string(b)), nil
}

// publishOnce writes data to a synced temp file and hard-links it into place.
// The link fails with fs.ErrExist if path is already present.
func publishOnce(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName) //nolint:errcheck

	if err := os.Link(tmpName, path); err != nil {
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

// writeFileAtomic replaces path with data via rename.
func writeFileAtomic(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+tempPattern)
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()      //nolint:errcheck
			os.Remove(name) //nolint:errcheck
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	ok = true
	return name, nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck
	return d.Sync()
}
