package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalObjectStore keeps every PutBaseline as a distinct timestamped file
// under dataDir/objects/<key>/, written atomically via rename, so ListBaselineVersions
// has real history to walk without a database.
type LocalObjectStore struct {
	mu      sync.Mutex
	dataDir string
	clock   func() time.Time
}

// NewLocalObjectStore returns a LocalObjectStore rooted at dataDir.
func NewLocalObjectStore(dataDir string) *LocalObjectStore {
	return &LocalObjectStore{dataDir: dataDir, clock: time.Now}
}

func (s *LocalObjectStore) keyDir(key string) string {
	return filepath.Join(s.dataDir, "objects", key)
}

func (s *LocalObjectStore) GetBaseline(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.listVersionsLocked(key)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return os.ReadFile(filepath.Join(s.keyDir(key), versions[0].VersionID+".json"))
}

func (s *LocalObjectStore) PutBaseline(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.keyDir(key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("objectstore: mkdir: %w", err)
	}

	versionID := fmt.Sprintf("%020d-%s", s.clock().UnixNano(), uuid.NewString())
	final := filepath.Join(dir, versionID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("objectstore: write: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("objectstore: rename: %w", err)
	}
	return nil
}

func (s *LocalObjectStore) ListBaselineVersions(_ context.Context, key string) ([]ObjectVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listVersionsLocked(key)
}

func (s *LocalObjectStore) listVersionsLocked(key string) ([]ObjectVersion, error) {
	dir := s.keyDir(key)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: readdir: %w", err)
	}

	versions := make([]ObjectVersion, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		versions = append(versions, ObjectVersion{
			VersionID:    name[:len(name)-len(suffix)],
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionID > versions[j].VersionID
	})
	return versions, nil
}
