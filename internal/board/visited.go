package board

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// visitedFile is the on-disk shape of the visited set: one JSON object per
// crawl identity, rewritten in full on every Add.
type visitedFile struct {
	Visited []int64 `json:"visited"`
}

// VisitedStore is the durable set of already-ingested article numbers. It
// makes re-runs idempotent: an id enters the set only after its record has
// been appended to the output sink.
type VisitedStore struct {
	path   string
	seen   map[int64]struct{}
	logger *zap.Logger
}

// LoadVisitedStore reads the snapshot at path. A missing or corrupt file
// yields an empty set with a logged warning; forward progress is never
// blocked by a bad history file.
func LoadVisitedStore(path string, logger *zap.Logger) (*VisitedStore, error) {
	store := &VisitedStore{
		path:   path,
		seen:   make(map[int64]struct{}),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Unreadable visited file; starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return store, nil
	}

	var file visitedFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warn("Corrupt visited file; starting empty",
			zap.String("path", path), zap.Error(err))
		return store, nil
	}

	for _, id := range file.Visited {
		store.seen[id] = struct{}{}
	}
	return store, nil
}

// Has reports whether id has already been ingested.
func (s *VisitedStore) Has(id int64) bool {
	_, ok := s.seen[id]
	return ok
}

// Add marks id as ingested and persists the whole set before returning.
// The snapshot rewrite is atomic (temp file + rename) so a crash mid-write
// leaves the previous snapshot intact.
func (s *VisitedStore) Add(id int64) error {
	s.seen[id] = struct{}{}

	ids := make([]int64, 0, len(s.seen))
	for v := range s.seen {
		ids = append(ids, v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	payload, err := json.Marshal(visitedFile{Visited: ids})
	if err != nil {
		return fmt.Errorf("marshal visited set: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create visited dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write visited snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace visited snapshot: %w", err)
	}
	return nil
}

// Len returns the number of ids in the set.
func (s *VisitedStore) Len() int {
	return len(s.seen)
}
