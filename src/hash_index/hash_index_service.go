package hashindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
)

var (
	// ErrIndexExists is returned when an index on the same field already exists.
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexMissing is returned when no index exists on the requested field.
	ErrIndexMissing = errors.New("index not found")
	// ErrBuildFailed is returned when an index could not be written. The
	// index directory is removed and the index is not registered.
	ErrBuildFailed = errors.New("index build failed")
)

// NewIndexSet creates the index container for the collection at collectionDir.
func NewIndexSet(fs afero.Fs, c codec.Codec, collectionDir string, logger *zap.SugaredLogger) *IndexSet {
	return &IndexSet{
		dir:     collectionDir,
		fs:      fs,
		codec:   c,
		logger:  helpers.LoggerOrNop(logger),
		indexes: make(map[string]*HashIndex),
	}
}

// Load discovers every index directory with a readable meta file. Broken
// index directories are logged and left out.
func (s *IndexSet) Load() error {
	s.Lock()
	defer s.Unlock()

	root := filepath.Join(s.dir, IndexesDir)
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list indexes in %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hi, err := LoadHashIndex(s.fs, s.codec, filepath.Join(root, entry.Name()), s.logger)
		if err != nil {
			s.logger.Warnw("Ignoring unreadable index", "index", entry.Name(), "error", err)
			continue
		}
		s.indexes[hi.Name()] = hi
	}

	s.logger.Debugw("Loaded indexes", "collection", s.dir, "count", len(s.indexes))
	return nil
}

// Create builds a new index on field from source and registers it.
func (s *IndexSet) Create(field models.FieldPath, source ShardSource) (*HashIndex, error) {
	s.Lock()
	defer s.Unlock()

	if s.findLocked(field) != nil {
		return nil, ErrIndexExists
	}

	hi := NewHashIndex(s.fs, s.codec, s.dir, field, s.logger)
	if _, taken := s.indexes[hi.Name()]; taken {
		return nil, fmt.Errorf("%w: name %s is used by another field", ErrIndexExists, hi.Name())
	}

	// A non-nil error without ErrBuildFailed only lists skipped shards.
	buildErr := hi.Build(source)
	if errors.Is(buildErr, ErrBuildFailed) {
		return nil, buildErr
	}
	s.indexes[hi.Name()] = hi
	return hi, buildErr
}

// Drop removes the index on field from disk and from the set.
func (s *IndexSet) Drop(field models.FieldPath) error {
	s.Lock()
	defer s.Unlock()

	hi := s.findLocked(field)
	if hi == nil {
		return ErrIndexMissing
	}
	if err := hi.Delete(); err != nil {
		return err
	}
	delete(s.indexes, hi.Name())
	return nil
}

// Find returns the index whose field path equals field, or nil.
func (s *IndexSet) Find(field models.FieldPath) *HashIndex {
	s.RLock()
	defer s.RUnlock()
	return s.findLocked(field)
}

func (s *IndexSet) findLocked(field models.FieldPath) *HashIndex {
	for _, hi := range s.indexes {
		if hi.Field().Equal(field) {
			return hi
		}
	}
	return nil
}

// All returns the live indexes ordered by name.
func (s *IndexSet) All() []*HashIndex {
	s.RLock()
	defer s.RUnlock()

	out := make([]*HashIndex, 0, len(s.indexes))
	for _, hi := range s.indexes {
		out = append(out, hi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the names of the live indexes, sorted.
func (s *IndexSet) Names() []string {
	all := s.All()
	names := make([]string, len(all))
	for i, hi := range all {
		names[i] = hi.Name()
	}
	return names
}

// Len returns the number of live indexes.
func (s *IndexSet) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.indexes)
}

// Clear forgets every index without touching the disk. Used when the owning
// collection is removed as a whole.
func (s *IndexSet) Clear() {
	s.Lock()
	defer s.Unlock()
	s.indexes = make(map[string]*HashIndex)
}
