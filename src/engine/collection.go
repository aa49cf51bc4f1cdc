package engine

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	hashindex "shelfdb/src/hash_index"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
)

// HeaderFile is the metadata file at the root of databases and collections.
const HeaderFile = "header.json"

type collectionState int

const (
	stateUninitialized collectionState = iota
	stateLive
)

// CollectionOptions configure how a collection stores and processes files.
type CollectionOptions struct {
	Codec    codec.Codec
	Parallel bool
	Workers  int
	Logger   *zap.SugaredLogger
}

func (o CollectionOptions) withDefaults() CollectionOptions {
	if o.Codec == nil {
		o.Codec = codec.JSON()
	}
	o.Logger = helpers.LoggerOrNop(o.Logger)
	return o
}

// Collection is a named set of documents stored as sharded bucket files
// below its directory, with a header holding the live count and the next id
// and an owned set of hash indexes.
type Collection struct {
	mu       sync.RWMutex
	name     string
	dir      string
	fs       afero.Fs
	codec    codec.Codec
	logger   *zap.SugaredLogger
	executor *Executor
	indexes  *hashindex.IndexSet

	state   collectionState
	loadErr error
	count   uint64
	nextID  uint64
}

// NewCollection returns an uninitialized collection rooted at dir. Call Load
// before using it.
func NewCollection(fs afero.Fs, dir string, opts CollectionOptions) *Collection {
	opts = opts.withDefaults()
	dir = filepath.Clean(dir)
	logger := opts.Logger.With("collection", filepath.Base(dir))
	return &Collection{
		name:     filepath.Base(dir),
		dir:      dir,
		fs:       fs,
		codec:    opts.Codec,
		logger:   logger,
		executor: NewExecutor(opts.Parallel, opts.Workers, logger),
		indexes:  hashindex.NewIndexSet(fs, opts.Codec, dir, logger),
	}
}

// OpenCollection creates and loads a collection in one step.
func OpenCollection(fs afero.Fs, dir string, opts CollectionOptions) (*Collection, error) {
	c := NewCollection(fs, dir, opts)
	if err := c.Load(); err != nil {
		return c, err
	}
	return c, nil
}

// InitCollection creates an empty collection on disk and loads it.
func InitCollection(fs afero.Fs, dir string, opts CollectionOptions) (*Collection, error) {
	c := NewCollection(fs, dir, opts)
	headerPath := filepath.Join(c.dir, HeaderFile)
	if helpers.FileExists(fs, headerPath, c.logger) {
		return nil, newError(KindCollectionAlreadyExists, c.dir, nil)
	}
	if err := fs.MkdirAll(c.dir, 0755); err != nil {
		return nil, newError(KindIoFailure, c.dir, err)
	}

	c.mu.Lock()
	err := c.writeHeaderLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := c.Load(); err != nil {
		return nil, err
	}
	c.logger.Infow("Created collection", "path", c.dir)
	return c, nil
}

// Load reads the header and discovers indexes. On failure the collection
// stays inert and every later call reports the load error.
func (c *Collection) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = stateUninitialized
	c.loadErr = c.loadLocked()
	if c.loadErr != nil {
		c.logger.Errorw("Failed to load collection", "path", c.dir, "error", c.loadErr)
		return c.loadErr
	}
	c.state = stateLive
	c.logger.Debugw("Loaded collection", "documents", c.count, "next_id", c.nextID, "indexes", c.indexes.Len())
	return nil
}

func (c *Collection) loadLocked() error {
	headerPath := filepath.Join(c.dir, HeaderFile)
	data, err := afero.ReadFile(c.fs, headerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(KindPathNotFound, headerPath, err)
		}
		return newError(KindIoFailure, headerPath, err)
	}

	var header models.CollectionHeader
	if err := c.codec.Unmarshal(data, &header); err != nil {
		return newError(KindParseFailure, headerPath, err)
	}
	c.count = header.NumberOfDocuments
	c.nextID = header.NumberOfDocuments
	if header.NextID != nil && *header.NextID > c.nextID {
		c.nextID = *header.NextID
	}

	if err := c.indexes.Load(); err != nil {
		return newError(KindIoFailure, filepath.Join(c.dir, hashindex.IndexesDir), err)
	}
	return nil
}

// requireLive is called with c.mu held.
func (c *Collection) requireLive() error {
	if c.state == stateLive {
		return nil
	}
	if c.loadErr != nil {
		return newError(KindNotLive, c.dir, c.loadErr)
	}
	return newError(KindNotLive, c.dir, nil)
}

// writeHeaderLocked persists the counters. Callers hold c.mu.
func (c *Collection) writeHeaderLocked() error {
	next := c.nextID
	header := models.CollectionHeader{NumberOfDocuments: c.count, NextID: &next}
	data, err := c.codec.Marshal(header)
	if err != nil {
		return newError(KindHeaderUpdateFailure, c.dir, err)
	}
	if err := helpers.WriteFileAtomic(c.fs, filepath.Join(c.dir, HeaderFile), data); err != nil {
		return newError(KindHeaderUpdateFailure, c.dir, err)
	}
	return nil
}

// Name returns the collection name (its directory's base name).
func (c *Collection) Name() string { return c.name }

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.dir }

// Live reports whether the collection loaded successfully.
func (c *Collection) Live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateLive
}

// NumberOfDocuments returns the live document count from the header.
func (c *Collection) NumberOfDocuments() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireLive(); err != nil {
		return 0, err
	}
	return c.count, nil
}

// SetParallel toggles parallel processing for scans, updates and deletes.
func (c *Collection) SetParallel(on bool) {
	c.executor.SetParallel(on)
}

// Parallel reports whether parallel processing is on.
func (c *Collection) Parallel() bool {
	return c.executor.Parallel()
}

// Indexes returns the names of the live indexes.
func (c *Collection) Indexes() []string {
	return c.indexes.Names()
}

// CollectionStats summarises a collection.
type CollectionStats struct {
	Name       string                 `json:"name"`
	Documents  uint64                 `json:"number_of_documents"`
	NextID     uint64                 `json:"next_id"`
	ShardFiles int                    `json:"shard_files"`
	Format     string                 `json:"format"`
	Parallel   bool                   `json:"parallel"`
	Indexes    []hashindex.IndexStats `json:"indexes"`
}

// Stats reports counters, shard usage and index sizes.
func (c *Collection) Stats() (CollectionStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CollectionStats{Name: c.name, Format: c.codec.Name(), Parallel: c.Parallel()}
	if err := c.requireLive(); err != nil {
		return stats, err
	}
	stats.Documents = c.count
	stats.NextID = c.nextID

	shards, err := c.shardFiles()
	if err != nil {
		return stats, err
	}
	stats.ShardFiles = len(shards)

	for _, hi := range c.indexes.All() {
		is, err := hi.Stats()
		if err != nil {
			return stats, newError(KindIoFailure, hi.Name(), err)
		}
		stats.Indexes = append(stats.Indexes, is)
	}
	return stats, nil
}

// Drop removes the collection's whole subtree and leaves it uninitialized.
func (c *Collection) Drop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.RemoveAll(c.dir); err != nil {
		return newError(KindIoFailure, c.dir, errors.Wrap(err, "failed to remove collection"))
	}
	c.indexes.Clear()
	c.state = stateUninitialized
	c.loadErr = newError(KindCollectionNotFound, c.dir, nil)
	c.count, c.nextID = 0, 0
	c.logger.Infow("Deleted collection", "path", c.dir)
	return nil
}
