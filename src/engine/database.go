package engine

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	hashindex "shelfdb/src/hash_index"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
)

// DatabaseOptions configure a database and the collections it opens.
type DatabaseOptions struct {
	// Format is used when creating a database; an existing database keeps
	// the format recorded in its header.
	Format   string
	Parallel bool
	Workers  int
	Logger   *zap.SugaredLogger
}

// Database is a directory holding a header that lists collection names and
// one subdirectory per collection. It owns its Collection instances.
type Database struct {
	mu          sync.RWMutex
	dir         string
	fs          afero.Fs
	codec       codec.Codec
	parallel    bool
	workers     int
	logger      *zap.SugaredLogger
	collections map[string]*Collection
	names       []string
}

func newDatabase(fs afero.Fs, dir string, c codec.Codec, opts DatabaseOptions) *Database {
	return &Database{
		dir:         filepath.Clean(dir),
		fs:          fs,
		codec:       c,
		parallel:    opts.Parallel,
		workers:     opts.Workers,
		logger:      helpers.LoggerOrNop(opts.Logger),
		collections: make(map[string]*Collection),
	}
}

// CreateDatabase bootstraps an empty database at dir.
func CreateDatabase(fs afero.Fs, dir string, opts DatabaseOptions) (*Database, error) {
	c, err := codec.ForFormat(opts.Format)
	if err != nil {
		return nil, newError(KindInvalidArgument, "", err)
	}

	db := newDatabase(fs, dir, c, opts)
	headerPath := filepath.Join(db.dir, HeaderFile)
	if helpers.FileExists(fs, headerPath, db.logger) {
		return nil, errorf(KindInvalidArgument, db.dir, "database already exists")
	}
	if err := fs.MkdirAll(db.dir, 0755); err != nil {
		return nil, newError(KindIoFailure, db.dir, err)
	}
	if err := db.writeHeaderLocked(); err != nil {
		return nil, err
	}

	db.logger.Infow("Created database", "path", db.dir, "format", c.Name())
	return db, nil
}

// OpenDatabase reads the header at dir and loads every listed collection.
// A collection that fails to load stays registered but inert.
func OpenDatabase(fs afero.Fs, dir string, opts DatabaseOptions) (*Database, error) {
	db := newDatabase(fs, dir, codec.JSON(), opts)
	headerPath := filepath.Join(db.dir, HeaderFile)

	data, err := afero.ReadFile(fs, headerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindPathNotFound, headerPath, err)
		}
		return nil, newError(KindIoFailure, headerPath, err)
	}

	var header models.DatabaseHeader
	if err := db.codec.Unmarshal(data, &header); err != nil {
		return nil, newError(KindParseFailure, headerPath, err)
	}
	if db.codec, err = codec.ForFormat(header.Format); err != nil {
		return nil, newError(KindParseFailure, headerPath, err)
	}

	for _, name := range header.Collections {
		if _, dup := db.collections[name]; dup {
			continue
		}
		coll, err := OpenCollection(fs, filepath.Join(db.dir, name), db.collectionOptions())
		if err != nil {
			db.logger.Warnw("Collection failed to load", "collection", name, "error", err)
		}
		db.collections[name] = coll
		db.names = append(db.names, name)
	}

	db.logger.Infow("Opened database", "path", db.dir, "collections", len(db.names), "format", db.codec.Name())
	return db, nil
}

// OpenOrCreateDatabase opens the database at dir, creating it if needed.
func OpenOrCreateDatabase(fs afero.Fs, dir string, opts DatabaseOptions) (*Database, error) {
	if helpers.FileExists(fs, filepath.Join(dir, HeaderFile), helpers.LoggerOrNop(opts.Logger)) {
		return OpenDatabase(fs, dir, opts)
	}
	return CreateDatabase(fs, dir, opts)
}

func (db *Database) collectionOptions() CollectionOptions {
	return CollectionOptions{
		Codec:    db.codec,
		Parallel: db.parallel,
		Workers:  db.workers,
		Logger:   db.logger,
	}
}

func (db *Database) writeHeaderLocked() error {
	names := append([]string{}, db.names...)
	data, err := db.codec.Marshal(models.DatabaseHeader{Collections: names, Format: db.codec.Name()})
	if err != nil {
		return newError(KindHeaderUpdateFailure, db.dir, err)
	}
	if err := helpers.WriteFileAtomic(db.fs, filepath.Join(db.dir, HeaderFile), data); err != nil {
		return newError(KindHeaderUpdateFailure, db.dir, err)
	}
	return nil
}

// Dir returns the database directory.
func (db *Database) Dir() string { return db.dir }

// Format returns the storage format name.
func (db *Database) Format() string { return db.codec.Name() }

// Collections returns the collection names in creation order.
func (db *Database) Collections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]string(nil), db.names...)
}

// Collection returns the named collection.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	coll, ok := db.collections[name]
	if !ok {
		return nil, newError(KindCollectionNotFound, name, nil)
	}
	return coll, nil
}

func validCollectionName(name string) bool {
	if name == "" || name == "." || name == ".." || name == hashindex.IndexesDir {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return false
	}
	return name != HeaderFile
}

// CreateCollection creates an empty collection and records it in the header.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if !validCollectionName(name) {
		return nil, errorf(KindInvalidArgument, name, "invalid collection name")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.collections[name]; exists {
		return nil, newError(KindCollectionAlreadyExists, name, nil)
	}

	coll, err := InitCollection(db.fs, filepath.Join(db.dir, name), db.collectionOptions())
	if err != nil {
		return nil, err
	}

	db.collections[name] = coll
	db.names = append(db.names, name)
	if err := db.writeHeaderLocked(); err != nil {
		return coll, err
	}
	return coll, nil
}

// CreateCollectionFromDir creates a collection and imports every document
// file found below srcDir into it. It returns the number of documents
// imported; files that fail to import are reported in a BatchError.
func (db *Database) CreateCollectionFromDir(name, srcDir string) (*Collection, int, error) {
	if !helpers.DirExists(db.fs, srcDir) {
		return nil, 0, newError(KindPathNotFound, srcDir, nil)
	}

	coll, err := db.CreateCollection(name)
	if err != nil {
		return coll, 0, err
	}

	n, err := ImportDir(db.fs, srcDir, coll, db.logger)
	return coll, n, err
}

// DeleteCollection removes the collection's subtree and its header entry.
func (db *Database) DeleteCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		return newError(KindCollectionNotFound, name, nil)
	}
	if err := coll.Drop(); err != nil {
		return err
	}

	delete(db.collections, name)
	for i, n := range db.names {
		if n == name {
			db.names = append(db.names[:i], db.names[i+1:]...)
			break
		}
	}
	return db.writeHeaderLocked()
}

// SetParallel toggles parallel processing for every collection.
func (db *Database) SetParallel(on bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.parallel = on
	for _, coll := range db.collections {
		coll.SetParallel(on)
	}
}

// Stats reports every collection's stats, ordered by name.
func (db *Database) Stats() ([]CollectionStats, error) {
	names := db.Collections()
	sort.Strings(names)

	out := make([]CollectionStats, 0, len(names))
	for _, name := range names {
		coll, err := db.Collection(name)
		if err != nil {
			return out, err
		}
		s, err := coll.Stats()
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
