package hashindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
	"shelfdb/src/sharding"
)

// Index metadata is always JSON so it stays readable whatever the data format.
var metaCodec = codec.JSON()

// NewHashIndex prepares an index on field below collectionDir. Nothing is
// written until Build is called.
func NewHashIndex(fs afero.Fs, c codec.Codec, collectionDir string, field models.FieldPath, logger *zap.SugaredLogger) *HashIndex {
	name := helpers.IndexName(field)
	return &HashIndex{
		ref: models.IndexReference{
			IndexName:  name,
			Field:      append(models.FieldPath(nil), field...),
			IndexType:  IndexType,
			CreateTime: time.Now().UTC(),
		},
		dir:    filepath.Join(collectionDir, IndexesDir, name),
		fs:     fs,
		codec:  c,
		logger: helpers.LoggerOrNop(logger),
	}
}

// LoadHashIndex opens an existing index directory by reading its meta file.
func LoadHashIndex(fs afero.Fs, c codec.Codec, indexDir string, logger *zap.SugaredLogger) (*HashIndex, error) {
	data, err := afero.ReadFile(fs, filepath.Join(indexDir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata in %s: %w", indexDir, err)
	}

	var ref models.IndexReference
	if err := metaCodec.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata in %s: %w", indexDir, err)
	}
	if len(ref.Field) == 0 {
		return nil, fmt.Errorf("index metadata in %s has no field", indexDir)
	}
	if ref.IndexName == "" {
		ref.IndexName = filepath.Base(indexDir)
	}

	return &HashIndex{
		ref:    ref,
		dir:    indexDir,
		fs:     fs,
		codec:  c,
		logger: helpers.LoggerOrNop(logger),
	}, nil
}

// Name returns the index's on-disk name.
func (hi *HashIndex) Name() string { return hi.ref.IndexName }

// Field returns the indexed field path.
func (hi *HashIndex) Field() models.FieldPath { return hi.ref.Field }

// Reference returns a copy of the index metadata.
func (hi *HashIndex) Reference() models.IndexReference { return hi.ref }

// Build clears the index directory and rebuilds it from every shard of
// source. Shards that cannot be read are skipped and reported in the
// returned error. Any other failure removes the index directory and returns
// an error wrapping ErrBuildFailed.
func (hi *HashIndex) Build(source ShardSource) error {
	hi.Lock()
	defer hi.Unlock()

	errs, err := hi.buildLocked(source)
	if err != nil {
		if rmErr := hi.fs.RemoveAll(hi.dir); rmErr != nil {
			hi.logger.Errorw("Failed to remove partially built index", "index", hi.ref.IndexName, "error", rmErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrBuildFailed, hi.ref.IndexName, err)
	}
	return errs
}

// buildLocked returns the skipped shards separately from a failure that
// leaves the index unusable.
func (hi *HashIndex) buildLocked(source ShardSource) (error, error) {
	if err := hi.fs.RemoveAll(hi.dir); err != nil {
		return nil, fmt.Errorf("failed to clear index directory %s: %w", hi.dir, err)
	}
	if err := hi.fs.MkdirAll(hi.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory %s: %w", hi.dir, err)
	}
	if err := hi.writeMeta(); err != nil {
		return nil, err
	}

	shards, err := source.ShardFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	// Each shard path is added at most once per key per build.
	buckets := make(map[string]map[string][]string)
	var skipped error
	for _, shard := range shards {
		docs, err := source.ReadShard(shard)
		if err != nil {
			hi.logger.Warnw("Skipping unreadable shard while building index", "index", hi.ref.IndexName, "shard", shard, "error", err)
			skipped = multierr.Append(skipped, err)
			continue
		}

		keys, err := hi.keysOfDocuments(docs)
		if err != nil {
			skipped = multierr.Append(skipped, err)
			continue
		}
		for d := range keys {
			file := hi.bucketFile(d)
			bucket, ok := buckets[file]
			if !ok {
				bucket = make(map[string][]string)
				buckets[file] = bucket
			}
			bucket[d.Suffix()] = append(bucket[d.Suffix()], shard)
		}
	}

	files := make([]string, 0, len(buckets))
	for file := range buckets {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		if err := hi.writeBucket(file, buckets[file]); err != nil {
			return nil, err
		}
	}

	hi.logger.Infow("Built hash index", "index", hi.ref.IndexName, "field", hi.ref.Field.String(), "shards", len(shards), "buckets", len(buckets))
	return skipped, nil
}

// Consult returns the shard files that may contain documents whose indexed
// field equals value. Callers must re-check every document in them.
func (hi *HashIndex) Consult(value interface{}) ([]string, error) {
	d, err := sharding.HashValue(value)
	if err != nil {
		return nil, err
	}

	hi.RLock()
	defer hi.RUnlock()

	bucket, err := hi.readBucket(hi.bucketFile(d))
	if err != nil {
		return nil, err
	}

	shards := bucket[d.Suffix()]
	out := make([]string, 0, len(shards))
	for _, s := range shards {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// AddEntry records that shard holds a document whose indexed field is value.
func (hi *HashIndex) AddEntry(value interface{}, shard string) error {
	keys, err := keysOfValue(value)
	if err != nil {
		return err
	}

	hi.Lock()
	defer hi.Unlock()

	changes := make(map[string]*bucketChange)
	for d := range keys {
		hi.changeFor(changes, d).addPath(d.Suffix(), shard)
	}
	return hi.applyChanges(changes)
}

// AddDocument indexes doc as stored in shard.
func (hi *HashIndex) AddDocument(doc models.Document, shard string) error {
	return hi.AddEntry(hi.valueOf(doc), shard)
}

// RemoveEntry drops shard from value's entries unless one of remaining, the
// documents still stored in shard, keeps producing the same key.
func (hi *HashIndex) RemoveEntry(value interface{}, shard string, remaining []models.Document) error {
	keys, err := keysOfValue(value)
	if err != nil {
		return err
	}
	still, err := hi.keysOfDocuments(remaining)
	if err != nil {
		return err
	}

	hi.Lock()
	defer hi.Unlock()

	changes := make(map[string]*bucketChange)
	for d := range keys {
		if _, kept := still[d]; kept {
			continue
		}
		hi.changeFor(changes, d).removePath(d.Suffix(), shard)
	}
	return hi.applyChanges(changes)
}

// MoveEntry re-points shard from oldValue to newValue after an update.
// remaining is the content of shard after the update; shard stays listed
// under oldValue while another document there still holds it.
func (hi *HashIndex) MoveEntry(oldValue, newValue interface{}, shard string, remaining []models.Document) error {
	oldKeys, err := keysOfValue(oldValue)
	if err != nil {
		return err
	}
	newKeys, err := keysOfValue(newValue)
	if err != nil {
		return err
	}
	still, err := hi.keysOfDocuments(remaining)
	if err != nil {
		return err
	}

	hi.Lock()
	defer hi.Unlock()

	changes := make(map[string]*bucketChange)
	for d := range oldKeys {
		if _, kept := newKeys[d]; kept {
			continue
		}
		if _, kept := still[d]; kept {
			continue
		}
		hi.changeFor(changes, d).removePath(d.Suffix(), shard)
	}
	for d := range newKeys {
		hi.changeFor(changes, d).addPath(d.Suffix(), shard)
	}
	return hi.applyChanges(changes)
}

// SyncShard reconciles the entries of one shard after its content changed
// from before to after.
func (hi *HashIndex) SyncShard(shard string, before, after []models.Document) error {
	oldKeys, err := hi.keysOfDocuments(before)
	if err != nil {
		return err
	}
	newKeys, err := hi.keysOfDocuments(after)
	if err != nil {
		return err
	}

	hi.Lock()
	defer hi.Unlock()

	changes := make(map[string]*bucketChange)
	for d := range oldKeys {
		if _, kept := newKeys[d]; !kept {
			hi.changeFor(changes, d).removePath(d.Suffix(), shard)
		}
	}
	for d := range newKeys {
		if _, had := oldKeys[d]; !had {
			hi.changeFor(changes, d).addPath(d.Suffix(), shard)
		}
	}
	return hi.applyChanges(changes)
}

// Delete removes the index's on-disk structure.
func (hi *HashIndex) Delete() error {
	hi.Lock()
	defer hi.Unlock()

	if _, err := hi.fs.Stat(hi.dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := hi.fs.RemoveAll(hi.dir); err != nil {
		return fmt.Errorf("failed to remove index directory %s: %w", hi.dir, err)
	}

	hi.logger.Infow("Deleted hash index", "index", hi.ref.IndexName)
	return nil
}

// Stats walks the bucket files and counts their keys.
func (hi *HashIndex) Stats() (IndexStats, error) {
	hi.RLock()
	defer hi.RUnlock()

	stats := IndexStats{
		Name:    hi.ref.IndexName,
		Field:   hi.ref.Field.String(),
		Created: hi.ref.CreateTime,
	}

	files, err := helpers.ListFiles(hi.fs, hi.dir, hi.codec.Ext())
	if err != nil {
		return stats, err
	}
	for _, rel := range files {
		bucket, err := hi.readBucket(filepath.Join(hi.dir, filepath.FromSlash(rel)))
		if err != nil {
			return stats, err
		}
		stats.BucketFiles++
		stats.Keys += len(bucket)
	}
	return stats, nil
}
