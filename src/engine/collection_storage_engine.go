package engine

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	hashindex "shelfdb/src/hash_index"
	"shelfdb/src/helpers"
	"shelfdb/src/models"
	"shelfdb/src/sharding"
)

// shardFile returns the absolute path of a shard given relative to the
// collection directory.
func (c *Collection) shardFile(shard string) string {
	return filepath.Join(c.dir, filepath.FromSlash(shard))
}

// shardFiles lists every shard of the collection, relative and slash-separated.
func (c *Collection) shardFiles() ([]string, error) {
	shards, err := helpers.ListFiles(c.fs, c.dir, c.codec.Ext(), hashindex.IndexesDir)
	if err != nil {
		return nil, newError(KindIoFailure, c.dir, err)
	}
	return shards, nil
}

// readShard loads a shard's documents. A missing shard reads as empty.
func (c *Collection) readShard(shard string) ([]models.Document, error) {
	file := c.shardFile(shard)
	data, err := afero.ReadFile(c.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newError(KindIoFailure, file, err)
	}

	docs, err := c.codec.DecodeDocuments(data)
	if err != nil {
		return nil, newError(KindParseFailure, file, err)
	}
	return docs, nil
}

// writeShard replaces a shard's content, removing the file when docs is empty.
func (c *Collection) writeShard(shard string, docs []models.Document) error {
	file := c.shardFile(shard)
	if len(docs) == 0 {
		if err := c.fs.Remove(file); err != nil && !os.IsNotExist(err) {
			return newError(KindIoFailure, file, err)
		}
		helpers.RemoveEmptyParents(c.fs, file, c.dir)
		return nil
	}

	data, err := c.codec.EncodeDocuments(docs)
	if err != nil {
		return newError(KindParseFailure, file, err)
	}
	if err := helpers.WriteFileAtomic(c.fs, file, data); err != nil {
		return newError(KindIoFailure, file, err)
	}
	return nil
}

// shardSource exposes the collection's shards to index builds without
// taking the collection lock again.
type shardSource struct{ c *Collection }

func (s shardSource) ShardFiles() ([]string, error)                     { return s.c.shardFiles() }
func (s shardSource) ReadShard(shard string) ([]models.Document, error) { return s.c.readShard(shard) }

func findByID(docs []models.Document, id uint64) int {
	for i, d := range docs {
		if did, ok := d.ID(); ok && did == id {
			return i
		}
	}
	return -1
}

// Create stores doc under the next id and returns that id. Indexes are
// updated as soon as the document is on disk. If the header cannot be
// rewritten afterwards a HeaderUpdateFailure is returned with the id.
func (c *Collection) Create(doc map[string]interface{}) (uint64, error) {
	if doc == nil {
		return 0, errorf(KindInvalidArgument, "", "document must be an object")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return 0, err
	}

	stored := models.NormalizeDocument(doc)
	id := c.nextID
	stored[models.IDField] = int64(id)

	shard := sharding.ShardPath(id, c.codec.Ext())
	docs, err := c.readShard(shard)
	if err != nil {
		return 0, err
	}
	docs = append(docs, stored)
	if err := c.writeShard(shard, docs); err != nil {
		return 0, err
	}

	var indexErrs error
	for _, hi := range c.indexes.All() {
		if err := hi.AddDocument(stored, shard); err != nil {
			c.logger.Warnw("Failed to index new document", "index", hi.Name(), "id", id, "error", err)
			indexErrs = multierr.Append(indexErrs, err)
		}
	}

	c.nextID++
	c.count++
	if err := c.writeHeaderLocked(); err != nil {
		c.logger.Errorw("Document written but header update failed", "id", id, "error", err)
		return id, multierr.Append(err, indexErrs)
	}

	c.logger.Debugw("Created document", "id", id, "shard", shard)
	return id, batchError("index maintenance", indexErrs)
}

// Get returns the document with id.
func (c *Collection) Get(id uint64) (models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireLive(); err != nil {
		return nil, err
	}

	shard := sharding.ShardPath(id, c.codec.Ext())
	docs, err := c.readShard(shard)
	if err != nil {
		return nil, err
	}
	i := findByID(docs, id)
	if i < 0 {
		return nil, errorf(KindDocumentNotFound, shard, "no document with id %d", id)
	}
	return docs[i], nil
}

// checkPartial validates an update payload against the current document.
// The id key is dropped; every other key must already hold a non-null value.
func checkPartial(doc models.Document, partial models.Document) (models.Document, error) {
	fields := make(models.Document, len(partial))
	for k, v := range partial {
		if k == models.IDField {
			continue
		}
		if !doc.Has(k) {
			return nil, errorf(KindFieldNotFound, "", "field %q does not exist on document", k)
		}
		fields[k] = v
	}
	return fields, nil
}

func validatePartial(partial map[string]interface{}) (models.Document, error) {
	if len(partial) == 0 {
		return nil, errorf(KindInvalidArgument, "", "update payload must be a non-empty object")
	}
	return models.NormalizeDocument(partial), nil
}

func changedKeys(fields models.Document) map[string]struct{} {
	keys := make(map[string]struct{}, len(fields))
	for k := range fields {
		keys[k] = struct{}{}
	}
	return keys
}

// Update overwrites existing fields of the document with id and returns the
// updated document. It fails without writing if any key of partial is absent
// or null on the document. id is never changed.
func (c *Collection) Update(id uint64, partial map[string]interface{}) (models.Document, error) {
	payload, err := validatePartial(partial)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return nil, err
	}

	shard := sharding.ShardPath(id, c.codec.Ext())
	docs, err := c.readShard(shard)
	if err != nil {
		return nil, err
	}
	i := findByID(docs, id)
	if i < 0 {
		return nil, errorf(KindDocumentNotFound, shard, "no document with id %d", id)
	}

	fields, err := checkPartial(docs[i], payload)
	if err != nil {
		return nil, err
	}

	before := docs[i].Clone()
	for k, v := range fields {
		docs[i][k] = v
	}
	if err := c.writeShard(shard, docs); err != nil {
		return nil, err
	}

	var indexErrs error
	for _, hi := range c.indexesTouching(changedKeys(fields)) {
		oldValue, _ := before.Lookup(hi.Field())
		newValue, _ := docs[i].Lookup(hi.Field())
		if err := hi.MoveEntry(oldValue, newValue, shard, docs); err != nil {
			c.logger.Warnw("Failed to move index entry", "index", hi.Name(), "id", id, "error", err)
			indexErrs = multierr.Append(indexErrs, err)
		}
	}

	c.logger.Debugw("Updated document", "id", id, "fields", len(fields))
	return docs[i], batchError("index maintenance", indexErrs)
}

type updateOutcome struct {
	doc models.Document
	err error
}

// UpdateByConditions applies partial to every document matching conds and
// returns the updated documents. Documents the payload cannot apply to are
// logged and skipped; file failures skip that file. Both are reported in a
// BatchError next to the result.
func (c *Collection) UpdateByConditions(conds []models.Condition, partial map[string]interface{}) ([]models.Document, error) {
	payload, err := validatePartial(partial)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return nil, err
	}

	plan, err := c.planLocked(conds)
	if err != nil {
		return nil, err
	}
	touched := c.indexesTouching(changedKeys(payload))

	outcomes, fileErrs := MapFiles(c.executor, plan.Candidates, func(shard string) ([]updateOutcome, error) {
		return c.updateShard(shard, conds, payload, touched)
	})

	var updated []models.Document
	errs := fileErrs
	for _, o := range outcomes {
		if o.err != nil {
			errs = multierr.Append(errs, o.err)
			continue
		}
		updated = append(updated, o.doc)
	}

	c.logger.Debugw("Updated documents by conditions", "plan", plan.String(), "updated", len(updated))
	return updated, batchError("update", errs)
}

// updateShard applies an update to the matching documents of one shard and
// writes the file once.
func (c *Collection) updateShard(shard string, conds []models.Condition, payload models.Document, touched []*hashindex.HashIndex) ([]updateOutcome, error) {
	docs, err := c.readShard(shard)
	if err != nil {
		return nil, err
	}
	before := make([]models.Document, len(docs))
	for i, d := range docs {
		before[i] = d.Clone()
	}

	var outcomes []updateOutcome
	changed := false
	for _, doc := range docs {
		if !MatchesAll(doc, conds) {
			continue
		}
		fields, err := checkPartial(doc, payload)
		if err != nil {
			id, _ := doc.ID()
			c.logger.Warnw("Skipping document in batch update", "id", id, "error", err)
			outcomes = append(outcomes, updateOutcome{err: errors.Wrapf(err, "document %d", id)})
			continue
		}
		for k, v := range fields {
			doc[k] = v
		}
		changed = true
		outcomes = append(outcomes, updateOutcome{doc: doc})
	}
	if !changed {
		return outcomes, nil
	}

	if err := c.writeShard(shard, docs); err != nil {
		return nil, err
	}
	for _, hi := range touched {
		if err := hi.SyncShard(shard, before, docs); err != nil {
			c.logger.Warnw("Failed to sync index after update", "index", hi.Name(), "shard", shard, "error", err)
			outcomes = append(outcomes, updateOutcome{err: err})
		}
	}
	return outcomes, nil
}

// DeleteByConditions removes every document matching conds and returns how
// many were removed. An empty conjunction removes everything. The header is
// rewritten once, after all workers finished.
func (c *Collection) DeleteByConditions(conds []models.Condition) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return 0, err
	}

	plan, err := c.planLocked(conds)
	if err != nil {
		return 0, err
	}
	indexes := c.indexes.All()

	removed, errs := SumFiles(c.executor, plan.Candidates, func(shard string) (int, error) {
		return c.deleteFromShard(shard, conds, indexes)
	})

	if removed > 0 {
		if uint64(removed) > c.count {
			c.logger.Warnw("Removed more documents than the header counted", "removed", removed, "count", c.count)
			c.count = 0
		} else {
			c.count -= uint64(removed)
		}
		if err := c.writeHeaderLocked(); err != nil {
			c.logger.Errorw("Documents removed but header update failed", "removed", removed, "error", err)
			return removed, multierr.Append(err, errs)
		}
	}

	c.logger.Debugw("Deleted documents by conditions", "plan", plan.String(), "removed", removed)
	return removed, batchError("delete", errs)
}

func (c *Collection) deleteFromShard(shard string, conds []models.Condition, indexes []*hashindex.HashIndex) (int, error) {
	docs, err := c.readShard(shard)
	if err != nil {
		return 0, err
	}

	kept := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if !MatchesAll(doc, conds) {
			kept = append(kept, doc)
		}
	}
	removed := len(docs) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := c.writeShard(shard, kept); err != nil {
		return 0, err
	}
	var indexErrs error
	for _, hi := range indexes {
		if err := hi.SyncShard(shard, docs, kept); err != nil {
			c.logger.Warnw("Failed to sync index after delete", "index", hi.Name(), "shard", shard, "error", err)
			indexErrs = multierr.Append(indexErrs, errors.Wrapf(err, "index %s", hi.Name()))
		}
	}
	return removed, indexErrs
}

// ReadAll returns every document of the collection, in no particular order.
func (c *Collection) ReadAll() ([]models.Document, error) {
	return c.ReadByConditions(nil)
}

// ReadByConditions returns the documents matching every condition, in no
// particular order.
func (c *Collection) ReadByConditions(conds []models.Condition) ([]models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.requireLive(); err != nil {
		return nil, err
	}

	plan, err := c.planLocked(conds)
	if err != nil {
		return nil, err
	}

	docs, errs := MapFiles(c.executor, plan.Candidates, func(shard string) ([]models.Document, error) {
		all, err := c.readShard(shard)
		if err != nil {
			return nil, err
		}
		var matched []models.Document
		for _, d := range all {
			if MatchesAll(d, conds) {
				matched = append(matched, d)
			}
		}
		return matched, nil
	})

	c.logger.Debugw("Read documents", "plan", plan.String(), "matched", len(docs))
	return docs, batchError("read", errs)
}

// CreateHashIndex builds an index on field from every current shard. It fails
// without effect if an index on field already exists.
func (c *Collection) CreateHashIndex(field models.FieldPath) error {
	if len(field) == 0 {
		return errorf(KindInvalidArgument, "", "index field path is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return err
	}

	_, err := c.indexes.Create(field, shardSource{c})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hashindex.ErrIndexExists):
		return newError(KindIndexAlreadyExists, field.String(), err)
	case errors.Is(err, hashindex.ErrBuildFailed):
		return newError(KindIoFailure, field.String(), err)
	case c.indexes.Find(field) != nil:
		// Built, but some shards could not be read.
		return batchError("index build", err)
	}
	return newError(KindIoFailure, field.String(), err)
}

// DeleteHashIndex removes the index on field.
func (c *Collection) DeleteHashIndex(field models.FieldPath) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLive(); err != nil {
		return err
	}

	err := c.indexes.Drop(field)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hashindex.ErrIndexMissing):
		return newError(KindIndexNotFound, field.String(), err)
	}
	return newError(KindIoFailure, field.String(), err)
}
