package hashindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"shelfdb/src/helpers"
	"shelfdb/src/sharding"
)

// bucketChange collects the edits to one bucket file so it is rewritten once.
type bucketChange struct {
	add    map[string][]string
	remove map[string][]string
}

func (bc *bucketChange) addPath(suffix, shard string) {
	if bc.add == nil {
		bc.add = make(map[string][]string)
	}
	bc.add[suffix] = append(bc.add[suffix], shard)
}

func (bc *bucketChange) removePath(suffix, shard string) {
	if bc.remove == nil {
		bc.remove = make(map[string][]string)
	}
	bc.remove[suffix] = append(bc.remove[suffix], shard)
}

// bucketFile returns the absolute path of the bucket holding d.
func (hi *HashIndex) bucketFile(d sharding.Digest) string {
	return filepath.Join(hi.dir, filepath.FromSlash(sharding.BucketPath(d, hi.codec.Ext())))
}

// readBucket loads a bucket file; a missing file is an empty bucket.
func (hi *HashIndex) readBucket(file string) (map[string][]string, error) {
	data, err := afero.ReadFile(hi.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("failed to read bucket %s: %w", file, err)
	}

	bucket, err := hi.codec.DecodeBucket(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket %s: %w", file, err)
	}
	return bucket, nil
}

// writeBucket persists a bucket, deleting the file when it became empty.
func (hi *HashIndex) writeBucket(file string, bucket map[string][]string) error {
	if len(bucket) == 0 {
		if err := hi.fs.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty bucket %s: %w", file, err)
		}
		helpers.RemoveEmptyParents(hi.fs, file, hi.dir)
		return nil
	}

	data, err := hi.codec.EncodeBucket(bucket)
	if err != nil {
		return fmt.Errorf("failed to serialize bucket %s: %w", file, err)
	}
	return helpers.WriteFileAtomic(hi.fs, file, data)
}

// applyChanges rewrites every touched bucket file. Callers hold the lock.
func (hi *HashIndex) applyChanges(changes map[string]*bucketChange) error {
	for file, change := range changes {
		bucket, err := hi.readBucket(file)
		if err != nil {
			return err
		}

		for suffix, shards := range change.remove {
			var kept []string
			for _, existing := range bucket[suffix] {
				if !contains(shards, existing) {
					kept = append(kept, existing)
				}
			}
			if len(kept) == 0 {
				delete(bucket, suffix)
			} else {
				bucket[suffix] = kept
			}
		}

		for suffix, shards := range change.add {
			for _, shard := range shards {
				if !contains(bucket[suffix], shard) {
					bucket[suffix] = append(bucket[suffix], shard)
				}
			}
		}

		if err := hi.writeBucket(file, bucket); err != nil {
			return err
		}
	}
	return nil
}

// changeFor returns the pending change for d's bucket, creating it if needed.
func (hi *HashIndex) changeFor(changes map[string]*bucketChange, d sharding.Digest) *bucketChange {
	file := hi.bucketFile(d)
	change, ok := changes[file]
	if !ok {
		change = &bucketChange{}
		changes[file] = change
	}
	return change
}

// writeMeta persists the index reference next to its buckets.
func (hi *HashIndex) writeMeta() error {
	data, err := metaCodec.Marshal(hi.ref)
	if err != nil {
		return fmt.Errorf("failed to serialize index metadata: %w", err)
	}
	return helpers.WriteFileAtomic(hi.fs, filepath.Join(hi.dir, MetaFile), data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
