package hashindex

import (
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/models"
)

// Constants for hash index
const (
	IndexType  = "hash"
	IndexesDir = "indexes"
	MetaFile   = "meta.json"
)

// HashIndex maps the hash of a field value to the shard files that hold at
// least one document with that value. Buckets live under
// <collection>/indexes/<name>/<h0..1>/<h2..3>/index<ext> and map the
// remaining hash digits to a list of shard paths relative to the collection.
type HashIndex struct {
	sync.RWMutex
	ref    models.IndexReference
	dir    string
	fs     afero.Fs
	codec  codec.Codec
	logger *zap.SugaredLogger
}

// ShardSource gives an index read access to the owning collection's shards.
type ShardSource interface {
	ShardFiles() ([]string, error)
	ReadShard(shard string) ([]models.Document, error)
}

// IndexSet owns the live indexes of one collection, keyed by index name.
type IndexSet struct {
	sync.RWMutex
	dir     string
	fs      afero.Fs
	codec   codec.Codec
	logger  *zap.SugaredLogger
	indexes map[string]*HashIndex
}

// IndexStats summarises an index for reporting.
type IndexStats struct {
	Name        string    `json:"name"`
	Field       string    `json:"field"`
	BucketFiles int       `json:"bucket_files"`
	Keys        int       `json:"keys"`
	Created     time.Time `json:"created"`
}
