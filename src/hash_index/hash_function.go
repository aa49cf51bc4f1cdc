package hashindex

import (
	"shelfdb/src/models"
	"shelfdb/src/sharding"
)

// valueOf extracts the indexed value of a document. An absent field indexes
// like null.
func (hi *HashIndex) valueOf(doc models.Document) interface{} {
	v, ok := doc.Lookup(hi.ref.Field)
	if !ok {
		return nil
	}
	return v
}

// keysOfValue returns every digest a stored value is reachable under.
func keysOfValue(v interface{}) (map[sharding.Digest]struct{}, error) {
	digests, err := sharding.IndexKeys(v)
	if err != nil {
		return nil, err
	}
	keys := make(map[sharding.Digest]struct{}, len(digests))
	for _, d := range digests {
		keys[d] = struct{}{}
	}
	return keys, nil
}

// keysOfDocuments returns the union of digests produced by docs.
func (hi *HashIndex) keysOfDocuments(docs []models.Document) (map[sharding.Digest]struct{}, error) {
	keys := make(map[sharding.Digest]struct{})
	for _, doc := range docs {
		dk, err := keysOfValue(hi.valueOf(doc))
		if err != nil {
			return nil, err
		}
		for d := range dk {
			keys[d] = struct{}{}
		}
	}
	return keys, nil
}
