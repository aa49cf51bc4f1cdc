package sharding

import (
	"fmt"
	"path"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"

	"shelfdb/src/models"
)

// NullSentinel is hashed in place of a null or absent value so that it never
// collides by construction with the string "null".
const NullSentinel = "NULL"

// DigestLength is the number of hex characters in a digest.
const DigestLength = 16

// canonicalJSON sorts object keys so equal values always serialise the same way.
var canonicalJSON = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Digest is a hex rendering of a 64-bit content hash.
type Digest string

// HashString hashes raw text.
func HashString(s string) Digest {
	return Digest(fmt.Sprintf("%016x", xxhash.Sum64String(s)))
}

// HashID hashes the decimal rendering of a document id.
func HashID(id uint64) Digest {
	return HashString(models.FormatID(id))
}

// HashValue hashes a document value. Null maps to the sentinel; anything else
// is hashed through its canonical serialisation.
func HashValue(v interface{}) (Digest, error) {
	v = models.Normalize(v)
	if v == nil {
		return HashString(NullSentinel), nil
	}
	raw, err := canonicalJSON.Marshal(models.Canonical(v))
	if err != nil {
		return "", fmt.Errorf("failed to serialise value for hashing: %w", err)
	}
	return HashString(string(raw)), nil
}

// IndexKeys returns the digests a value is indexed under. An array is
// reachable through its own digest and through one digest per distinct
// element, matching how conditions compare arrays.
func IndexKeys(v interface{}) ([]Digest, error) {
	v = models.Normalize(v)
	whole, err := HashValue(v)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return []Digest{whole}, nil
	}

	seen := map[Digest]struct{}{whole: {}}
	keys := []Digest{whole}
	for _, e := range arr {
		d, err := HashValue(e)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		keys = append(keys, d)
	}
	return keys, nil
}

// Split breaks a digest into its two directory levels and the remainder.
func (d Digest) Split() (first, second, rest string) {
	s := string(d)
	if len(s) < 5 {
		s = fmt.Sprintf("%05s", s)
	}
	return s[0:2], s[2:4], s[4:]
}

// Dir returns the two-level directory prefix, e.g. "ab/cd".
func (d Digest) Dir() string {
	first, second, _ := d.Split()
	return path.Join(first, second)
}

// Suffix returns the digits left after the directory prefix.
func (d Digest) Suffix() string {
	_, _, rest := d.Split()
	return rest
}

// ShardPath is the slash-separated location of the shard file holding id,
// relative to the collection directory.
func ShardPath(id uint64, ext string) string {
	d := HashID(id)
	return path.Join(d.Dir(), d.Suffix()+ext)
}

// BucketPath is the slash-separated location of the index bucket for d,
// relative to the index directory.
func BucketPath(d Digest, ext string) string {
	return path.Join(d.Dir(), "index"+ext)
}
