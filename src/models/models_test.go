package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseFieldPath(t *testing.T) {
	assert.Equal(t, FieldPath{"imdb", "rating"}, ParseFieldPath("imdb.rating"))
	assert.Equal(t, FieldPath{"year"}, ParseFieldPath(" year "))
	assert.Nil(t, ParseFieldPath(""))
	assert.Equal(t, "imdb.rating", FieldPath{"imdb", "rating"}.String())

	assert.True(t, FieldPath{"id"}.IsID())
	assert.False(t, FieldPath{"meta", "id"}.IsID())
	assert.True(t, FieldPath{"a", "b"}.Equal(FieldPath{"a", "b"}))
	assert.False(t, FieldPath{"a", "b"}.Equal(FieldPath{"a"}))
}

func TestOperatorValid(t *testing.T) {
	for _, op := range []Operator{OpEqual, OpNotEqual, OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Operator("=~").Valid())
	assert.False(t, Where("", OpEqual, 1).Valid())
	assert.True(t, Where("year", OpEqual, 1).Valid())
}

func TestLookup(t *testing.T) {
	doc := Document{
		"title": "Tenet",
		"imdb":  map[string]interface{}{"rating": 7.3, "meta": map[string]interface{}{"votes": int64(10)}},
		"null":  nil,
	}

	v, ok := doc.Lookup(FieldPath{"imdb", "rating"})
	require.True(t, ok)
	assert.Equal(t, 7.3, v)

	v, ok = doc.Lookup(FieldPath{"imdb", "meta", "votes"})
	require.True(t, ok)
	assert.Equal(t, int64(10), v)

	v, ok = doc.Lookup(FieldPath{"null"})
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = doc.Lookup(FieldPath{"imdb", "missing"})
	assert.False(t, ok)
	_, ok = doc.Lookup(FieldPath{"title", "deeper"})
	assert.False(t, ok)
	_, ok = doc.Lookup(nil)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	in := map[string]interface{}{
		"int":    7,
		"number": json.Number("12"),
		"float":  json.Number("1.5"),
		"bsonD":  bson.D{{Key: "a", Value: int32(1)}},
		"bsonA":  primitive.A{int32(1), "x"},
		"nested": bson.M{"b": uint8(2)},
	}

	got := NormalizeDocument(in)
	assert.Equal(t, int64(7), got["int"])
	assert.Equal(t, int64(12), got["number"])
	assert.Equal(t, 1.5, got["float"])
	assert.Equal(t, map[string]interface{}{"a": int64(1)}, got["bsonD"])
	assert.Equal(t, []interface{}{int64(1), "x"}, got["bsonA"])
	assert.Equal(t, map[string]interface{}{"b": int64(2)}, got["nested"])
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(2020), 2020.0))
	assert.False(t, Equal(int64(2020), "2020"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, false))
	assert.True(t, Equal([]interface{}{int64(1), "a"}, []interface{}{1.0, "a"}))
	assert.False(t, Equal([]interface{}{int64(1)}, []interface{}{int64(1), int64(2)}))
	assert.True(t, Equal(map[string]interface{}{"a": int64(1)}, map[string]interface{}{"a": 1.0}))
	assert.False(t, Equal(map[string]interface{}{"a": int64(1)}, map[string]interface{}{"b": int64(1)}))
}

func TestEqualLargeNumbers(t *testing.T) {
	const big = int64(1) << 53
	assert.False(t, Equal(big+1, float64(big)), "float rounding must not make distinct numbers equal")
	assert.True(t, Equal(float64(big), big))
	assert.False(t, Equal(big, 2.5))
	assert.False(t, Equal(int64(math.MaxInt64), math.Ldexp(1, 63)))
	assert.True(t, Equal(big-1, float64(big-1)))
	assert.True(t, Equal(big+1, big+1))
	assert.True(t, Equal(float64(big), float64(big)))
}

func TestDocumentIDAndClone(t *testing.T) {
	doc := Document{"id": int64(3), "tags": []interface{}{"a"}}
	id, ok := doc.ID()
	require.True(t, ok)
	assert.Equal(t, uint64(3), id)

	clone := doc.Clone()
	clone["tags"].([]interface{})[0] = "b"
	assert.Equal(t, "a", doc["tags"].([]interface{})[0])

	_, ok = Document{"id": "three"}.ID()
	assert.False(t, ok)
	_, ok = Document{"id": int64(-1)}.ID()
	assert.False(t, ok)
	_, ok = Document{}.ID()
	assert.False(t, ok)
}

func TestAsID(t *testing.T) {
	id, ok := AsID(4.0)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), id)
	_, ok = AsID(4.5)
	assert.False(t, ok)
	_, ok = AsID("4")
	assert.False(t, ok)
}
