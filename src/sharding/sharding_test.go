package sharding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfdb/src/models"
)

func TestHashIDIsDeterministic(t *testing.T) {
	a := HashID(42)
	b := HashID(42)
	assert.Equal(t, a, b)
	assert.Len(t, string(a), DigestLength)
	assert.NotEqual(t, HashID(42), HashID(43))
}

func TestShardPathLayout(t *testing.T) {
	d := HashID(7)
	p := ShardPath(7, ".json")

	parts := strings.Split(p, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, string(d)[0:2], parts[0])
	assert.Equal(t, string(d)[2:4], parts[1])
	assert.Equal(t, string(d)[4:]+".json", parts[2])
}

func TestBucketPathLayout(t *testing.T) {
	d, err := HashValue("Action")
	require.NoError(t, err)

	p := BucketPath(d, ".json")
	assert.Equal(t, string(d)[0:2]+"/"+string(d)[2:4]+"/index.json", p)
	assert.Equal(t, string(d)[4:], d.Suffix())
}

func TestHashValueNullSentinel(t *testing.T) {
	null, err := HashValue(nil)
	require.NoError(t, err)
	str, err := HashValue("null")
	require.NoError(t, err)

	assert.Equal(t, HashString(NullSentinel), null)
	assert.NotEqual(t, null, str)
}

func TestHashValueCanonicalisesNumbersAndKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
	}{
		{"int and integral float", 2020, 2020.0},
		{"int widths", int32(5), uint64(5)},
		{"object key order", map[string]interface{}{"a": 1, "b": 2}, map[string]interface{}{"b": 2.0, "a": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da, err := HashValue(tt.a)
			require.NoError(t, err)
			db, err := HashValue(tt.b)
			require.NoError(t, err)
			assert.Equal(t, da, db)
		})
	}

	half, err := HashValue(2020.5)
	require.NoError(t, err)
	whole, err := HashValue(2020)
	require.NoError(t, err)
	assert.NotEqual(t, half, whole)
}

func TestHashValueAgreesWithEqual(t *testing.T) {
	const big = int64(1) << 53
	pairs := [][2]interface{}{
		{big + 1, float64(big)},
		{float64(big), big},
		{big - 1, float64(big - 1)},
		{int64(7), 7.0},
		{int64(7), 7.5},
		{float64(big), float64(big)},
	}
	for _, p := range pairs {
		da, err := HashValue(p[0])
		require.NoError(t, err)
		db, err := HashValue(p[1])
		require.NoError(t, err)
		assert.Equal(t, models.Equal(p[0], p[1]), da == db, "%v vs %v", p[0], p[1])
	}
}

func TestIndexKeysArrays(t *testing.T) {
	action, _ := HashValue("Action")
	scifi, _ := HashValue("Sci-Fi")

	genres := []interface{}{"Action", "Sci-Fi", "Action"}
	whole, _ := HashValue(genres)

	keys, err := IndexKeys(genres)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Digest{whole, action, scifi}, keys)

	empty, _ := HashValue([]interface{}{})
	keys, err = IndexKeys([]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []Digest{empty}, keys)

	keys, err = IndexKeys("Action")
	require.NoError(t, err)
	assert.Equal(t, []Digest{action}, keys)
}
