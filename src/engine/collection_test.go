package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/models"
	"shelfdb/src/sharding"
)

const testCollectionDir = "/db/movies"

func newTestCollection(t *testing.T, c codec.Codec) (*Collection, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	coll, err := InitCollection(fs, testCollectionDir, CollectionOptions{
		Codec:   c,
		Workers: 4,
		Logger:  zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return coll, fs
}

func movies() []map[string]interface{} {
	return []map[string]interface{}{
		{"title": "Tenet", "year": 2020, "genres": []interface{}{"Action", "Sci-Fi"}, "imdb": map[string]interface{}{"rating": 7.3}},
		{"title": "Soul", "year": 2020, "genres": []interface{}{"Animation"}, "imdb": map[string]interface{}{"rating": 8.0}},
		{"title": "Dune", "year": 2021, "genres": []interface{}{"Sci-Fi"}, "imdb": map[string]interface{}{"rating": 8.0}},
		{"title": "Nomadland", "year": 2020, "genres": []interface{}{"Drama"}},
		{"title": "Untitled", "year": nil},
	}
}

func seed(t *testing.T, coll *Collection) {
	t.Helper()
	for _, m := range movies() {
		_, err := coll.Create(m)
		require.NoError(t, err)
	}
}

func ids(docs []models.Document) []uint64 {
	out := make([]uint64, 0, len(docs))
	for _, d := range docs {
		id, _ := d.ID()
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func where(field string, op models.Operator, v interface{}) []models.Condition {
	return []models.Condition{models.Where(field, op, v)}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON(), codec.BSON()} {
		t.Run(c.Name(), func(t *testing.T) {
			coll, _ := newTestCollection(t, c)

			for i, m := range movies() {
				id, err := coll.Create(m)
				require.NoError(t, err)
				assert.Equal(t, uint64(i), id)

				got, err := coll.Get(id)
				require.NoError(t, err)

				want := models.NormalizeDocument(m)
				want["id"] = int64(id)
				assert.True(t, models.Equal(map[string]interface{}(want), map[string]interface{}(got)), "got %v", got)
			}

			n, err := coll.NumberOfDocuments()
			require.NoError(t, err)
			assert.Equal(t, uint64(5), n)
		})
	}
}

func TestCreateOverwritesSuppliedID(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())

	id, err := coll.Create(map[string]interface{}{"id": 99, "title": "Tenet"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	_, err = coll.Get(99)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCreateDoesNotMutateInput(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	in := map[string]interface{}{"title": "Tenet"}
	_, err := coll.Create(in)
	require.NoError(t, err)
	_, hasID := in["id"]
	assert.False(t, hasID)
}

func TestShardLayoutOnDisk(t *testing.T) {
	coll, fs := newTestCollection(t, codec.JSON())
	id, err := coll.Create(map[string]interface{}{"title": "Tenet"})
	require.NoError(t, err)

	shard := sharding.ShardPath(id, ".json")
	exists, err := afero.Exists(fs, filepath.Join(testCollectionDir, filepath.FromSlash(shard)))
	require.NoError(t, err)
	assert.True(t, exists)

	header, err := afero.ReadFile(fs, filepath.Join(testCollectionDir, HeaderFile))
	require.NoError(t, err)
	assert.Contains(t, string(header), `"number_of_documents": 1`)
	assert.Contains(t, string(header), `"next_id": 1`)
}

func TestGetMissingDocument(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	_, err := coll.Get(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, 1, ExitCode(err))
}

func TestUpdateKeepsID(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	seed(t, coll)

	doc, err := coll.Update(1, map[string]interface{}{"id": 42, "title": "Soul (2020)"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc["id"])

	got, err := coll.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["id"])
	assert.Equal(t, "Soul (2020)", got["title"])

	_, err = coll.Get(42)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestUpdateFieldClosure(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	seed(t, coll)

	before, err := coll.Get(0)
	require.NoError(t, err)

	_, err = coll.Update(0, map[string]interface{}{"title": "Changed", "director": "Nolan"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldNotFound)

	after, err := coll.Get(0)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// A null field counts as absent.
	_, err = coll.Update(4, map[string]interface{}{"year": 2022})
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = coll.Update(0, map[string]interface{}{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = coll.Update(77, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestReadByConditions(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	seed(t, coll)

	tests := []struct {
		name  string
		conds []models.Condition
		want  []uint64
	}{
		{"all", nil, []uint64{0, 1, 2, 3, 4}},
		{"equality", where("year", models.OpEqual, 2020), []uint64{0, 1, 3}},
		{"float literal", where("year", models.OpEqual, 2020.0), []uint64{0, 1, 3}},
		{"not equal skips missing", where("imdb.rating", models.OpNotEqual, 8.0), []uint64{0}},
		{"greater", where("year", models.OpGreaterThan, 2020), []uint64{2}},
		{"nested", where("imdb.rating", models.OpGreaterEqual, 8), []uint64{1, 2}},
		{"ordering needs numbers", where("title", models.OpGreaterThan, 1), nil},
		{"array any element", where("genres", models.OpEqual, "Sci-Fi"), []uint64{0, 2}},
		{"array whole", where("genres", models.OpEqual, []interface{}{"Action", "Sci-Fi"}), []uint64{0}},
		{"null", where("year", models.OpEqual, nil), []uint64{4}},
		{"by id", where("id", models.OpEqual, 2), []uint64{2}},
		{"by id and more", []models.Condition{
			models.Where("id", models.OpEqual, 2),
			models.Where("year", models.OpEqual, 2020),
		}, nil},
		{"non-integral id", where("id", models.OpEqual, "two"), nil},
		{"conjunction", []models.Condition{
			models.Where("year", models.OpEqual, 2020),
			models.Where("imdb.rating", models.OpLessThan, 7.5),
		}, []uint64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := coll.ReadByConditions(tt.conds)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, docs)
				return
			}
			assert.Equal(t, tt.want, ids(docs))
		})
	}
}

func TestReadRejectsInvalidConditions(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	_, err := coll.ReadByConditions([]models.Condition{{Field: models.FieldPath{"year"}, Operator: "~="}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIndexScanEquivalence(t *testing.T) {
	queries := [][]models.Condition{
		where("year", models.OpEqual, 2020),
		where("year", models.OpEqual, 2021.0),
		where("year", models.OpEqual, nil),
		where("year", models.OpEqual, 1900),
		where("genres", models.OpEqual, "Sci-Fi"),
		where("genres", models.OpEqual, []interface{}{"Action", "Sci-Fi"}),
		where("imdb.rating", models.OpEqual, 8),
		{models.Where("year", models.OpEqual, 2020), models.Where("genres", models.OpEqual, "Drama")},
	}

	plain, _ := newTestCollection(t, codec.JSON())
	seed(t, plain)
	indexed, _ := newTestCollection(t, codec.JSON())
	seed(t, indexed)
	for _, f := range []string{"year", "genres", "imdb.rating"} {
		require.NoError(t, indexed.CreateHashIndex(models.ParseFieldPath(f)))
	}

	for i, q := range queries {
		t.Run(fmt.Sprintf("query-%d", i), func(t *testing.T) {
			plan, err := indexed.Plan(q)
			require.NoError(t, err)
			assert.Equal(t, PlanIndex, plan.Kind)

			a, err := plain.ReadByConditions(q)
			require.NoError(t, err)
			b, err := indexed.ReadByConditions(q)
			require.NoError(t, err)
			assert.Equal(t, ids(a), ids(b))
		})
	}
}

func TestIndexSeesNewDocuments(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))
	seed(t, coll)

	docs, err := coll.ReadByConditions(where("year", models.OpEqual, 2021))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids(docs))
}

func TestIndexLifecycleErrors(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	seed(t, coll)

	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))
	assert.ErrorIs(t, coll.CreateHashIndex(models.FieldPath{"year"}), ErrIndexAlreadyExists)
	assert.Equal(t, []string{"hash_year"}, coll.Indexes())

	require.NoError(t, coll.DeleteHashIndex(models.FieldPath{"year"}))
	assert.ErrorIs(t, coll.DeleteHashIndex(models.FieldPath{"year"}), ErrIndexNotFound)
	assert.Empty(t, coll.Indexes())

	plan, err := coll.Plan(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Equal(t, PlanFullScan, plan.Kind)
}

func TestIndexFreshnessAfterUpdate(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	seed(t, coll)
	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))

	_, err := coll.Update(0, map[string]interface{}{"year": 2024})
	require.NoError(t, err)

	docs, err := coll.ReadByConditions(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids(docs))

	docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2024))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids(docs))
}

func TestUpdateByConditions(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			coll, _ := newTestCollection(t, codec.JSON())
			coll.SetParallel(parallel)
			seed(t, coll)
			require.NoError(t, coll.CreateHashIndex(models.FieldPath{"imdb", "rating"}))

			// Nomadland has no imdb object so it is skipped, not fatal.
			updated, err := coll.UpdateByConditions(where("year", models.OpEqual, 2020), map[string]interface{}{"imdb": map[string]interface{}{"rating": 9.9}})
			require.Error(t, err)
			assert.True(t, IsPartial(err))
			assert.Equal(t, []uint64{0, 1}, ids(updated))

			docs, err := coll.ReadByConditions(where("imdb.rating", models.OpEqual, 9.9))
			require.NoError(t, err)
			assert.Equal(t, []uint64{0, 1}, ids(docs))

			docs, err = coll.ReadByConditions(where("imdb.rating", models.OpEqual, 8.0))
			require.NoError(t, err)
			assert.Equal(t, []uint64{2}, ids(docs))
		})
	}
}

func TestDeleteByConditionsKeepsCountConsistent(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			coll, _ := newTestCollection(t, codec.JSON())
			coll.SetParallel(parallel)
			seed(t, coll)
			require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))

			before, err := coll.NumberOfDocuments()
			require.NoError(t, err)

			removed, err := coll.DeleteByConditions(where("year", models.OpEqual, 2020))
			require.NoError(t, err)
			assert.Equal(t, 3, removed)

			after, err := coll.NumberOfDocuments()
			require.NoError(t, err)
			assert.Equal(t, before-3, after)

			docs, err := coll.ReadAll()
			require.NoError(t, err)
			assert.Equal(t, []uint64{2, 4}, ids(docs))

			docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2020))
			require.NoError(t, err)
			assert.Empty(t, docs)

			removed, err = coll.DeleteByConditions(where("year", models.OpEqual, 2020))
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	coll, fs := newTestCollection(t, codec.JSON())
	seed(t, coll)

	removed, err := coll.DeleteByConditions(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	id, err := coll.Create(map[string]interface{}{"title": "Oppenheimer"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)

	reopened, err := OpenCollection(fs, testCollectionDir, CollectionOptions{})
	require.NoError(t, err)
	id, err = reopened.Create(map[string]interface{}{"title": "Barbie"})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), id)
	n, err := reopened.NumberOfDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestLegacyHeaderWithoutNextID(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testCollectionDir, HeaderFile), []byte(`{"number_of_documents": 3}`), 0644))

	coll, err := OpenCollection(fs, testCollectionDir, CollectionOptions{})
	require.NoError(t, err)
	id, err := coll.Create(map[string]interface{}{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestParallelSerialEquivalence(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())
	for i := 0; i < 200; i++ {
		_, err := coll.Create(map[string]interface{}{"n": i, "even": i%2 == 0, "tags": []interface{}{fmt.Sprintf("t%d", i%7)}})
		require.NoError(t, err)
	}

	queries := [][]models.Condition{
		nil,
		where("even", models.OpEqual, true),
		where("n", models.OpGreaterEqual, 150),
		where("tags", models.OpEqual, "t3"),
	}
	for i, q := range queries {
		coll.SetParallel(false)
		serial, err := coll.ReadByConditions(q)
		require.NoError(t, err)
		coll.SetParallel(true)
		parallel, err := coll.ReadByConditions(q)
		require.NoError(t, err)
		assert.Equal(t, ids(serial), ids(parallel), "query %d", i)
	}
}

func TestBrokenShardIsSkipped(t *testing.T) {
	coll, fs := newTestCollection(t, codec.JSON())
	seed(t, coll)

	broken := filepath.Join(testCollectionDir, filepath.FromSlash(sharding.ShardPath(2, ".json")))
	require.NoError(t, afero.WriteFile(fs, broken, []byte("{not json"), 0644))

	docs, err := coll.ReadAll()
	require.Error(t, err)
	assert.True(t, IsPartial(err))
	assert.Equal(t, -1, ExitCode(err))
	assert.NotContains(t, ids(docs), uint64(2))
	assert.Len(t, docs, 4)
}

func TestUnloadedCollectionIsInert(t *testing.T) {
	fs := afero.NewMemMapFs()
	coll, err := OpenCollection(fs, "/db/missing", CollectionOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.False(t, coll.Live())

	_, err = coll.Create(map[string]interface{}{"a": 1})
	assert.ErrorIs(t, err, ErrNotLive)
	_, err = coll.ReadAll()
	assert.ErrorIs(t, err, ErrNotLive)
	_, err = coll.NumberOfDocuments()
	assert.ErrorIs(t, err, ErrNotLive)

	require.NoError(t, afero.WriteFile(fs, "/db/missing/header.json", []byte("{oops"), 0644))
	assert.ErrorIs(t, coll.Load(), ErrParseFailure)
}

func TestStatsAndDrop(t *testing.T) {
	coll, fs := newTestCollection(t, codec.JSON())
	seed(t, coll)
	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))

	stats, err := coll.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.Documents)
	assert.Equal(t, uint64(5), stats.NextID)
	assert.Equal(t, 5, stats.ShardFiles)
	require.Len(t, stats.Indexes, 1)
	assert.Equal(t, 3, stats.Indexes[0].Keys)

	require.NoError(t, coll.Drop())
	exists, err := afero.DirExists(fs, testCollectionDir)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = coll.ReadAll()
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestTenetScenario(t *testing.T) {
	coll, _ := newTestCollection(t, codec.JSON())

	id, err := coll.Create(map[string]interface{}{"title": "Tenet", "year": 2020})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	n, err := coll.NumberOfDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))

	plan, err := coll.Plan(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Equal(t, PlanIndex, plan.Kind)
	docs, err := coll.ReadByConditions(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Tenet", docs[0]["title"])

	_, err = coll.Update(0, map[string]interface{}{"year": 2024})
	require.NoError(t, err)

	docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2024))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(0), docs[0]["id"])

	removed, err := coll.DeleteByConditions(where("title", models.OpEqual, "Tenet"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	n, err = coll.NumberOfDocuments()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShardHoldingSeveralDocuments(t *testing.T) {
	coll, fs := newTestCollection(t, codec.JSON())
	_, err := coll.Create(map[string]interface{}{"title": "Tenet", "year": 2020})
	require.NoError(t, err)
	_, err = coll.Create(map[string]interface{}{"title": "Soul", "year": 2020})
	require.NoError(t, err)

	// Put Soul in front of Tenet inside Tenet's shard, as a hash collision would.
	shard := sharding.ShardPath(0, ".json")
	soul, err := coll.readShard(sharding.ShardPath(1, ".json"))
	require.NoError(t, err)
	tenet, err := coll.readShard(shard)
	require.NoError(t, err)
	require.NoError(t, coll.writeShard(shard, append(soul, tenet...)))
	require.NoError(t, coll.writeShard(sharding.ShardPath(1, ".json"), nil))

	all, err := coll.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids(all))
	stats, err := coll.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ShardFiles)

	doc, err := coll.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "Tenet", doc["title"])

	require.NoError(t, coll.CreateHashIndex(models.FieldPath{"year"}))
	hi := coll.indexes.Find(models.FieldPath{"year"})
	require.NotNil(t, hi)

	_, err = coll.Update(0, map[string]interface{}{"year": 2021})
	require.NoError(t, err)
	docs, err := coll.ReadByConditions(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(docs))
	docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2021))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids(docs))

	removed, err := coll.DeleteByConditions(where("title", models.OpEqual, "Tenet"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := afero.Exists(fs, filepath.Join(testCollectionDir, filepath.FromSlash(shard)))
	require.NoError(t, err)
	assert.True(t, exists, "the shard still holds Soul")
	kept, err := coll.readShard(shard)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "Soul", kept[0]["title"])
	assert.Equal(t, int64(2020), kept[0]["year"])

	candidates, err := hi.Consult(int64(2020))
	require.NoError(t, err)
	assert.Equal(t, []string{shard}, candidates, "Soul keeps the shard listed under 2020")
	candidates, err = hi.Consult(int64(2021))
	require.NoError(t, err)
	assert.Empty(t, candidates)

	docs, err = coll.ReadByConditions(where("year", models.OpEqual, 2020))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(docs))

	removed, err = coll.DeleteByConditions(where("title", models.OpEqual, "Soul"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	candidates, err = hi.Consult(int64(2020))
	require.NoError(t, err)
	assert.Empty(t, candidates)

	n, err := coll.NumberOfDocuments()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexScanEquivalenceForLargeNumbers(t *testing.T) {
	const big = int64(1) << 53
	values := []interface{}{big + 1, big}

	plain, _ := newTestCollection(t, codec.JSON())
	indexed, _ := newTestCollection(t, codec.JSON())
	require.NoError(t, indexed.CreateHashIndex(models.FieldPath{"v"}))
	for _, coll := range []*Collection{plain, indexed} {
		for _, v := range values {
			_, err := coll.Create(map[string]interface{}{"v": v})
			require.NoError(t, err)
		}
	}

	tests := []struct {
		literal interface{}
		want    []uint64
	}{
		{float64(big), []uint64{1}},
		{big + 1, []uint64{0}},
		{big, []uint64{1}},
	}
	for _, tt := range tests {
		q := where("v", models.OpEqual, tt.literal)
		a, err := plain.ReadByConditions(q)
		require.NoError(t, err)
		b, err := indexed.ReadByConditions(q)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ids(a), "scan for %v", tt.literal)
		assert.Equal(t, tt.want, ids(b), "index for %v", tt.literal)
	}
}
