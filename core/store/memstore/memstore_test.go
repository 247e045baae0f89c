package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/relabs-tech/restifier/core/store"
	"github.com/relabs-tech/restifier/core/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) store.Collection {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "fruit"))
	c := s.Collection("fruit")
	err := c.InsertMany(ctx, []store.Document{
		{"_id": "a", "name": "apple", "price": 3, "tags": []interface{}{"red", "sweet"}, "origin": map[string]interface{}{"country": "it"}},
		{"_id": "b", "name": "banana", "price": int64(1), "tags": []interface{}{"yellow"}},
		{"_id": "c", "name": "Cherry", "price": 5.5, "seasonal": true},
		{"_id": "d", "name": "date", "price": 2},
	})
	require.NoError(t, err)
	return c
}

func ids(docs []store.Document) []interface{} {
	var result []interface{}
	for _, d := range docs {
		result = append(result, d["_id"])
	}
	return result
}

func TestFind(t *testing.T) {
	c := seed(t)
	ctx := context.Background()

	testCases := []struct {
		name   string
		filter store.Filter
		want   []interface{}
	}{
		{"all", store.Filter{}, []interface{}{"a", "b", "c", "d"}},
		{"equal", store.Filter{"name": "apple"}, []interface{}{"a"}},
		{"equal number across types", store.Filter{"price": int64(3)}, []interface{}{"a"}},
		{"array element", store.Filter{"tags": "red"}, []interface{}{"a"}},
		{"nested", store.Filter{"origin.country": "it"}, []interface{}{"a"}},
		{"gt", store.Filter{"price": map[string]interface{}{"$gt": 2}}, []interface{}{"a", "c"}},
		{"range", store.Filter{"price": map[string]interface{}{"$gte": 2, "$lt": 5}}, []interface{}{"a", "d"}},
		{"in", store.Filter{"_id": map[string]interface{}{"$in": []string{"b", "d", "x"}}}, []interface{}{"b", "d"}},
		{"nin", store.Filter{"_id": map[string]interface{}{"$nin": []interface{}{"b", "d"}}}, []interface{}{"a", "c"}},
		{"ne", store.Filter{"name": map[string]interface{}{"$ne": "apple"}}, []interface{}{"b", "c", "d"}},
		{"exists", store.Filter{"seasonal": map[string]interface{}{"$exists": true}}, []interface{}{"c"}},
		{"regex", store.Filter{"name": map[string]interface{}{"$regex": "^c", "$options": "i"}}, []interface{}{"c"}},
		{"or", store.Filter{"$or": []interface{}{
			map[string]interface{}{"name": "apple"},
			map[string]interface{}{"price": 2},
		}}, []interface{}{"a", "d"}},
		{"and", store.Filter{"$and": []interface{}{
			map[string]interface{}{"price": map[string]interface{}{"$gt": 1}},
			map[string]interface{}{"price": map[string]interface{}{"$lt": 3}},
		}}, []interface{}{"d"}},
		{"no match", store.Filter{"name": "kiwi"}, nil},
		{"unknown operator", store.Filter{"name": map[string]interface{}{"$near": "x"}}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := c.Find(ctx, tc.filter, store.FindOptions{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(docs))
		})
	}
}

func TestFindOptions(t *testing.T) {
	c := seed(t)
	ctx := context.Background()

	docs, err := c.Find(ctx, store.Filter{}, store.FindOptions{Sort: []store.SortField{{Field: "price", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"c", "a", "d", "b"}, ids(docs))

	docs, err = c.Find(ctx, store.Filter{}, store.FindOptions{Sort: []store.SortField{{Field: "price"}}, Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"d", "a"}, ids(docs))

	docs, err = c.Find(ctx, store.Filter{}, store.FindOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, docs)

	count, err := c.Count(ctx, store.Filter{"price": map[string]interface{}{"$lte": 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFindReturnsCopies(t *testing.T) {
	c := seed(t)
	ctx := context.Background()
	docs, err := c.Find(ctx, store.Filter{"_id": "a"}, store.FindOptions{})
	require.NoError(t, err)
	docs[0]["name"] = "changed"
	docs, err = c.Find(ctx, store.Filter{"_id": "a"}, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, "apple", docs[0]["name"])
}

func TestInsertDuplicate(t *testing.T) {
	c := seed(t)
	ctx := context.Background()
	err := c.InsertMany(ctx, []store.Document{{"_id": "a"}, {"_id": "e"}})
	assert.True(t, errors.Is(err, store.ErrDuplicate))
	count, err := c.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	assert.Error(t, c.InsertMany(ctx, []store.Document{{"name": "no id"}}))
}

func TestBulkUpdateAndRemove(t *testing.T) {
	c := seed(t)
	ctx := context.Background()
	result, err := c.BulkUpdate(ctx, []store.Update{
		{Filter: store.Filter{"_id": "a"}, Set: store.Document{"price": 4}, Inc: map[string]int64{"__v": 1}},
		{Filter: store.Filter{"_id": "b", "owner": "x"}, Set: store.Document{"price": 9}},
		{Filter: store.Filter{"_id": "c"}, Set: store.Document{"price": 5.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Matched)
	assert.Equal(t, int64(1), result.Modified)

	docs, err := c.Find(ctx, store.Filter{"_id": "a"}, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4.0, docs[0]["price"])
	assert.Equal(t, 1.0, docs[0]["__v"])

	removed, err := c.Remove(ctx, store.Filter{"price": map[string]interface{}{"$gt": 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// removed identifiers can be inserted again
	require.NoError(t, c.InsertMany(ctx, []store.Document{{"_id": "a"}}))
}

func TestNextSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, want := range []int64{5, 7, 9} {
		got, err := s.NextSequence(ctx, "note", 5, 2)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextSequence(ctx, "other", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, New(), "conformance")
}
