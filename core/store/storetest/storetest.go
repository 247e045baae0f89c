/*
Package storetest provides a conformance test every store driver has to pass
*/
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/relabs-tech/restifier/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run runs the conformance test against s. The collection name is derived from the
// test name, the store must not contain it yet.
func Run(t *testing.T, s store.Store, collection string) {
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, collection))
	c := s.Collection(collection)
	assert.Equal(t, collection, c.Name())

	err := c.InsertMany(ctx, []store.Document{
		{"_id": "a", "name": "apple", "price": 3, "__v": 0, "tags": []interface{}{"red"}},
		{"_id": "b", "name": "banana", "price": 1, "__v": 0, "owner": "alice"},
		{"_id": "c", "name": "cherry", "price": 5, "__v": 0, "owner": "bob"},
	})
	require.NoError(t, err)

	t.Run("duplicate", func(t *testing.T) {
		err := c.InsertMany(ctx, []store.Document{{"_id": "a", "name": "again"}})
		assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)
	})

	t.Run("find", func(t *testing.T) {
		docs, err := c.Find(ctx, store.Filter{"_id": map[string]interface{}{"$in": []interface{}{"a", "c", "x"}}},
			store.FindOptions{Sort: []store.SortField{{Field: "price", Desc: true}}})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "c", docs[0]["_id"])
		assert.Equal(t, "a", docs[1]["_id"])
		assert.True(t, store.Equal(5, docs[0]["price"]))

		docs, err = c.Find(ctx, store.Filter{"price": map[string]interface{}{"$gte": 3}, "owner": "bob"}, store.FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "c", docs[0]["_id"])

		docs, err = c.Find(ctx, store.Filter{"tags": "red"}, store.FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)

		docs, err = c.Find(ctx, store.Filter{"name": map[string]interface{}{"$regex": "^b"}}, store.FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "b", docs[0]["_id"])

		docs, err = c.Find(ctx, store.Filter{}, store.FindOptions{
			Sort: []store.SortField{{Field: "price"}}, Skip: 1, Limit: 1, BatchSize: 100,
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0]["_id"])

		count, err := c.Count(ctx, store.Filter{"owner": map[string]interface{}{"$exists": true}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("bulk update", func(t *testing.T) {
		result, err := c.BulkUpdate(ctx, []store.Update{
			{Filter: store.Filter{"_id": "b", "owner": "alice"}, Set: store.Document{"price": 2}, Inc: map[string]int64{"__v": 1}},
			{Filter: store.Filter{"_id": "c", "owner": "alice"}, Set: store.Document{"price": 9}, Inc: map[string]int64{"__v": 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Matched)
		assert.Equal(t, int64(1), result.Modified)

		docs, err := c.Find(ctx, store.Filter{"_id": "b"}, store.FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.True(t, store.Equal(2, docs[0]["price"]))
		assert.True(t, store.Equal(1, docs[0]["__v"]))

		docs, err = c.Find(ctx, store.Filter{"_id": "c"}, store.FindOptions{})
		require.NoError(t, err)
		assert.True(t, store.Equal(5, docs[0]["price"]))
	})

	t.Run("remove", func(t *testing.T) {
		removed, err := c.Remove(ctx, store.Filter{"price": map[string]interface{}{"$lt": 3}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
		count, err := c.Count(ctx, store.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("sequence", func(t *testing.T) {
		for _, want := range []int64{10, 15, 20} {
			got, err := s.NextSequence(ctx, collection, 10, 5)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}
