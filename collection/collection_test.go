package collection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/driver"
	"github.com/neosqlitego/neosqlite/schema"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	ctx := context.Background()
	conn, err := driver.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.DB.Close() })

	_, err = conn.DB.Exec(fmt.Sprintf("CREATE TABLE widgets (id INTEGER PRIMARY KEY, data %s)", conn.DataColumnType()))
	require.NoError(t, err)

	cache, err := schema.Discover(ctx, conn.DB)
	require.NoError(t, err)

	return New(conn, "widgets", cache)
}

func TestInsertOneAndFindOne(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	id, err := c.InsertOne(ctx, map[string]any{"name": "widget-a", "qty": 3.0})
	require.NoError(t, err)
	require.NotNil(t, id)

	doc, ok, err := c.FindOne(ctx, map[string]any{"name": "widget-a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, docval.String("widget-a"), doc["name"])
}

func TestInsertManyAndCountDocuments(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	ids, err := c.InsertMany(ctx, []map[string]any{
		{"name": "a"}, {"name": "a"}, {"name": "b"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	count, err := c.CountDocuments(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	total, err := c.EstimatedDocumentCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
}

func TestUpdateOneModifiesSingleDocument(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []map[string]any{{"name": "a", "qty": 1.0}, {"name": "a", "qty": 2.0}})
	require.NoError(t, err)

	result, err := c.UpdateOne(ctx, map[string]any{"name": "a"}, map[string]any{"$set": map[string]any{"qty": 9.0}}, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.MatchedCount)
}

func TestDeleteManyRemovesAllMatches(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []map[string]any{{"name": "a"}, {"name": "a"}, {"name": "b"}})
	require.NoError(t, err)

	result, err := c.DeleteMany(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.DeletedCount)

	total, err := c.EstimatedDocumentCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}

func TestFindOneAndDeleteReturnsPriorState(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertOne(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)

	before, err := c.FindOneAndDelete(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)
	require.NotNil(t, before)

	total, err := c.EstimatedDocumentCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), total)
}

func TestAggregateMatchViaTier1(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []map[string]any{{"category": "a"}, {"category": "b"}})
	require.NoError(t, err)

	out, err := c.Aggregate(ctx, []map[string]any{
		{"$match": map[string]any{"category": "a"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestAggregateUnwindGroupFusionRenamesGroupKeyToID(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []map[string]any{
		{"category": "a", "tags": []any{"x", "y"}},
		{"category": "b", "tags": []any{"x"}},
	})
	require.NoError(t, err)

	out, err := c.Aggregate(ctx, []map[string]any{
		{"$unwind": "$tags"},
		{"$group": map[string]any{
			"_id":   "$tags",
			"count": map[string]any{"$sum": 1},
		}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for _, doc := range out {
		_, hasID := doc["_id"]
		require.True(t, hasID, "group-fusion row must expose its group key as _id, got %v", doc)
		_, hasBareID := doc["id"]
		require.False(t, hasBareID, "group-fusion row must not leak the raw \"id\" alias")
	}
}

func TestAggregateLookupFallsThroughToTier2(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.conn.DB.Exec(fmt.Sprintf("CREATE TABLE orders (id INTEGER PRIMARY KEY, data %s)", c.conn.DataColumnType()))
	require.NoError(t, err)
	orders := New(c.conn, "orders", c.cache)

	_, err = c.InsertOne(ctx, map[string]any{"_id": "w1", "name": "widget"})
	require.NoError(t, err)
	_, err = orders.InsertOne(ctx, map[string]any{"widgetId": "w1"})
	require.NoError(t, err)

	out, err := c.Aggregate(ctx, []map[string]any{
		{"$lookup": map[string]any{
			"from":         "orders",
			"localField":   "_id",
			"foreignField": "widgetId",
			"as":           "orders",
		}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestCreateIndexAndListIndexes(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.CreateIndex(ctx, "idx_widgets_name", []string{"name"}, false))

	cache, err := schema.Discover(ctx, c.conn.DB)
	require.NoError(t, err)
	c.cache = cache

	found := false
	for _, idx := range c.ListIndexes() {
		if idx.Name == "idx_widgets_name" {
			found = true
		}
	}
	require.True(t, found)
}

func TestDistinctReturnsUniqueValues(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []map[string]any{{"category": "a"}, {"category": "a"}, {"category": "b"}})
	require.NoError(t, err)

	values, err := c.Distinct(ctx, "category", map[string]any{})
	require.NoError(t, err)
	require.Len(t, values, 2)
}
