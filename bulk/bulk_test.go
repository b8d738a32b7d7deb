package bulk

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/expr"
	"github.com/neosqlitego/neosqlite/pathexpr"
	"github.com/neosqlitego/neosqlite/queryop"
	"github.com/neosqlitego/neosqlite/update"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)
	return db
}

func newTestExecutor() *Executor {
	accessor := pathexpr.New(false)
	ev := expr.New(accessor, false)
	q := queryop.New(accessor, false, false, "", ev)
	u := update.New(accessor)
	return New("widgets", q, u)
}

func TestInsertOne(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()

	result, err := x.Execute(context.Background(), db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "widget-a"}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.InsertedCount)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	require.Equal(t, 1, count)
}

func TestUpdateOneMatchesSingleRow(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	_, err := x.Execute(ctx, db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "a", "qty": 1}},
		{Op: InsertOne, Document: map[string]any{"name": "a", "qty": 2}},
	}, true)
	require.NoError(t, err)

	result, err := x.Execute(ctx, db, []Request{
		{Op: UpdateOne, Filter: map[string]any{"name": "a"}, Update: map[string]any{"$set": map[string]any{"qty": 99}}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.MatchedCount)
	require.Equal(t, int64(1), result.ModifiedCount)
}

func TestUpdateManyMatchesAllRows(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	_, err := x.Execute(ctx, db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "a", "qty": 1}},
		{Op: InsertOne, Document: map[string]any{"name": "a", "qty": 2}},
	}, true)
	require.NoError(t, err)

	result, err := x.Execute(ctx, db, []Request{
		{Op: UpdateMany, Filter: map[string]any{"name": "a"}, Update: map[string]any{"$set": map[string]any{"qty": 0}}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.MatchedCount)
	require.Equal(t, int64(2), result.ModifiedCount)
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	result, err := x.Execute(ctx, db, []Request{
		{Op: UpdateOne, Filter: map[string]any{"name": "new"}, Update: map[string]any{"$set": map[string]any{"qty": 5}}, Upsert: true},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.UpsertedCount)
	require.Contains(t, result.UpsertedIDs, 0)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	require.Equal(t, 1, count)
}

func TestDeleteOneAndDeleteMany(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	_, err := x.Execute(ctx, db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "a"}},
		{Op: InsertOne, Document: map[string]any{"name": "a"}},
		{Op: InsertOne, Document: map[string]any{"name": "b"}},
	}, true)
	require.NoError(t, err)

	result, err := x.Execute(ctx, db, []Request{
		{Op: DeleteOne, Filter: map[string]any{"name": "a"}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.DeletedCount)

	result, err = x.Execute(ctx, db, []Request{
		{Op: DeleteMany, Filter: map[string]any{"name": "a"}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.DeletedCount)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	require.Equal(t, 1, count)
}

func TestBulkRollsBackOnFirstFailure(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	_, err := x.Execute(ctx, db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "a"}},
		{Op: UpdateOne, Filter: map[string]any{}, Update: map[string]any{"$unsupportedOperator": 1}},
	}, true)
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	require.Equal(t, 0, count)
}

func TestReplaceOneReplacesWholeDocument(t *testing.T) {
	db := newTestDB(t)
	x := newTestExecutor()
	ctx := context.Background()

	_, err := x.Execute(ctx, db, []Request{
		{Op: InsertOne, Document: map[string]any{"name": "a", "qty": 1}},
	}, true)
	require.NoError(t, err)

	result, err := x.Execute(ctx, db, []Request{
		{Op: ReplaceOne, Filter: map[string]any{"name": "a"}, Document: map[string]any{"name": "replaced"}},
	}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.MatchedCount)
	require.Equal(t, int64(1), result.ModifiedCount)

	var data string
	require.NoError(t, db.QueryRow("SELECT data FROM widgets").Scan(&data))
	require.Contains(t, data, "replaced")
	require.NotContains(t, data, "qty")
}
