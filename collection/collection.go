// Package collection implements the Client API (spec.md §6): the
// MongoDB-compatible method surface — insert/find/update/delete,
// aggregate, bulk_write, index management, rename/drop/options, and
// watch — tying every other package in this module together into one
// per-collection entry point.
//
// Method shapes are grounded on atomicbase's api/database/queries.go
// (SelectJSON/InsertJSON/UpdateJSON/DeleteJSON), generalized from its
// flat-column relational surface to the Mongo-shaped document surface
// spec.md §6 names; SQL string-building follows the same plain
// fmt.Sprintf style used throughout this module rather than introducing
// a query-builder type.
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neosqlitego/neosqlite/aggregate"
	"github.com/neosqlitego/neosqlite/bulk"
	"github.com/neosqlitego/neosqlite/changestream"
	"github.com/neosqlitego/neosqlite/cursor"
	"github.com/neosqlitego/neosqlite/dberrors"
	"github.com/neosqlitego/neosqlite/docval"
	"github.com/neosqlitego/neosqlite/driver"
	"github.com/neosqlitego/neosqlite/expr"
	"github.com/neosqlitego/neosqlite/objectid"
	"github.com/neosqlitego/neosqlite/pathexpr"
	"github.com/neosqlitego/neosqlite/planner"
	"github.com/neosqlitego/neosqlite/queryop"
	"github.com/neosqlitego/neosqlite/schema"
	"github.com/neosqlitego/neosqlite/update"
)

// Collection is a single MongoDB-style collection backed by one SQLite
// table with the (id INTEGER PRIMARY KEY, data JSON[B]) layout from
// spec.md §6's Persisted layout.
type Collection struct {
	Name string

	conn     *driver.Conn
	accessor pathexpr.Accessor
	query    queryop.Translator
	update   update.Translator
	schema   schema.Manager
	cache    schema.Cache
	stream   *changestream.Stream
}

// New returns a Collection bound to conn and name. cache is the
// schema.Cache snapshot (from schema.Discover) describing the
// collection's indexes; a stale cache only affects cost estimation and
// FTS availability, never correctness, since every tier still validates
// against the live table.
func New(conn *driver.Conn, name string, cache schema.Cache) *Collection {
	accessor := pathexpr.New(conn.JSONBSupported)
	ev := expr.New(accessor, conn.RegexpEnabled)
	ftsAvailable := cache.HasFTSIndex(name)
	ftsTable := name + "_fts"
	q := queryop.New(accessor, conn.RegexpEnabled, ftsAvailable, ftsTable, ev)
	u := update.New(accessor)

	return &Collection{
		Name:     name,
		conn:     conn,
		accessor: accessor,
		query:    q,
		update:   u,
		schema:   schema.New(accessor),
		cache:    cache,
		stream:   changestream.New(),
	}
}

func (c *Collection) aggExecutor() *aggregate.Executor {
	ev := expr.New(c.accessor, c.conn.RegexpEnabled)
	indexed := planner.IndexSet(c.cache.IndexedPaths(c.Name))
	return aggregate.New(c.Name, c.accessor, c.query, ev, indexed)
}

func (c *Collection) bulkExecutor() *bulk.Executor {
	return bulk.New(c.Name, c.query, c.update)
}

func decodeRow(raw []byte) (docval.Object, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return docval.FromAny(m).(docval.Object), nil
}

// scanDocs decodes a result set into documents. Tier-1's plain
// "SELECT id, data FROM [...]" template decodes its data column as the
// whole document; Tier-1's $group fusion template instead emits one
// column per accumulator (aliased "id" for the group key, per
// groupClause), so those rows are reassembled field-by-field with "id"
// renamed back to "_id" to match MongoDB's $group output shape.
func scanDocs(rows *sql.Rows) ([]docval.Object, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []docval.Object
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if len(cols) == 2 && cols[0] == pathexpr.IDColumn && cols[1] == pathexpr.DataColumn {
			doc, err := decodeRow(asBytes(vals[1]))
			if err != nil {
				return nil, err
			}
			out = append(out, doc)
			continue
		}
		if len(cols) == 1 && cols[0] == pathexpr.DataColumn {
			doc, err := decodeRow(asBytes(vals[0]))
			if err != nil {
				return nil, err
			}
			out = append(out, doc)
			continue
		}

		doc := docval.Object{}
		for i, col := range cols {
			key := col
			if key == pathexpr.IDColumn {
				key = "_id"
			}
			doc[key] = docval.FromAny(normalizeSQLValue(vals[i]))
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func asBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}

// normalizeSQLValue converts a database/sql scanned value into the
// plain Go shape docval.FromAny expects, since SQLite drivers commonly
// hand back []byte for TEXT columns even when scanned into `any`.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// InsertOne inserts doc, assigning a generated ObjectId _id when absent,
// per spec.md §7's MalformedDocument error for non-object input.
func (c *Collection) InsertOne(ctx context.Context, doc map[string]any) (insertedID any, err error) {
	if doc == nil {
		return nil, dberrors.MalformedDocument("insert_one requires a document")
	}
	if _, has := doc["_id"]; !has {
		doc["_id"] = objectid.New().EncodeForStorage()
	}
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.InsertOne, Document: doc},
	}, true)
	if err != nil {
		return nil, dberrors.Storage(err)
	}
	if result.InsertedCount != 1 {
		return nil, fmt.Errorf("insert_one: expected 1 inserted document, got %d", result.InsertedCount)
	}
	id := doc["_id"]
	c.stream.Emit(changestream.Event{OperationType: changestream.Insert, Collection: c.Name, DocumentKey: id, FullDocument: doc})
	return id, nil
}

// InsertMany inserts docs under a single transaction (spec.md §5's
// transactional discipline applies uniformly across bulk-shaped writes).
func (c *Collection) InsertMany(ctx context.Context, docs []map[string]any) (insertedIDs []any, err error) {
	if len(docs) == 0 {
		return nil, nil
	}
	requests := make([]bulk.Request, len(docs))
	for i, d := range docs {
		if d == nil {
			return nil, dberrors.MalformedDocument("insert_many: document %d is not an object", i)
		}
		if _, has := d["_id"]; !has {
			d["_id"] = objectid.New().EncodeForStorage()
		}
		requests[i] = bulk.Request{Op: bulk.InsertOne, Document: d}
	}
	if _, err := c.bulkExecutor().Execute(ctx, c.conn.DB, requests, true); err != nil {
		return nil, dberrors.Storage(err)
	}
	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d["_id"]
		c.stream.Emit(changestream.Event{OperationType: changestream.Insert, Collection: c.Name, DocumentKey: ids[i], FullDocument: d})
	}
	return ids, nil
}

// Find returns a Cursor over every document matching filter. Execution
// is always SQL-backed here: Find has no pipeline stages to downgrade
// through tiers, so it only ever needs the Query Helper's WHERE clause.
func (c *Collection) Find(ctx context.Context, filter map[string]any) (*cursor.Cursor, error) {
	where, params, ok := c.query.BuildWhere(filter)
	if !ok {
		return nil, dberrors.MalformedQuery("unsupported filter")
	}
	stmt := fmt.Sprintf("SELECT %s FROM [%s]", pathexpr.DataColumn, c.Name)
	if where != "" {
		stmt += " WHERE " + where
	}
	rows, err := c.conn.DB.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, dberrors.Storage(err)
	}
	docs, err := scanDocs(rows)
	if err != nil {
		return nil, dberrors.Storage(err)
	}
	return cursor.New(docs), nil
}

// FindOne returns the first document matching filter, or ok=false if
// none match.
func (c *Collection) FindOne(ctx context.Context, filter map[string]any) (doc docval.Object, ok bool, err error) {
	cur, err := c.Find(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	doc, ok = cur.Next()
	return doc, ok, nil
}

// FindRawBatches streams matching documents as NDJSON batches rather
// than decoded documents, per spec.md §6's find_raw_batches.
func (c *Collection) FindRawBatches(ctx context.Context, filter map[string]any, batchSize int) (*cursor.RawBatchCursor, error) {
	cur, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if batchSize > 0 {
		cur.BatchSize(batchSize)
	}
	return cursor.NewRawBatch(cur), nil
}

// UpdateOne applies update to the first document matching filter.
func (c *Collection) UpdateOne(ctx context.Context, filter, upd map[string]any, upsert bool) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.UpdateOne, Filter: filter, Update: upd, Upsert: upsert},
	}, true)
	if err != nil {
		return bulk.Result{}, dberrors.MalformedQuery("%v", err)
	}
	if result.ModifiedCount > 0 || result.UpsertedCount > 0 {
		c.stream.Emit(changestream.Event{OperationType: changestream.Update, Collection: c.Name, UpdatedFields: upd})
	}
	return result, nil
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(ctx context.Context, filter, upd map[string]any, upsert bool) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.UpdateMany, Filter: filter, Update: upd, Upsert: upsert},
	}, true)
	if err != nil {
		return bulk.Result{}, dberrors.MalformedQuery("%v", err)
	}
	if result.ModifiedCount > 0 || result.UpsertedCount > 0 {
		c.stream.Emit(changestream.Event{OperationType: changestream.Update, Collection: c.Name, UpdatedFields: upd})
	}
	return result, nil
}

// ReplaceOne replaces the first document matching filter with doc.
func (c *Collection) ReplaceOne(ctx context.Context, filter, doc map[string]any, upsert bool) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.ReplaceOne, Filter: filter, Document: doc, Upsert: upsert},
	}, true)
	if err != nil {
		return bulk.Result{}, dberrors.Storage(err)
	}
	if result.ModifiedCount > 0 || result.UpsertedCount > 0 {
		c.stream.Emit(changestream.Event{OperationType: changestream.Replace, Collection: c.Name, FullDocument: doc})
	}
	return result, nil
}

// DeleteOne deletes the first document matching filter.
func (c *Collection) DeleteOne(ctx context.Context, filter map[string]any) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.DeleteOne, Filter: filter},
	}, true)
	if err != nil {
		return bulk.Result{}, dberrors.Storage(err)
	}
	if result.DeletedCount > 0 {
		c.stream.Emit(changestream.Event{OperationType: changestream.Delete, Collection: c.Name})
	}
	return result, nil
}

// DeleteMany deletes every document matching filter. An empty filter is
// allowed (deletes all documents) — unlike atomicbase's SQL DELETE
// surface, this is an explicit MongoDB-compatible operation rather than
// a raw statement, so there is no missing-WHERE-clause hazard to guard.
func (c *Collection) DeleteMany(ctx context.Context, filter map[string]any) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, []bulk.Request{
		{Op: bulk.DeleteMany, Filter: filter},
	}, true)
	if err != nil {
		return bulk.Result{}, dberrors.Storage(err)
	}
	if result.DeletedCount > 0 {
		c.stream.Emit(changestream.Event{OperationType: changestream.Delete, Collection: c.Name})
	}
	return result, nil
}

// FindOneAndUpdate finds the first document matching filter, applies
// update through UpdateOne, and returns the document's pre-update state.
// The find and the update are two separate steps, not one transaction.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, upd map[string]any, upsert bool) (docval.Object, error) {
	before, ok, err := c.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !ok && !upsert {
		return nil, nil
	}
	if _, err := c.UpdateOne(ctx, filter, upd, upsert); err != nil {
		return nil, err
	}
	return before, nil
}

// FindOneAndReplace finds the first document matching filter, replaces
// it with doc through ReplaceOne, and returns its pre-replace state. The
// find and the replace are two separate steps, not one transaction.
func (c *Collection) FindOneAndReplace(ctx context.Context, filter, doc map[string]any, upsert bool) (docval.Object, error) {
	before, ok, err := c.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !ok && !upsert {
		return nil, nil
	}
	if _, err := c.ReplaceOne(ctx, filter, doc, upsert); err != nil {
		return nil, err
	}
	return before, nil
}

// FindOneAndDelete finds the first document matching filter, removes it
// through DeleteOne, and returns its pre-delete state. The find and the
// delete are two separate steps, not one transaction.
func (c *Collection) FindOneAndDelete(ctx context.Context, filter map[string]any) (docval.Object, error) {
	before, ok, err := c.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if _, err := c.DeleteOne(ctx, filter); err != nil {
		return nil, err
	}
	return before, nil
}

// CountDocuments returns the exact count of documents matching filter.
func (c *Collection) CountDocuments(ctx context.Context, filter map[string]any) (int64, error) {
	where, params, ok := c.query.BuildWhere(filter)
	if !ok {
		return 0, dberrors.MalformedQuery("unsupported filter")
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM [%s]", c.Name)
	if where != "" {
		stmt += " WHERE " + where
	}
	var count int64
	if err := c.conn.DB.QueryRowContext(ctx, stmt, params...).Scan(&count); err != nil {
		return 0, dberrors.Storage(err)
	}
	return count, nil
}

// EstimatedDocumentCount returns the collection's total row count
// without applying any filter, via a plain SELECT COUNT(*) over the
// table.
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int64, error) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM [%s]", c.Name)
	var count int64
	if err := c.conn.DB.QueryRowContext(ctx, stmt).Scan(&count); err != nil {
		return 0, dberrors.Storage(err)
	}
	return count, nil
}

// Distinct returns the distinct values of field across documents
// matching filter.
func (c *Collection) Distinct(ctx context.Context, field string, filter map[string]any) ([]docval.Value, error) {
	where, params, ok := c.query.BuildWhere(filter)
	if !ok {
		return nil, dberrors.MalformedQuery("unsupported filter")
	}
	fieldSQL := c.accessor.Field(field)
	stmt := fmt.Sprintf("SELECT DISTINCT %s FROM [%s]", fieldSQL, c.Name)
	if where != "" {
		stmt += " WHERE " + where
	}
	rows, err := c.conn.DB.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, dberrors.Storage(err)
	}
	defer rows.Close()

	var out []docval.Value
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, dberrors.Storage(err)
		}
		out = append(out, docval.FromAny(raw))
	}
	return out, rows.Err()
}

// Aggregate runs pipeline through Tier-1/Tier-2/Tier-3 in order,
// returning the first tier that accepts it, per spec.md §4.7.
func (c *Collection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]docval.Object, error) {
	stages := aggregate.ParseStages(pipeline)
	x := c.aggExecutor()

	if sqlText, params, ok := x.Tier1(stages); ok {
		rows, err := c.conn.DB.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return nil, dberrors.Storage(err)
		}
		return scanDocs(rows)
	}

	if x.Tier2(stages) {
		resultTable, cleanup, err := x.Run(ctx, c.conn.DB, stages)
		defer cleanup()
		if err == nil {
			rows, err := c.conn.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", pathexpr.DataColumn, resultTable))
			if err != nil {
				return nil, dberrors.Storage(err)
			}
			return scanDocs(rows)
		}
	}

	all, err := c.Find(ctx, map[string]any{})
	if err != nil {
		return nil, err
	}
	return x.Tier3(all.ToList(), stages)
}

// AggregateRawBatches runs Aggregate and renders the whole result as one
// NDJSON batch. Per an explicitly recorded Open Question decision (see
// DESIGN.md), this matches the Python source's actual single-batch
// framing rather than a staged multi-batch protocol.
func (c *Collection) AggregateRawBatches(ctx context.Context, pipeline []map[string]any) ([]byte, error) {
	docs, err := c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return cursor.RawBatch(docs), nil
}

// BulkWrite executes requests as a single transaction, per spec.md §6's
// bulk operation model.
func (c *Collection) BulkWrite(ctx context.Context, requests []bulk.Request, ordered bool) (bulk.Result, error) {
	result, err := c.bulkExecutor().Execute(ctx, c.conn.DB, requests, ordered)
	if err != nil {
		return bulk.Result{}, dberrors.Storage(err)
	}
	return result, nil
}

// CreateIndex builds and executes a CREATE INDEX statement for paths.
func (c *Collection) CreateIndex(ctx context.Context, name string, paths []string, unique bool) error {
	stmt, err := c.schema.CreateIndex(c.Name, name, paths, unique)
	if err != nil {
		return dberrors.InvalidIdentifier(name, err.Error())
	}
	if _, err := c.conn.DB.ExecContext(ctx, stmt); err != nil {
		if dberrors.IsIntegrityViolation(err) {
			return fmt.Errorf("%w: %v", dberrors.ErrIntegrityError, err)
		}
		return dberrors.Storage(err)
	}
	return nil
}

// DropIndex drops a single named index.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	stmt, err := c.schema.DropIndex(name)
	if err != nil {
		return dberrors.InvalidIdentifier(name, err.Error())
	}
	if _, err := c.conn.DB.ExecContext(ctx, stmt); err != nil {
		return dberrors.Storage(err)
	}
	return nil
}

// DropIndexes drops every index on the collection except the implicit
// primary key.
func (c *Collection) DropIndexes(ctx context.Context) error {
	for _, idx := range c.cache.Indexes {
		if idx.Table != c.Name {
			continue
		}
		if err := c.DropIndex(ctx, idx.Name); err != nil {
			return err
		}
	}
	return nil
}

// ListIndexes returns the cached index metadata for the collection.
func (c *Collection) ListIndexes() []schema.Index {
	var out []schema.Index
	for _, idx := range c.cache.Indexes {
		if idx.Table == c.Name {
			out = append(out, idx)
		}
	}
	return out
}

// Reindex rebuilds every index on the collection via SQLite's REINDEX
// statement, useful after a bulk load or a collation change.
func (c *Collection) Reindex(ctx context.Context) error {
	stmt := fmt.Sprintf("REINDEX [%s]", c.Name)
	if _, err := c.conn.DB.ExecContext(ctx, stmt); err != nil {
		return dberrors.Storage(err)
	}
	return nil
}

// Rename renames the underlying table.
func (c *Collection) Rename(ctx context.Context, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE [%s] RENAME TO [%s]", c.Name, newName)
	if _, err := c.conn.DB.ExecContext(ctx, stmt); err != nil {
		return dberrors.Storage(err)
	}
	c.Name = newName
	return nil
}

// Drop removes the underlying table and its FTS shadow tables, if any.
func (c *Collection) Drop(ctx context.Context) error {
	stmts, err := c.schema.DropFTSStatements(c.Name)
	if err == nil {
		for _, s := range stmts {
			c.conn.DB.ExecContext(ctx, s)
		}
	}
	if _, err := c.conn.DB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS [%s]", c.Name)); err != nil {
		return dberrors.Storage(err)
	}
	c.stream.Close()
	return nil
}

// Options reports the capability/collation options in effect for this
// collection's connection, per spec.md §6's options() surface.
func (c *Collection) Options() map[string]any {
	return map[string]any{
		"jsonbSupported": c.conn.JSONBSupported,
		"regexpEnabled":  c.conn.RegexpEnabled,
		"backend":        c.conn.Backend.String(),
		"ftsEnabled":     c.cache.HasFTSIndex(c.Name),
	}
}

// Watch registers a change-stream watcher for this collection.
func (c *Collection) Watch() *changestream.Watcher {
	return c.stream.Watch()
}
