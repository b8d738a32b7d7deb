// Package schema implements the Index Manager (spec.md §4.6, component O):
// create/drop/list of SQL expression indexes over JSON paths (plain,
// compound, unique, FTS5), discovery of already-indexed fields from
// sqlite_master for the planner's cost estimation, and custom FTS5
// tokenizer registration.
//
// Grounded on atomicbase's schema.go/fts_queries.go: the same
// sqlite_master + pragma_table_info discovery queries, the same
// sorted-slice-plus-binary-search cache shape, generalized from typed
// SQL columns to JSON-path expression indexes over a single `data`
// column.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neosqlitego/neosqlite/config"
	"github.com/neosqlitego/neosqlite/pathexpr"
)

// Index describes one expression/compound/unique index discovered from,
// or about to be created in, sqlite_master.
type Index struct {
	Name   string   // sqlite index name
	Table  string   // collection (table) name
	Paths  []string // dotted JSON paths, in column order (len>1 == compound)
	Unique bool
}

// Cache is the in-memory schema snapshot, grounded on atomicbase's
// SchemaCache: sorted slices searched by binary search rather than maps,
// so equality/ordering is deterministic across reloads.
type Cache struct {
	Tables    []string // sorted collection names
	Indexes   []Index  // sorted by Table, then index Name
	FTSTables []string // sorted; collection names with a companion _fts table
}

// SearchTables reports whether a collection is known to the cache.
func (c Cache) SearchTables(table string) bool {
	left, right := 0, len(c.Tables)-1
	for left <= right {
		mid := (left + right) / 2
		switch {
		case c.Tables[mid] == table:
			return true
		case c.Tables[mid] < table:
			left = mid + 1
		default:
			right = mid - 1
		}
	}
	return false
}

// HasFTSIndex reports whether table has a synced FTS5 companion table.
func (c Cache) HasFTSIndex(table string) bool {
	left, right := 0, len(c.FTSTables)-1
	for left <= right {
		mid := (left + right) / 2
		switch {
		case c.FTSTables[mid] == table:
			return true
		case c.FTSTables[mid] < table:
			left = mid + 1
		default:
			right = mid - 1
		}
	}
	return false
}

// IndexedPaths returns the set of dotted paths carrying a single-column
// index on table, for the planner's cost estimation (spec.md §4.6).
// Compound indexes contribute under the tuple key joined with ",",
// matching the planner's lookup convention.
func (c Cache) IndexedPaths(table string) map[string]bool {
	paths := make(map[string]bool)
	for _, idx := range c.Indexes {
		if idx.Table != table {
			continue
		}
		paths[strings.Join(idx.Paths, ",")] = true
	}
	return paths
}

// Manager executes DDL against a connection and keeps Cache current.
type Manager struct {
	Accessor pathexpr.Accessor
}

// New returns a Manager bound to a connection's field accessor.
func New(accessor pathexpr.Accessor) Manager {
	return Manager{Accessor: accessor}
}

// indexExprRE extracts the json_extract(...) dotted paths a
// `CREATE INDEX ... ON tbl(json_extract(data,'$."a"."b"'), ...)` DDL
// string encodes, for schema discovery from sqlite_master.
var indexExprRE = regexp.MustCompile(`json_extract\(data,'\$((?:\."[^"]*")*)'\)`)

var pathSegRE = regexp.MustCompile(`\."([^"]*)"`)

// Discover rebuilds a Cache from sqlite_master, the way atomicbase's
// schemaCols/schemaFTS build SchemaCache, generalized to parse expression
// index DDL text instead of typed column metadata.
func Discover(ctx context.Context, db *sql.DB) (Cache, error) {
	var cache Cache

	tableRows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name ASC
	`)
	if err != nil {
		return cache, err
	}
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			tableRows.Close()
			return cache, err
		}
		cache.Tables = append(cache.Tables, name)
	}
	if err := tableRows.Err(); err != nil {
		return cache, err
	}
	tableRows.Close()

	idxRows, err := db.QueryContext(ctx, `
		SELECT tbl_name, name, sql FROM sqlite_master
		WHERE type = 'index' AND sql IS NOT NULL
		ORDER BY tbl_name ASC, name ASC
	`)
	if err != nil {
		return cache, err
	}
	for idxRows.Next() {
		var tbl, name, ddl string
		if err := idxRows.Scan(&tbl, &name, &ddl); err != nil {
			idxRows.Close()
			return cache, err
		}
		paths := parseIndexPaths(ddl)
		if len(paths) == 0 {
			continue
		}
		cache.Indexes = append(cache.Indexes, Index{
			Name:   name,
			Table:  tbl,
			Paths:  paths,
			Unique: strings.Contains(strings.ToUpper(ddl), "CREATE UNIQUE INDEX"),
		})
	}
	if err := idxRows.Err(); err != nil {
		return cache, err
	}
	idxRows.Close()

	ftsRows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND sql LIKE '%fts5%'
		ORDER BY name ASC
	`)
	if err != nil {
		return cache, err
	}
	defer ftsRows.Close()
	for ftsRows.Next() {
		var name string
		if err := ftsRows.Scan(&name); err != nil {
			return cache, err
		}
		if strings.HasSuffix(name, ftsSuffix) {
			cache.FTSTables = append(cache.FTSTables, strings.TrimSuffix(name, ftsSuffix))
		}
	}
	sort.Strings(cache.FTSTables)

	return cache, ftsRows.Err()
}

// parseIndexPaths extracts the dotted JSON paths encoded in a
// json_extract-based index's CREATE INDEX DDL, in column order.
func parseIndexPaths(ddl string) []string {
	matches := indexExprRE.FindAllStringSubmatch(ddl, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		segs := pathSegRE.FindAllStringSubmatch(m[1], -1)
		parts := make([]string, 0, len(segs))
		for _, s := range segs {
			parts = append(parts, s[1])
		}
		paths = append(paths, strings.Join(parts, "."))
	}
	return paths
}

const ftsSuffix = "_fts"

// CreateIndex builds and validates (via ValidateDDL) a `CREATE [UNIQUE]
// INDEX ... ON table(json_extract(data,'$.path'), ...)` statement for one
// or more dotted paths (len>1 builds a compound index), but does not
// execute it — callers run it through their own connection/transaction
// and then call Discover to refresh the cache, matching the teacher's
// separation between query-builder and executor.
func (m Manager) CreateIndex(table, name string, paths []string, unique bool) (string, error) {
	if err := validateIdentifier(table); err != nil {
		return "", err
	}
	if err := validateIdentifier(name); err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("schema: at least one path required for index %s", name)
	}

	exprs := make([]string, len(paths))
	for i, p := range paths {
		exprs[i] = m.Accessor.Field(p)
	}

	uniqueKw := ""
	if unique {
		uniqueKw = "UNIQUE "
	}
	ddl := fmt.Sprintf("CREATE %sINDEX [%s] ON [%s](%s)", uniqueKw, name, table, strings.Join(exprs, ", "))
	if err := ValidateDDL(ddl); err != nil {
		return "", err
	}
	return ddl, nil
}

// DropIndex returns the `DROP INDEX` statement for an index name.
func (m Manager) DropIndex(name string) (string, error) {
	if err := validateIdentifier(name); err != nil {
		return "", err
	}
	ddl := fmt.Sprintf("DROP INDEX IF EXISTS [%s]", name)
	return ddl, ValidateDDL(ddl)
}

// FTSStatements builds the CREATE VIRTUAL TABLE + sync-trigger statements
// for a full-text index over the given top-level fields, mirroring
// atomicbase's CreateFTSIndex almost exactly (columns are quoted
// bracket-identifiers, external-content mode keyed by rowid) but with an
// optional tokenizer clause sourced from config.Tokenizers.
func (m Manager) FTSStatements(table string, columns []string, tokenizer string) ([]string, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema: at least one column required for FTS index on %s", table)
	}
	for _, c := range columns {
		if err := validateIdentifier(c); err != nil {
			return nil, err
		}
	}
	if tokenizer != "" && !m.tokenizerRegistered(tokenizer) {
		return nil, fmt.Errorf("schema: tokenizer %q is not registered in config.Tokenizers", tokenizer)
	}

	ftsTable := table + ftsSuffix
	colList := "[" + strings.Join(columns, "], [") + "]"
	newCols := "new.[" + strings.Join(columns, "], new.[") + "]"
	oldCols := "old.[" + strings.Join(columns, "], old.[") + "]"

	tokenizerClause := ""
	if tokenizer != "" {
		tokenizerClause = fmt.Sprintf(", tokenize='%s'", tokenizer)
	}

	createFTS := fmt.Sprintf(
		"CREATE VIRTUAL TABLE [%s] USING fts5(%s, content='%s', content_rowid='rowid'%s)",
		ftsTable, colList, table, tokenizerClause,
	)
	populate := fmt.Sprintf("INSERT INTO [%s](rowid, %s) SELECT rowid, %s FROM [%s]", ftsTable, colList, colList, table)
	insertTrigger := fmt.Sprintf(
		"CREATE TRIGGER [%s_fts_ai] AFTER INSERT ON [%s] BEGIN INSERT INTO [%s](rowid, %s) VALUES (new.rowid, %s); END",
		table, table, ftsTable, colList, newCols,
	)
	deleteTrigger := fmt.Sprintf(
		"CREATE TRIGGER [%s_fts_ad] AFTER DELETE ON [%s] BEGIN INSERT INTO [%s]([%s], rowid, %s) VALUES('delete', old.rowid, %s); END",
		table, table, ftsTable, ftsTable, colList, oldCols,
	)
	updateTrigger := fmt.Sprintf(
		"CREATE TRIGGER [%s_fts_au] AFTER UPDATE ON [%s] BEGIN "+
			"INSERT INTO [%s]([%s], rowid, %s) VALUES('delete', old.rowid, %s); "+
			"INSERT INTO [%s](rowid, %s) VALUES (new.rowid, %s); END",
		table, table, ftsTable, ftsTable, colList, oldCols, ftsTable, colList, newCols,
	)

	stmts := []string{createFTS, populate, insertTrigger, deleteTrigger, updateTrigger}
	for _, s := range stmts {
		if err := ValidateDDL(s); err != nil {
			return nil, err
		}
	}
	return stmts, nil
}

// DropFTSStatements returns the statements dropping an FTS index and its
// sync triggers.
func (m Manager) DropFTSStatements(table string) ([]string, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}
	ftsTable := table + ftsSuffix
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS [%s_fts_ai]", table),
		fmt.Sprintf("DROP TRIGGER IF EXISTS [%s_fts_ad]", table),
		fmt.Sprintf("DROP TRIGGER IF EXISTS [%s_fts_au]", table),
		fmt.Sprintf("DROP TABLE IF EXISTS [%s]", ftsTable),
	}, nil
}

func (m Manager) tokenizerRegistered(name string) bool {
	for _, t := range config.Cfg.Tokenizers {
		if t.Name == name {
			return true
		}
	}
	return false
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateIdentifier rejects table/index/column names that aren't a
// plain identifier, closing off SQL injection through names that end up
// interpolated into generated DDL — atomicbase's ValidateIdentifier does
// the same check ahead of its own bracket-quoting.
func validateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("schema: invalid identifier %q", name)
	}
	return nil
}
