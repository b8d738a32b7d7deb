package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neosqlitego/neosqlite/pathexpr"
)

func TestSearchTables(t *testing.T) {
	c := Cache{Tables: []string{"a", "b", "c"}}
	require.True(t, c.SearchTables("b"))
	require.False(t, c.SearchTables("z"))
	require.False(t, Cache{}.SearchTables("x"))
}

func TestHasFTSIndex(t *testing.T) {
	c := Cache{FTSTables: []string{"articles", "posts", "users"}}
	require.True(t, c.HasFTSIndex("articles"))
	require.True(t, c.HasFTSIndex("users"))
	require.False(t, c.HasFTSIndex("comments"))
	require.False(t, c.HasFTSIndex(""))
}

func TestParseIndexPaths(t *testing.T) {
	ddl := `CREATE INDEX [idx_category] ON [products](json_extract(data,'$."category"'))`
	paths := parseIndexPaths(ddl)
	require.Equal(t, []string{"category"}, paths)
}

func TestParseIndexPathsCompound(t *testing.T) {
	ddl := `CREATE UNIQUE INDEX [idx_a_b] ON [t](json_extract(data,'$."a"'), json_extract(data,'$."b"."c"'))`
	paths := parseIndexPaths(ddl)
	require.Equal(t, []string{"a", "b.c"}, paths)
}

func TestIndexedPaths(t *testing.T) {
	c := Cache{Indexes: []Index{
		{Table: "products", Paths: []string{"category"}},
		{Table: "products", Paths: []string{"sku", "region"}},
		{Table: "users", Paths: []string{"email"}},
	}}
	got := c.IndexedPaths("products")
	require.True(t, got["category"])
	require.True(t, got["sku,region"])
	require.False(t, got["email"])
}

func TestCreateIndex(t *testing.T) {
	m := New(pathexpr.New(false))
	ddl, err := m.CreateIndex("products", "idx_category", []string{"category"}, false)
	require.NoError(t, err)
	require.Equal(t, `CREATE INDEX [idx_category] ON [products](json_extract(data,'$."category"'))`, ddl)
}

func TestCreateIndexCompoundUnique(t *testing.T) {
	m := New(pathexpr.New(false))
	ddl, err := m.CreateIndex("t", "idx_a_b", []string{"a", "b.c"}, true)
	require.NoError(t, err)
	require.Contains(t, ddl, "CREATE UNIQUE INDEX")
	require.Contains(t, ddl, `json_extract(data,'$."a"')`)
	require.Contains(t, ddl, `json_extract(data,'$."b"."c"')`)
}

func TestCreateIndexRejectsBadTableName(t *testing.T) {
	m := New(pathexpr.New(false))
	_, err := m.CreateIndex("products; DROP TABLE x", "idx", []string{"a"}, false)
	require.Error(t, err)
}

func TestCreateIndexRequiresPath(t *testing.T) {
	m := New(pathexpr.New(false))
	_, err := m.CreateIndex("t", "idx", nil, false)
	require.Error(t, err)
}

func TestDropIndex(t *testing.T) {
	m := New(pathexpr.New(false))
	ddl, err := m.DropIndex("idx_category")
	require.NoError(t, err)
	require.Equal(t, "DROP INDEX IF EXISTS [idx_category]", ddl)
}

func TestFTSStatements(t *testing.T) {
	m := New(pathexpr.New(false))
	stmts, err := m.FTSStatements("articles", []string{"title", "body"}, "")
	require.NoError(t, err)
	require.Len(t, stmts, 5)
	require.Contains(t, stmts[0], "CREATE VIRTUAL TABLE [articles_fts] USING fts5")
	require.Contains(t, stmts[2], "articles_fts_ai")
	require.Contains(t, stmts[3], "articles_fts_ad")
	require.Contains(t, stmts[4], "articles_fts_au")
}

func TestFTSStatementsRejectsUnregisteredTokenizer(t *testing.T) {
	m := New(pathexpr.New(false))
	_, err := m.FTSStatements("articles", []string{"title"}, "porter_unicode61_custom")
	require.Error(t, err)
}

func TestDropFTSStatements(t *testing.T) {
	m := New(pathexpr.New(false))
	stmts, err := m.DropFTSStatements("articles")
	require.NoError(t, err)
	require.Len(t, stmts, 4)
	require.Contains(t, stmts[3], "articles_fts")
}

func TestValidateIdentifierRejectsInjection(t *testing.T) {
	require.Error(t, validateIdentifier("a; DROP TABLE users--"))
	require.NoError(t, validateIdentifier("valid_name"))
}
