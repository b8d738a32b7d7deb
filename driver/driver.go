// Package driver implements the Capability Probe (spec.md §4.1, component
// A) and multi-backend connection opening (spec.md §6 Domain Stack). It is
// the only package that imports a concrete SQL driver.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Logger is the package's structured logger, grounded on atomicbase's
// api/tools/logger.go slog.NewJSONHandler setup. Connection-level
// diagnostics (backend chosen, capability probe results) are the only
// thing this library logs on its own; query-level logging is the
// caller's concern.
var Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// sqlite3DriverName is registered in regexp_sqlite3.go with a ConnectHook
// that binds a REGEXP function, since SQLite provides the REGEXP operator
// syntax but not its implementation (spec.md §4.2 $regex).
const sqlite3DriverName = "neosqlite_sqlite3"

// Backend identifies which concrete driver a DSN was routed to.
type Backend int

const (
	BackendSQLite3 Backend = iota // github.com/mattn/go-sqlite3 (cgo)
	BackendPure                   // modernc.org/sqlite (pure Go)
	BackendLibSQL                 // tursodatabase/libsql-client-go (remote/replica)
)

func (b Backend) String() string {
	switch b {
	case BackendSQLite3:
		return "sqlite3"
	case BackendPure:
		return "pure"
	case BackendLibSQL:
		return "libsql"
	default:
		return "unknown"
	}
}

// Executor is satisfied by both *sql.DB and *sql.Tx, letting query code
// work uniformly against a direct connection or an in-flight transaction —
// grounded on atomicbase/api/database/types.go's Executor interface.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn wraps an open database handle together with its probed
// capabilities.
type Conn struct {
	DB      *sql.DB
	Backend Backend

	JSONBSupported bool // SELECT jsonb('{}') succeeded
	RegexpEnabled  bool // an application-defined REGEXP function was registered
}

// Open parses dsn, selects the matching driver, opens the connection, and
// runs the Capability Probe. DSN scheme selection:
//
//	file:...      -> mattn/go-sqlite3 (default backend)
//	<bare path>   -> mattn/go-sqlite3
//	pure:...      -> modernc.org/sqlite
//	libsql://...  -> tursodatabase/libsql-client-go
func Open(ctx context.Context, dsn string) (*Conn, error) {
	driverName, openDSN, backend := resolveDriver(dsn)

	db, err := sql.Open(driverName, openDSN)
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", backend, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("driver: ping %s: %w", backend, err)
	}

	conn := &Conn{DB: db, Backend: backend}
	conn.JSONBSupported = probeJSONB(ctx, db)
	conn.RegexpEnabled = probeRegexp(ctx, db)

	Logger.Info("opened connection",
		"backend", backend.String(),
		"jsonbSupported", conn.JSONBSupported,
		"regexpEnabled", conn.RegexpEnabled,
	)

	return conn, nil
}

func resolveDriver(dsn string) (driverName, openDSN string, backend Backend) {
	switch {
	case strings.HasPrefix(dsn, "libsql://"):
		return "libsql", dsn, BackendLibSQL
	case strings.HasPrefix(dsn, "pure:"):
		return "sqlite", strings.TrimPrefix(dsn, "pure:"), BackendPure
	case strings.HasPrefix(dsn, "file:"):
		return sqlite3DriverName, dsn, BackendSQLite3
	default:
		return sqlite3DriverName, "file:" + dsn, BackendSQLite3
	}
}

// probeJSONB implements the Capability Probe: SELECT jsonb('{}') succeeds
// only on SQLite builds new enough to carry the binary JSONB storage
// format (3.45+). Per spec.md §4.1, this flips the per-connection flag
// deciding whether writes go through jsonb_set/jsonb_insert/... or the
// textual json_set/json_insert/... family.
func probeJSONB(ctx context.Context, db *sql.DB) bool {
	var out []byte
	err := db.QueryRowContext(ctx, `SELECT jsonb('{}')`).Scan(&out)
	return err == nil
}

// probeRegexp checks whether the REGEXP operator has a bound function,
// which SQLite does not provide by default. $regex (spec.md §4.2) falls
// back to Tier-3 when this is false.
func probeRegexp(ctx context.Context, db *sql.DB) bool {
	var out int
	err := db.QueryRowContext(ctx, `SELECT 'a' REGEXP 'a'`).Scan(&out)
	return err == nil
}

// JSONFunc returns the name of the SQL function used for reads — always
// json_extract regardless of JSONB support, since SQLite's JSONB reader
// functions still produce textual JSON on extraction (spec.md §4.1).
func (c *Conn) JSONFunc() string { return "json_extract" }

// MutatorPrefix returns "jsonb" or "json" depending on capability,
// selecting between jsonb_set/jsonb_insert/... and json_set/json_insert/...
func (c *Conn) MutatorPrefix() string {
	if c.JSONBSupported {
		return "jsonb"
	}
	return "json"
}

// DataColumnType returns the SQL type used for a collection's data column:
// JSONB when the probe succeeded, else TEXT (which SQLite treats as JSON1
// compatible via the json_extract family regardless).
func (c *Conn) DataColumnType() string {
	if c.JSONBSupported {
		return "JSONB"
	}
	return "TEXT"
}

// WriteWrap wraps a literal/value SQL parameter placeholder with the
// mutator family's constructor when writing into a JSONB column, e.g.
// jsonb(?) for a fresh document body on INSERT.
func (c *Conn) WriteWrap(expr string) string {
	if c.JSONBSupported {
		return fmt.Sprintf("jsonb(%s)", expr)
	}
	return expr
}
