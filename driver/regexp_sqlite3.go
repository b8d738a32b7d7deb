package driver

import (
	"database/sql"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
)

var regexpCacheMu sync.Mutex
var regexpCache = map[string]*regexp.Regexp{}

// sqliteRegexp implements the function bound to the REGEXP operator:
// <field> REGEXP ? compiles to this call with (pattern, value) args in
// SQLite's operator-to-function mapping.
func sqliteRegexp(pattern, value string) (bool, error) {
	regexpCacheMu.Lock()
	re, ok := regexpCache[pattern]
	regexpCacheMu.Unlock()
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		re = compiled
		regexpCacheMu.Lock()
		regexpCache[pattern] = re
		regexpCacheMu.Unlock()
	}
	return re.MatchString(value), nil
}

func init() {
	sql.Register(sqlite3DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", sqliteRegexp, true)
		},
	})
}
