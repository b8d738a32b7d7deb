package driver

import "testing"

func TestResolveDriver(t *testing.T) {
	cases := []struct {
		dsn     string
		backend Backend
	}{
		{"libsql://example.turso.io?authToken=x", BackendLibSQL},
		{"pure:/tmp/db.sqlite", BackendPure},
		{"file:/tmp/db.sqlite", BackendSQLite3},
		{"/tmp/db.sqlite", BackendSQLite3},
	}

	for _, c := range cases {
		_, _, backend := resolveDriver(c.dsn)
		if backend != c.backend {
			t.Errorf("resolveDriver(%q) backend = %v, want %v", c.dsn, backend, c.backend)
		}
	}
}

func TestConnDataColumnType(t *testing.T) {
	c := &Conn{JSONBSupported: true}
	if got := c.DataColumnType(); got != "JSONB" {
		t.Errorf("DataColumnType() = %q, want JSONB", got)
	}

	c2 := &Conn{JSONBSupported: false}
	if got := c2.DataColumnType(); got != "TEXT" {
		t.Errorf("DataColumnType() = %q, want TEXT", got)
	}
}

func TestConnWriteWrap(t *testing.T) {
	c := &Conn{JSONBSupported: true}
	if got := c.WriteWrap("?"); got != "jsonb(?)" {
		t.Errorf("WriteWrap(?) = %q, want jsonb(?)", got)
	}

	c2 := &Conn{JSONBSupported: false}
	if got := c2.WriteWrap("?"); got != "?" {
		t.Errorf("WriteWrap(?) = %q, want ?", got)
	}
}
