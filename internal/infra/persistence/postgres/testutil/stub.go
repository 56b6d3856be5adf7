// Package testutil provides a stub database/sql driver that understands the
// statements the postgres store issues against its kv table.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

// StubConn keeps the kv table as a map from key to value and records every
// statement it executes.
type StubConn struct {
	KV         map[string]string
	Execs      []string
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailExec   bool
}

var stubSeq atomic.Int64

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{KV: make(map[string]string)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return stubTx{conn: c}, nil
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext handles the table DDL, the upsert and the delete. Any other
// statement is an error.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	stmt := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS KV"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO KV(KEY,VALUE)") && strings.Contains(stmt, "ON CONFLICT(KEY) DO UPDATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
		}
		c.KV[text(args[0].Value)] = text(args[1].Value)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(stmt, "DELETE FROM KV WHERE KEY = $1"):
		if len(args) != 1 {
			return nil, fmt.Errorf("stub: delete wants 1 arg, got %d", len(args))
		}
		key := text(args[0].Value)
		if _, ok := c.KV[key]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.KV, key)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("stub: unexpected statement: %s", query)
}

// QueryContext serves the full table scan ordered by key.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if strings.ToUpper(strings.Join(strings.Fields(query), " ")) != "SELECT KEY, VALUE FROM KV" {
		return nil, fmt.Errorf("stub: unexpected query: %s", query)
	}
	keys := make([]string, 0, len(c.KV))
	for k := range c.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := &stubRows{}
	for _, k := range keys {
		rows.rows = append(rows.rows, []driver.Value{[]byte(k), []byte(c.KV[k])})
	}
	return rows, nil
}

func text(v driver.Value) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	return fmt.Sprint(v)
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}

func (stubTx) Rollback() error { return nil }

type stubRows struct {
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return []string{"key", "value"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
