// Package testutil provides a fake database/sql driver for postgres store
// tests. It models only the bucket/payload state table: the DDL, the bucket
// upsert and the full-table select.
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

	"github.com/pkg/errors"
)

var driverSeq atomic.Int64

// StubConn is a single fake connection holding the state table in memory.
// Upserts issued inside a transaction become visible on commit.
type StubConn struct {
	// Execs lists every statement passed to ExecContext, in order.
	Execs []string
	// State maps bucket name to its committed payload.
	State map[string][]byte

	FailExec   bool
	FailUpsert bool
	FailBegin  bool
	FailCommit bool
	// RowsErr is returned once the select has yielded every row.
	RowsErr error

	staged map[string][]byte
}

// NewStubDB registers a fresh driver and returns a sql.DB over its connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{State: map[string][]byte{}}
	name := fmt.Sprintf("hujra-stubpg-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the context fast paths.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.Errorf("prepare unsupported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("begin failed")
	}
	c.staged = map[string][]byte{}
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("exec failed")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE") {
		return driver.RowsAffected(0), nil
	}
	if c.FailUpsert {
		return nil, errors.New("upsert failed")
	}
	if len(args) != 2 {
		return nil, errors.Errorf("upsert wants bucket and payload, got %d args", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, errors.Errorf("bucket must be a string, got %T", args[0].Value)
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return nil, errors.Errorf("payload must be bytes, got %T", args[1].Value)
	}
	target := c.State
	if c.staged != nil {
		target = c.staged
	}
	target[bucket] = append([]byte(nil), payload...)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for the state select.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT BUCKET, PAYLOAD FROM STATE") {
		return nil, errors.Errorf("unexpected query: %s", query)
	}
	names := make([]string, 0, len(c.State))
	for name := range c.State {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stubRows{err: c.RowsErr}
	for _, name := range names {
		rows.rows = append(rows.rows, []driver.Value{name, c.State[name]})
	}
	return rows, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	staged := t.conn.staged
	t.conn.staged = nil
	if t.conn.FailCommit {
		return errors.New("commit failed")
	}
	for name, payload := range staged {
		t.conn.State[name] = payload
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.staged = nil
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
