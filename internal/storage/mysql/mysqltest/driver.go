// Package mysqltest provides a scripted database/sql driver for tests that
// need to assert the exact statements a repository issues.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Kind 标识一次预期的数据库操作。
type Kind int

const (
	KindExec Kind = iota
	KindQuery
	KindBegin
	KindCommit
	KindRollback
)

// Op 是脚本中的一步。
type Op struct {
	Kind         Kind
	Query        string
	LastInsertID int64
	RowsAffected int64
	Columns      []string
	Rows         [][]driver.Value
	Err          error
}

// Exec 返回预期的写操作。
func Exec(query string, rowsAffected int64) Op {
	return Op{Kind: KindExec, Query: query, RowsAffected: rowsAffected}
}

// ExecErr 返回执行失败的写操作。
func ExecErr(query string, err error) Op {
	return Op{Kind: KindExec, Query: query, Err: err}
}

// Query 返回预期的查询及其结果集。
func Query(query string, columns []string, rows ...[]driver.Value) Op {
	return Op{Kind: KindQuery, Query: query, Columns: columns, Rows: rows}
}

// Begin 返回开启事务操作。
func Begin() Op { return Op{Kind: KindBegin} }

// Commit 返回提交事务操作。
func Commit() Op { return Op{Kind: KindCommit} }

// Rollback 返回回滚事务操作。
func Rollback() Op { return Op{Kind: KindRollback} }

// Call 记录一次实际执行的语句与参数。
type Call struct {
	Query string
	Args  []driver.Value
}

// Driver 按顺序校验实际操作是否与脚本一致。
type Driver struct {
	ops []Op
	idx atomic.Int32

	mu    sync.Mutex
	calls []Call
}

var driverSeq atomic.Int32

// Open 注册一个新的脚本驱动并返回连接池。
func Open(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed 确认脚本中的操作全部被执行。
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if int(d.idx.Load()) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx.Load(), len(d.ops))
	}
}

// Calls 返回已执行的语句与参数。
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Open 实现 driver.Driver。
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected Kind, query string, args []driver.NamedValue) (*Op, error) {
	idx := int(d.idx.Load())
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation %d: %s", expected, query)
	}
	op := &d.ops[idx]
	if op.Kind != expected {
		return nil, fmt.Errorf("expected operation %d, got %d", op.Kind, expected)
	}
	d.idx.Add(1)
	if op.Query != "" && Normalize(op.Query) != Normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", Normalize(op.Query), Normalize(query))
	}
	if expected == KindExec || expected == KindQuery {
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		d.mu.Lock()
		d.calls = append(d.calls, Call{Query: Normalize(query), Args: values})
		d.mu.Unlock()
	}
	return op, op.Err
}

// Normalize 合并 SQL 中的空白字符。
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.driver.next(KindBegin, "", nil); err != nil {
		return nil, err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(KindExec, query, args)
	if err != nil {
		return nil, err
	}
	return result{lastInsertID: op.LastInsertID, rowsAffected: op.RowsAffected}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(KindQuery, query, args)
	if err != nil {
		return nil, err
	}
	return &rows{columns: op.Columns, values: op.Rows}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

// CheckNamedValue 接受任意参数类型，由测试自行断言。
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	_, err := t.driver.next(KindCommit, "", nil)
	return err
}

func (t *tx) Rollback() error {
	_, err := t.driver.next(KindRollback, "", nil)
	return err
}

type result struct {
	lastInsertID int64
	rowsAffected int64
}

func (r result) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r result) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}
