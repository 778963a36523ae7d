// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
package fakedb // import "github.com/cfangmeier/pxar/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var state struct {
	mu     sync.Mutex
	rows   Rows
	execs  [][]driver.Value
	lastID int64
}

// Run runs f with the given result set wired into the fake driver.
// All queries issued by f see that result set; the arguments of all
// statements executed by f are recorded and returned.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) ([][]driver.Value, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rows = rows
	state.execs = nil

	err := f(ctx)
	return state.execs, err
}

// SetLastInsertID sets the insert id reported by subsequent
// statements.
func SetLastInsertID(id int64) {
	state.lastID = id
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

type Stmt struct{}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: the fake driver does not know (nor check) the
// number of placeholders.
func (stmt *Stmt) NumInput() int {
	return -1
}

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	state.execs = append(state.execs, args)
	return result{id: state.lastID}, nil
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &state.rows, nil
}

type result struct {
	id int64
}

func (r result) LastInsertId() (int64, error) { return r.id, nil }
func (r result) RowsAffected() (int64, error) { return 1, nil }

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

// Next returns io.EOF once the canned result set is exhausted.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Result = result{}
	_ driver.Rows   = (*Rows)(nil)
)
