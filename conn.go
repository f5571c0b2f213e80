// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
	"go.uber.org/multierr"
	"go4.org/mem"
)

// sqliteConn is one physical connection. All use of the underlying handle
// is serialized through mu; the router hands a conn to exactly one logical
// operation at a time, but pinned connections (transaction, callback) can
// be targeted by concurrent callers and rely on this lock.
type sqliteConn struct {
	mu    sync.Mutex
	conn  *sqlite0.Conn
	cache *queryCache
	qb    *queryBuilder
	err   error // sticky: set when the connection can no longer be trusted
}

// Result reports the engine counters after a DML/DDL statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// openConn opens and bootstraps one physical connection per the session
// options. PRAGMA bootstrap runs here and only here, so every connection
// the pool or the pinned slots ever see is configured identically.
func openConn(opt *Options) (*sqliteConn, error) {
	flags := opt.Flags
	if flags == 0 {
		flags = sqlite0.OpenReadWrite | sqlite0.OpenCreate
	}
	flags |= sqlite0.OpenNoMutex // serialization is ours

	conn, err := sqlite0.Open(opt.Path, flags)
	if err != nil {
		return nil, err
	}

	err = conn.SetBusyTimeout(opt.BusyTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set DB busy timeout to %v: %w", opt.BusyTimeout, err)
	}

	if opt.PageSize > 0 {
		err = conn.Exec(fmt.Sprintf("PRAGMA page_size=%d", opt.PageSize))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set DB page size to %d: %w", opt.PageSize, err)
		}
	}

	err = conn.Exec(fmt.Sprintf("PRAGMA cache_size=-%d", opt.CacheKB))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to change DB cache size to %dKB: %w", opt.CacheKB, err)
	}

	if opt.APPID != 0 {
		err = conn.Exec(fmt.Sprintf("PRAGMA application_id=%d", opt.APPID))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set DB app ID %d: %w", opt.APPID, err)
		}
	}

	if opt.WAL {
		err = conn.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable DB WAL mode: %w", err)
		}
	}

	for _, p := range opt.Pragmas {
		err = conn.Exec(fmt.Sprintf("PRAGMA %s=%s", p.Name, p.Value))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply PRAGMA %s=%s: %w", p.Name, p.Value, err)
		}
	}

	return &sqliteConn{
		conn:  conn,
		cache: newQueryCache(opt.CacheMaxSizePerConn, opt.Logger),
		qb:    &queryBuilder{},
	}, nil
}

func (c *sqliteConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.err
	c.err = ErrClosed
	c.cache.close(&err)
	multierr.AppendInto(&err, c.conn.Close())
	return err
}

// prepareLocked builds the final query text, fetches or prepares the
// statement, and binds args. Caller holds c.mu.
func (c *sqliteConn) prepareLocked(sqlStr string, args []Arg) (*sqlite0.Stmt, error) {
	if c.err != nil {
		return nil, c.err
	}
	sqlBytes, err := c.qb.BuildQuery(mem.S(sqlStr), args...)
	if err != nil {
		return nil, programming("build_query", err)
	}
	key := calcHashBytes(sqlBytes)
	si, ok := c.cache.get(key)
	if !ok {
		var tail []byte
		si, tail, err = c.conn.Prepare(sqlBytes, true)
		if err != nil {
			return nil, err
		}
		if si == nil {
			return nil, programming("prepare", fmt.Errorf("query %q contains no statement", sqlStr))
		}
		if !tailEmpty(tail) {
			_ = si.Close()
			return nil, programming("prepare", fmt.Errorf("query %q contains more than one statement", sqlStr))
		}
		c.cache.put(key, si)
	} else {
		if err := si.Reset(); err != nil {
			return nil, err
		}
		if err := si.ClearBindings(); err != nil {
			return nil, err
		}
	}
	return bindParam(si, c.qb, args...)
}

func tailEmpty(tail []byte) bool {
	for _, ch := range tail {
		switch ch {
		case 0, ' ', '\t', '\n', '\r', ';':
		default:
			return false
		}
	}
	return true
}

func (c *sqliteConn) queryLocked(ctx context.Context, stats *StatsOptions, typ, name, sqlStr string, args ...Arg) Rows {
	start := time.Now()
	s, err := c.prepareLocked(sqlStr, args)
	return Rows{c: c, s: s, err: err, ctx: ctx, name: name, start: start, stats: stats, typ: typ}
}

func (c *sqliteConn) execLocked(ctx context.Context, stats *StatsOptions, name, sqlStr string, args ...Arg) (Result, error) {
	rows := c.queryLocked(ctx, stats, exec, name, sqlStr, args...)
	for rows.Next() {
	}
	rows.close()
	if err := rows.Error(); err != nil {
		return Result{}, err
	}
	return Result{
		LastInsertID: c.conn.LastInsertRowID(),
		RowsAffected: c.conn.RowsAffected(),
	}, nil
}

// Rows iterates the result of one statement on a locked connection. It is
// always fully driven and closed before the connection lock is released.
type Rows struct {
	c     *sqliteConn
	s     *sqlite0.Stmt
	err   error
	ctx   context.Context
	name  string
	start time.Time
	stats *StatsOptions
	typ   string
}

func (r *Rows) Error() error {
	return r.err
}

func (r *Rows) Next() bool {
	if r.err != nil {
		return false
	}
	if r.ctx != nil {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return false
		}
	}
	row, err := r.s.Step()
	if err != nil {
		r.err = err
	}
	return row
}

func (r *Rows) close() {
	if r.s != nil {
		_ = r.s.Reset()
	}
	if r.stats != nil {
		r.stats.measureQueryDurationSince(r.typ, r.name, r.start)
	}
	r.c.cache.shrink()
}

// scanRow decodes the current row into host values by fundamental column
// type: int64, float64, string, []byte or nil.
func (r *Rows) scanRow() ([]any, error) {
	n := r.s.ColumnCount()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		switch r.s.ColumnType(i) {
		case sqlite0.TypeInteger:
			out[i] = r.s.ColumnInt64(i)
		case sqlite0.TypeFloat:
			out[i] = r.s.ColumnFloat64(i)
		case sqlite0.TypeText:
			v, err := r.s.ColumnBlobString(i)
			if err != nil {
				return nil, err
			}
			out[i] = v
		case sqlite0.TypeBlob:
			v, err := r.s.ColumnBlob(i, nil)
			if err != nil {
				return nil, err
			}
			out[i] = v
		default:
			out[i] = nil
		}
	}
	return out, nil
}

func (r *Rows) ColumnBlob(i int, buf []byte) ([]byte, error) {
	return r.s.ColumnBlob(i, buf)
}

func (r *Rows) ColumnBlobString(i int) (string, error) {
	return r.s.ColumnBlobString(i)
}

func (r *Rows) ColumnIsNull(i int) bool {
	return r.s.ColumnNull(i)
}

func (r *Rows) ColumnInt64(i int) int64 {
	return r.s.ColumnInt64(i)
}

func (r *Rows) ColumnFloat64(i int) float64 {
	return r.s.ColumnFloat64(i)
}
