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
)

// Session is the single entry point to one database. It routes every
// operation to exactly one physical connection, chosen fresh per call:
// the transaction-pinned conn if a transaction is active, else the
// callback-pinned conn if any native callback is registered, else a
// transient pool conn returned when the call completes.
//
// All methods are safe for concurrent use. Callbacks registered through
// the session must not issue session operations themselves: they run on
// a locked connection, re-entering would deadlock.
type Session struct {
	opt   Options
	stats *StatsOptions
	pool  *connPool

	readyMu    sync.Mutex
	readyState int
	readyCh    chan struct{}
	readyErr   error

	mu     sync.Mutex // routing state only, never held across engine calls
	closed bool
	tx     *txState
	cb     *callbackState
}

type txState struct {
	conn         *sqliteConn
	fromCallback bool
	ending       bool // claimed by a Commit/Rollback in flight
}

type callbackState struct {
	conn       *sqliteConn
	funcs      map[string]int // name -> arity
	trace      bool
	authorizer bool
	progress   bool
	loadExt    bool

	// releasePending marks a callback conn whose last registration was
	// cleared while a transaction had it borrowed. It is closed when the
	// transaction ends.
	releasePending bool
}

func (cb *callbackState) empty() bool {
	return len(cb.funcs) == 0 && !cb.trace && !cb.authorizer && !cb.progress && !cb.loadExt
}

const (
	readyNew = iota
	readyRunning
	readyDone
)

var logHookOnce sync.Once

// Open prepares a session. No connection is opened until the first
// operation: the pool fills lazily and the init hook, if set, runs
// exactly once before the first routed operation completes.
func Open(opt Options) (*Session, error) {
	opt.setDefaults()
	if opt.Path == "" {
		return nil, programming("open", fmt.Errorf("database path is empty"))
	}
	logger := opt.Logger
	logHookOnce.Do(func() {
		sqlite0.SetLogf(func(code int, msg string) {
			logger.Printf("[sqlite] engine error (%d): %s", code, msg)
		})
	})
	s := &Session{opt: opt}
	s.stats = &s.opt.StatsOptions
	s.pool = newConnPool(&s.opt)
	return s, nil
}

// initCtxKey marks contexts originating inside the init hook, so hook
// operations route without waiting for the hook they run in.
type initCtxKey struct{}

func (s *Session) ensureReady(ctx context.Context) error {
	if ctx.Value(initCtxKey{}) != nil {
		return nil
	}
	s.readyMu.Lock()
	for {
		switch s.readyState {
		case readyDone:
			err := s.readyErr
			s.readyMu.Unlock()
			return err
		case readyRunning:
			ch := s.readyCh
			s.readyMu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.readyMu.Lock()
		default:
			s.readyState = readyRunning
			s.readyCh = make(chan struct{})
			s.readyMu.Unlock()

			var err error
			if s.opt.Init != nil {
				err = s.opt.Init(context.WithValue(ctx, initCtxKey{}, struct{}{}), s)
				if err != nil {
					err = fmt.Errorf("init hook failed: %w", err)
				}
			}

			s.readyMu.Lock()
			if err != nil && ctx.Err() != nil {
				// The first caller went away mid-hook. That is not a hook
				// failure, let the next caller run it.
				s.readyState = readyNew
			} else {
				s.readyState = readyDone
				s.readyErr = err
			}
			close(s.readyCh)
			s.readyMu.Unlock()
			return err
		}
	}
}

// route picks the connection for one operation. The returned release
// func must be called after the conn lock is dropped; it is a no-op for
// pinned connections.
func (s *Session) route(ctx context.Context) (*sqliteConn, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if s.tx != nil {
		c := s.tx.conn
		s.mu.Unlock()
		return c, func() {}, nil
	}
	if s.cb != nil {
		c := s.cb.conn
		s.mu.Unlock()
		return c, func() {}, nil
	}
	s.mu.Unlock()

	start := time.Now()
	c, err := s.pool.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.stats.measureWaitDurationSince(waitPool, start)
	return c, func() { s.pool.release(c) }, nil
}

func (s *Session) withConn(ctx context.Context, op string, fn func(c *sqliteConn) error) error {
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	conn, release, err := s.route(ctx)
	if err != nil {
		return classify(op, err)
	}
	start := time.Now()
	conn.mu.Lock()
	s.stats.measureWaitDurationSince(waitConn, start)
	err = fn(conn)
	conn.mu.Unlock()
	release()
	return classify(op, err)
}

// Execute runs one DML/DDL statement. name tags metrics and must stay
// low-cardinality; args bind positionally, or use typed Arg values for
// named parameters.
func (s *Session) Execute(ctx context.Context, name, sql string, args ...any) (Result, error) {
	var res Result
	err := s.withConn(ctx, "execute", func(c *sqliteConn) error {
		var err error
		res, err = c.execLocked(ctx, s.stats, name, sql, Params(args...)...)
		return err
	})
	return res, err
}

// ExecuteMany runs the same statement once per arg set, on a single
// routed connection. It does not open a transaction of its own; wrap it
// in Begin/Commit for atomicity.
func (s *Session) ExecuteMany(ctx context.Context, name, sql string, argSets ...[]any) (Result, error) {
	var total Result
	err := s.withConn(ctx, "execute_many", func(c *sqliteConn) error {
		for _, set := range argSets {
			res, err := c.execLocked(ctx, s.stats, name, sql, Params(set...)...)
			if err != nil {
				return err
			}
			total.LastInsertID = res.LastInsertID
			total.RowsAffected += res.RowsAffected
		}
		return nil
	})
	return total, err
}

// FetchAll returns every row, decoded per column into int64, float64,
// string, []byte or nil.
func (s *Session) FetchAll(ctx context.Context, name, sql string, args ...any) ([][]any, error) {
	var out [][]any
	err := s.withConn(ctx, "fetch_all", func(c *sqliteConn) error {
		rows := c.queryLocked(ctx, s.stats, query, name, sql, Params(args...)...)
		defer rows.close()
		for rows.Next() {
			row, err := rows.scanRow()
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Error()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOne requires exactly one row. Zero rows fail with ErrNoRows, two
// or more with ErrTooManyRows, both as programming errors.
func (s *Session) FetchOne(ctx context.Context, name, sql string, args ...any) ([]any, error) {
	rows, err := s.fetchUpTo(ctx, "fetch_one", name, sql, args)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, programming("fetch_one", ErrNoRows)
	case 1:
		return rows[0], nil
	default:
		return nil, programming("fetch_one", ErrTooManyRows)
	}
}

// FetchOptional requires at most one row; zero rows yield (nil, nil).
func (s *Session) FetchOptional(ctx context.Context, name, sql string, args ...any) ([]any, error) {
	rows, err := s.fetchUpTo(ctx, "fetch_optional", name, sql, args)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, programming("fetch_optional", ErrTooManyRows)
	}
}

// fetchUpTo reads at most two rows, enough to distinguish zero, one and
// many without draining a large result.
func (s *Session) fetchUpTo(ctx context.Context, op, name, sql string, args []any) ([][]any, error) {
	var out [][]any
	err := s.withConn(ctx, op, func(c *sqliteConn) error {
		rows := c.queryLocked(ctx, s.stats, query, name, sql, Params(args...)...)
		defer rows.close()
		for len(out) < 2 && rows.Next() {
			row, err := rows.scanRow()
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Error()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetPragma applies a PRAGMA on the routed connection. Outside a
// transaction or callback registration this affects one pool conn only;
// durable settings belong in Options.Pragmas.
func (s *Session) SetPragma(ctx context.Context, name, value string) error {
	return s.withConn(ctx, "set_pragma", func(c *sqliteConn) error {
		_, err := c.execLocked(ctx, s.stats, "pragma", fmt.Sprintf("PRAGMA %s=%s", name, value))
		return err
	})
}

// Close shuts the session down. An active transaction is rolled back
// best effort, rollback errors are logged and dropped. Close is
// idempotent; operations after Close fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tx := s.tx
	cb := s.cb
	s.tx, s.cb = nil, nil
	s.mu.Unlock()

	var err error
	if tx != nil {
		c := tx.conn
		c.mu.Lock()
		_, rbErr := c.execLocked(context.Background(), s.stats, "rollback", "ROLLBACK")
		c.mu.Unlock()
		if rbErr != nil && s.opt.Logger != nil {
			s.opt.Logger.Println("[error] rollback on close failed:", rbErr.Error())
		}
		if !tx.fromCallback {
			multierr.AppendInto(&err, c.Close())
		}
	}
	if cb != nil {
		multierr.AppendInto(&err, cb.conn.Close())
	}
	multierr.AppendInto(&err, s.pool.close())
	return err
}
