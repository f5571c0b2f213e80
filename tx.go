// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"time"
)

// Begin starts a transaction with BEGIN IMMEDIATE, pinning one
// connection until Commit or Rollback. A second Begin fails Operational
// with ErrTxActive and leaves the active transaction untouched.
//
// If native callbacks are registered, the transaction runs on the
// callback-pinned connection so registered functions stay visible to
// transactional statements. Otherwise a pool connection is pinned.
func (s *Session) Begin(ctx context.Context) error {
	const op = "begin"
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return operational(op, ErrClosed)
	}
	if s.tx != nil {
		s.mu.Unlock()
		return operational(op, ErrTxActive)
	}
	if s.cb != nil {
		tx := &txState{conn: s.cb.conn, fromCallback: true}
		s.tx = tx
		s.mu.Unlock()
		return s.beginOn(ctx, op, tx, start)
	}
	s.mu.Unlock()

	c, err := s.pool.acquire(ctx)
	if err != nil {
		return classify(op, err)
	}

	// State may have moved while we waited on the pool.
	s.mu.Lock()
	if s.closed || s.tx != nil {
		fail := ErrClosed
		if s.tx != nil {
			fail = ErrTxActive
		}
		s.mu.Unlock()
		s.pool.release(c)
		return operational(op, fail)
	}
	tx := &txState{conn: c}
	s.tx = tx
	s.mu.Unlock()
	return s.beginOn(ctx, op, tx, start)
}

func (s *Session) beginOn(ctx context.Context, op string, tx *txState, start time.Time) error {
	c := tx.conn
	c.mu.Lock()
	err := c.conn.SetBusyTimeout(s.opt.BusyTimeout)
	if err == nil {
		_, err = c.execLocked(ctx, s.stats, op, "BEGIN IMMEDIATE")
	}
	c.mu.Unlock()
	if err != nil {
		s.mu.Lock()
		s.tx = nil
		s.mu.Unlock()
		if !tx.fromCallback {
			s.pool.release(c)
		}
		return classify(op, err)
	}
	s.stats.measureActionDurationSince(op, start)
	return nil
}

// Commit ends the active transaction. On engine failure the transaction
// stays active so the caller can retry or roll back explicitly.
func (s *Session) Commit(ctx context.Context) error {
	const op = "commit"
	start := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return operational(op, ErrClosed)
	}
	tx := s.tx
	if tx == nil || tx.ending {
		s.mu.Unlock()
		return operational(op, ErrNoTx)
	}
	tx.ending = true
	s.mu.Unlock()

	c := tx.conn
	c.mu.Lock()
	_, err := c.execLocked(ctx, s.stats, op, "COMMIT")
	c.mu.Unlock()
	if err != nil {
		// Still active, caller may retry or roll back.
		s.mu.Lock()
		tx.ending = false
		s.mu.Unlock()
		return classify(op, err)
	}
	s.endTx(tx, false)
	s.stats.measureActionDurationSince(op, start)
	return nil
}

// Rollback ends the active transaction, discarding its writes. The
// transaction is considered finished even if the engine reports an
// error; a pinned pool connection that failed to roll back is closed
// rather than reused.
func (s *Session) Rollback(ctx context.Context) error {
	const op = "rollback"
	start := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return operational(op, ErrClosed)
	}
	tx := s.tx
	if tx == nil || tx.ending {
		s.mu.Unlock()
		return operational(op, ErrNoTx)
	}
	tx.ending = true
	s.mu.Unlock()

	c := tx.conn
	c.mu.Lock()
	_, err := c.execLocked(ctx, s.stats, op, "ROLLBACK")
	if err != nil {
		c.err = err // conn state unknown, do not reuse
	}
	c.mu.Unlock()
	s.endTx(tx, err != nil)
	if err != nil {
		return classify(op, err)
	}
	s.stats.measureActionDurationSince(op, start)
	return nil
}

// InTransaction reports whether a transaction is currently active.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// endTx unpins the transaction connection and returns it to its origin.
// A callback conn goes back to the callback slot unless its last
// registration was cleared mid-transaction or the conn is damaged, in
// which case it is closed now.
func (s *Session) endTx(tx *txState, damaged bool) {
	s.mu.Lock()
	if s.tx == tx {
		s.tx = nil
	}
	var closeCb *sqliteConn
	if tx.fromCallback && s.cb != nil && s.cb.conn == tx.conn {
		if s.cb.releasePending || damaged {
			closeCb = s.cb.conn
			s.cb = nil
		}
	}
	s.mu.Unlock()

	if closeCb != nil {
		if err := closeCb.Close(); err != nil && s.opt.Logger != nil {
			s.opt.Logger.Println("[error] failed to close callback conn:", err.Error())
		}
		return
	}
	if !tx.fromCallback {
		s.pool.release(tx.conn)
	}
}
