// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// connPool hands out transient connections for non-pinned operations.
// Capacity is enforced with a weighted semaphore so waiters honor ctx;
// physical connections are opened lazily, on first demand past the free
// list.
type connPool struct {
	opt  *Options
	sem  *semaphore.Weighted
	mu   sync.Mutex
	free []*sqliteConn

	closed bool
	opened atomic.Int64 // physical conns ever opened, for tests and stats
}

func newConnPool(opt *Options) *connPool {
	return &connPool{
		opt: opt,
		sem: semaphore.NewWeighted(int64(opt.PoolSize)),
	}
}

func (p *connPool) acquire(ctx context.Context) (*sqliteConn, error) {
	if _, ok := ctx.Deadline(); !ok && p.opt.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opt.AcquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := openConn(p.opt)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.opened.Inc()
	return c, nil
}

// release returns c to the free list, or closes it if the pool is shut
// down or the conn carries a sticky error.
func (p *connPool) release(c *sqliteConn) {
	c.mu.Lock()
	damaged := c.err != nil
	c.mu.Unlock()

	p.mu.Lock()
	if p.closed || damaged {
		p.mu.Unlock()
		if err := c.Close(); err != nil && p.opt.Logger != nil {
			p.opt.Logger.Println("[error] failed to close pool conn:", err.Error())
		}
		p.sem.Release(1)
		return
	}
	p.free = append(p.free, c)
	p.mu.Unlock()
	p.sem.Release(1)
}

// discard drops a conn acquired through the pool without returning it,
// closing it. The semaphore slot is still released.
func (p *connPool) discard(c *sqliteConn) {
	if err := c.Close(); err != nil && p.opt.Logger != nil {
		p.opt.Logger.Println("[error] failed to close pool conn:", err.Error())
	}
	p.sem.Release(1)
}

func (p *connPool) close() error {
	p.mu.Lock()
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	var err error
	for _, c := range free {
		multierr.AppendInto(&err, c.Close())
	}
	return err
}
