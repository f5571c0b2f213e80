// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testPoolOptions(t *testing.T, size int) *Options {
	t.Helper()
	opt := &Options{
		Path:     filepath.Join(t.TempDir(), "db.sqlite"),
		PoolSize: size,
		Logger:   log.New(os.Stdout, "[sessionlite-test]", log.LstdFlags),
	}
	opt.setDefaults()
	return opt
}

func TestPoolReusesConns(t *testing.T) {
	ctx := context.Background()
	p := newConnPool(testPoolOptions(t, 2))
	defer p.close()

	c1, err := p.acquire(ctx)
	require.NoError(t, err)
	p.release(c1)

	c2, err := p.acquire(ctx)
	require.NoError(t, err)
	require.Same(t, c1, c2)
	p.release(c2)

	require.EqualValues(t, 1, p.opened.Load())
}

func TestPoolAcquireTimeout(t *testing.T) {
	ctx := context.Background()
	opt := testPoolOptions(t, 1)
	opt.AcquireTimeout = 50 * time.Millisecond
	p := newConnPool(opt)
	defer p.close()

	c, err := p.acquire(ctx)
	require.NoError(t, err)

	_, err = p.acquire(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	p.release(c)
	c2, err := p.acquire(ctx)
	require.NoError(t, err)
	p.release(c2)
}

func TestPoolClosedAcquire(t *testing.T) {
	p := newConnPool(testPoolOptions(t, 1))
	require.NoError(t, p.close())
	_, err := p.acquire(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
}

func TestPoolDropsDamagedConns(t *testing.T) {
	ctx := context.Background()
	p := newConnPool(testPoolOptions(t, 1))
	defer p.close()

	c, err := p.acquire(ctx)
	require.NoError(t, err)
	c.mu.Lock()
	c.err = errors.New("damaged")
	c.mu.Unlock()
	p.release(c)

	c2, err := p.acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, c, c2)
	p.release(c2)
}

func TestPoolBoundedUnderLoad(t *testing.T) {
	ctx := context.Background()
	const size = 4
	s := openTest(t, Options{PoolSize: size})

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = s.ExecuteMany(ctx, "insert", "INSERT INTO t (v) VALUES (?)",
		[]any{"a"}, []any{"b"}, []any{"c"}, []any{"d"})
	require.NoError(t, err)

	g := errgroup.Group{}
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				rows, err := s.FetchAll(ctx, "select", "SELECT id, v FROM t")
				if err != nil {
					return err
				}
				if len(rows) != 4 {
					return errors.New("unexpected row count")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.LessOrEqual(t, s.pool.opened.Load(), int64(size))
}
