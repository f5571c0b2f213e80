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

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTxCommitVisible(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	require.True(t, s.InTransaction())
	_, err = s.Execute(ctx, "insert", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))
	require.False(t, s.InTransaction())

	row, err := s.FetchOne(ctx, "count", "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)
}

func TestTxRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	_, err = s.Execute(ctx, "insert", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	// Statements inside the transaction see the uncommitted write.
	row, err := s.FetchOne(ctx, "count", "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)

	require.NoError(t, s.Rollback(ctx))

	row, err = s.FetchOne(ctx, "count", "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, []any{int64(0)}, row)
}

func TestTxIsolationAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	a := openTest(t, Options{Path: path, WAL: true})
	b := openTest(t, Options{Path: path, WAL: true})

	_, err := a.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, a.Begin(ctx))
	_, err = a.Execute(ctx, "insert", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	rows, err := b.FetchAll(ctx, "select", "SELECT id FROM t")
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, a.Commit(ctx))

	rows, err = b.FetchAll(ctx, "select", "SELECT id FROM t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestDoubleBeginLeavesTxIntact(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	_, err = s.Execute(ctx, "insert", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)

	err = s.Begin(ctx)
	require.True(t, errors.Is(err, ErrTxActive))
	require.Equal(t, KindOperational, KindOf(err))

	// The original transaction is untouched and can still commit.
	require.True(t, s.InTransaction())
	require.NoError(t, s.Commit(ctx))

	row, err := s.FetchOne(ctx, "count", "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)
}

func TestEndWithoutBegin(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	err := s.Commit(ctx)
	require.True(t, errors.Is(err, ErrNoTx))
	require.Equal(t, KindOperational, KindOf(err))

	err = s.Rollback(ctx)
	require.True(t, errors.Is(err, ErrNoTx))
}

func TestCloseRollsBackActiveTx(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.sqlite")

	a := openTest(t, Options{Path: path})
	_, err := a.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, a.Begin(ctx))
	_, err = a.Execute(ctx, "insert", "INSERT INTO t (id) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := openTest(t, Options{Path: path})
	rows, err := b.FetchAll(ctx, "select", "SELECT id FROM t")
	require.NoError(t, err)
	require.Empty(t, rows)
}

// txModel drives the session against a two-state model of the
// transaction lifecycle.
type txModel struct {
	s      *Session
	active bool
	rows   int
	inTx   int
}

func (m *txModel) Begin(t *rapid.T) {
	err := m.s.Begin(context.Background())
	if m.active {
		require.True(t, errors.Is(err, ErrTxActive))
		return
	}
	require.NoError(t, err)
	m.active = true
	m.inTx = 0
}

func (m *txModel) Commit(t *rapid.T) {
	err := m.s.Commit(context.Background())
	if !m.active {
		require.True(t, errors.Is(err, ErrNoTx))
		return
	}
	require.NoError(t, err)
	m.active = false
	m.rows += m.inTx
}

func (m *txModel) Rollback(t *rapid.T) {
	err := m.s.Rollback(context.Background())
	if !m.active {
		require.True(t, errors.Is(err, ErrNoTx))
		return
	}
	require.NoError(t, err)
	m.active = false
}

func (m *txModel) Insert(t *rapid.T) {
	_, err := m.s.Execute(context.Background(), "insert", "INSERT INTO t DEFAULT VALUES")
	require.NoError(t, err)
	if m.active {
		m.inTx++
	} else {
		m.rows++
	}
}

func (m *txModel) Check(t *rapid.T) {
	require.Equal(t, m.active, m.s.InTransaction())
	if m.active {
		return
	}
	row, err := m.s.FetchOne(context.Background(), "count", "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	require.Equal(t, []any{int64(m.rows)}, row)
}

func TestTxStateMachine(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp("", "sessionlite-rapid")
		require.NoError(rt, err)
		defer os.RemoveAll(dir)

		s, err := Open(Options{
			Path:   filepath.Join(dir, "db.sqlite"),
			Logger: log.New(os.Stdout, "[sessionlite-test]", log.LstdFlags),
		})
		require.NoError(rt, err)
		defer s.Close()

		_, err = s.Execute(context.Background(), "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
		require.NoError(rt, err)

		m := &txModel{s: s}
		rt.Repeat(rapid.StateMachineActions(m))
	})
}
