// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func (s *Session) callbackPinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

func TestRegisterFunction(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.RegisterFunction(ctx, "plus2", 1, func(args []any) (any, error) {
		return args[0].(int64) + 2, nil
	}))
	require.True(t, s.callbackPinned())

	row, err := s.FetchOne(ctx, "fn", "SELECT plus2(40)")
	require.NoError(t, err)
	require.Equal(t, []any{int64(42)}, row)

	// Re-registering the same name replaces the implementation.
	require.NoError(t, s.RegisterFunction(ctx, "plus2", 1, func(args []any) (any, error) {
		return args[0].(int64) + 200, nil
	}))
	row, err = s.FetchOne(ctx, "fn", "SELECT plus2(40)")
	require.NoError(t, err)
	require.Equal(t, []any{int64(240)}, row)

	require.NoError(t, s.UnregisterFunction(ctx, "plus2"))
	require.False(t, s.callbackPinned())

	_, err = s.FetchOne(ctx, "fn", "SELECT plus2(40)")
	require.Error(t, err)

	err = s.UnregisterFunction(ctx, "plus2")
	require.Equal(t, KindProgramming, KindOf(err))
}

func TestFunctionValueTranslation(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.RegisterFunction(ctx, "echo", 1, func(args []any) (any, error) {
		return args[0], nil
	}))

	row, err := s.FetchOne(ctx, "echo", "SELECT echo(1), echo(1.5), echo('x'), echo(x'ff'), echo(NULL)")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), 1.5, "x", []byte{0xff}, nil}, row)
}

func TestFunctionErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.RegisterFunction(ctx, "boom", 0, func(args []any) (any, error) {
		return nil, errors.New("boom happened")
	}))
	_, err := s.FetchOne(ctx, "boom", "SELECT boom()")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom happened")
}

func TestFunctionPanicContained(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.RegisterFunction(ctx, "panicky", 0, func(args []any) (any, error) {
		panic("no")
	}))
	_, err := s.FetchOne(ctx, "panicky", "SELECT panicky()")
	require.Error(t, err)

	// The session keeps working after the contained panic.
	row, err := s.FetchOne(ctx, "ok", "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)
}

func TestTrace(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	var mu sync.Mutex
	var seen []string
	require.NoError(t, s.SetTrace(ctx, func(sql string) {
		mu.Lock()
		seen = append(seen, sql)
		mu.Unlock()
	}))
	require.True(t, s.callbackPinned())

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	mu.Lock()
	joined := strings.Join(seen, "\n")
	mu.Unlock()
	require.Contains(t, joined, "CREATE TABLE")

	require.NoError(t, s.SetTrace(ctx, nil))
	require.False(t, s.callbackPinned())
}

func TestAuthorizerDeny(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	_, err := s.Execute(ctx, "create", "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, s.SetAuthorizer(ctx, func(action int, arg1, arg2, dbName, trigger string) int {
		if arg1 == "t" {
			return AuthDeny
		}
		return AuthOK
	}))

	_, err = s.FetchAll(ctx, "select", "SELECT id FROM t")
	require.Error(t, err)

	require.NoError(t, s.SetAuthorizer(ctx, nil))
	_, err = s.FetchAll(ctx, "select", "SELECT id FROM t")
	require.NoError(t, err)
}

func TestAuthorizerPanicAllows(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.SetAuthorizer(ctx, func(action int, arg1, arg2, dbName, trigger string) int {
		panic("authorizer fault")
	}))
	// A raising authorizer defaults to allow, the statement succeeds.
	row, err := s.FetchOne(ctx, "select", "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)
}

func TestProgressHandlerInterrupts(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.SetProgressHandler(ctx, 1, func() bool { return false }))
	_, err := s.FetchAll(ctx, "select", "SELECT 1")
	require.Error(t, err)
	require.Equal(t, KindOperational, KindOf(err))

	require.NoError(t, s.SetProgressHandler(ctx, 0, nil))
	_, err = s.FetchAll(ctx, "select", "SELECT 1")
	require.NoError(t, err)
}

func TestProgressHandlerPanicContinues(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.SetProgressHandler(ctx, 1, func() bool {
		panic("progress fault")
	}))
	// A raising handler counts as "continue", the statement completes.
	row, err := s.FetchOne(ctx, "select", "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1)}, row)
}

func TestTxBorrowsCallbackConn(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.RegisterFunction(ctx, "plus2", 1, func(args []any) (any, error) {
		return args[0].(int64) + 2, nil
	}))

	require.NoError(t, s.Begin(ctx))
	s.mu.Lock()
	fromCallback := s.tx != nil && s.tx.fromCallback
	s.mu.Unlock()
	require.True(t, fromCallback)

	// Registered functions stay visible to transactional statements.
	row, err := s.FetchOne(ctx, "fn", "SELECT plus2(1)")
	require.NoError(t, err)
	require.Equal(t, []any{int64(3)}, row)

	// Clearing the last registration mid-transaction defers the release
	// of the pinned conn to the transaction end.
	require.NoError(t, s.UnregisterFunction(ctx, "plus2"))
	require.True(t, s.callbackPinned())

	require.NoError(t, s.Commit(ctx))
	require.False(t, s.callbackPinned())
}

func TestLoadExtensionDisabled(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	err := s.LoadExtension(ctx, "/no/such/extension", "")
	require.True(t, errors.Is(err, ErrExtensions))
	require.Equal(t, KindOperational, KindOf(err))
}

func TestEnableLoadExtensionPins(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, Options{})

	require.NoError(t, s.EnableLoadExtension(ctx, true))
	require.True(t, s.callbackPinned())

	err := s.LoadExtension(ctx, "/no/such/extension", "")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrExtensions))

	require.NoError(t, s.EnableLoadExtension(ctx, false))
	require.False(t, s.callbackPinned())
}
