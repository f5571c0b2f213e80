// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"fmt"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
)

// Native callback signatures, shared with the binding so value
// translation stays in one place.
type (
	// ScalarFunc implements a custom SQL function. Args arrive as int64,
	// float64, string, []byte or nil; the result maps back the same way.
	ScalarFunc = sqlite0.ScalarFunc
	// TraceFunc observes every statement as it begins running.
	TraceFunc = sqlite0.TraceFunc
	// AuthorizerFunc vets compile-time actions, returning AuthOK,
	// AuthDeny or AuthIgnore. Any other value, or a panic, allows.
	AuthorizerFunc = sqlite0.AuthorizerFunc
	// ProgressFunc runs periodically during long statements; returning
	// false interrupts the statement.
	ProgressFunc = sqlite0.ProgressFunc
)

const (
	AuthOK     = sqlite0.AuthOK
	AuthDeny   = sqlite0.AuthDeny
	AuthIgnore = sqlite0.AuthIgnore
)

// pinCallbackConn returns the callback-pinned connection, opening and
// pinning a fresh one on the first registration. The callback conn is
// not drawn from the pool and does not count against its capacity.
func (s *Session) pinCallbackConn(op string) (*sqliteConn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, operational(op, ErrClosed)
	}
	if s.cb != nil {
		c := s.cb.conn
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c, err := openConn(&s.opt)
	if err != nil {
		return nil, classify(op, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close()
		return nil, operational(op, ErrClosed)
	}
	if s.cb != nil {
		existing := s.cb.conn
		s.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	s.cb = &callbackState{conn: c, funcs: map[string]int{}}
	s.mu.Unlock()
	return c, nil
}

// maybeReleaseCallback closes the callback conn once no registration of
// any kind remains. If a transaction has the conn borrowed, release is
// deferred to the transaction end.
func (s *Session) maybeReleaseCallback() {
	s.mu.Lock()
	cb := s.cb
	if cb == nil || !cb.empty() {
		s.mu.Unlock()
		return
	}
	if s.tx != nil && s.tx.conn == cb.conn {
		cb.releasePending = true
		s.mu.Unlock()
		return
	}
	s.cb = nil
	s.mu.Unlock()
	if err := cb.conn.Close(); err != nil && s.opt.Logger != nil {
		s.opt.Logger.Println("[error] failed to close callback conn:", err.Error())
	}
}

// RegisterFunction makes fn available as a SQL scalar function under
// name with the given arity. Registering an existing name replaces it.
// The first registration of any kind pins a dedicated connection, and
// subsequent non-transactional operations route through it.
func (s *Session) RegisterFunction(ctx context.Context, name string, nArgs int, fn ScalarFunc) error {
	const op = "register_function"
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	if fn == nil {
		return programming(op, fmt.Errorf("function %q is nil", name))
	}
	c, err := s.pinCallbackConn(op)
	if err != nil {
		return err
	}
	c.mu.Lock()
	err = c.conn.CreateScalarFunction(name, nArgs, fn)
	c.mu.Unlock()
	if err != nil {
		s.maybeReleaseCallback()
		return classify(op, err)
	}
	s.mu.Lock()
	if s.cb != nil {
		s.cb.funcs[name] = nArgs
	}
	s.mu.Unlock()
	return nil
}

// UnregisterFunction removes a previously registered function. The
// engine slot is cleared before the trampoline registry entry is
// released, so an in-flight invocation can still resolve its target.
func (s *Session) UnregisterFunction(ctx context.Context, name string) error {
	const op = "unregister_function"
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return operational(op, ErrClosed)
	}
	if s.cb == nil {
		s.mu.Unlock()
		return programming(op, fmt.Errorf("function %q is not registered", name))
	}
	nArgs, ok := s.cb.funcs[name]
	if !ok {
		s.mu.Unlock()
		return programming(op, fmt.Errorf("function %q is not registered", name))
	}
	c := s.cb.conn
	s.mu.Unlock()

	c.mu.Lock()
	err := c.conn.DeleteScalarFunction(name, nArgs)
	c.mu.Unlock()
	if err != nil {
		return classify(op, err)
	}
	s.mu.Lock()
	if s.cb != nil {
		delete(s.cb.funcs, name)
	}
	s.mu.Unlock()
	s.maybeReleaseCallback()
	return nil
}

// SetTrace installs fn to observe statements on the callback-pinned
// connection. A nil fn clears it.
func (s *Session) SetTrace(ctx context.Context, fn TraceFunc) error {
	const op = "set_trace"
	return s.setKindFlag(ctx, op, fn == nil,
		func(cb *callbackState) *bool { return &cb.trace },
		func(c *sqliteConn) error { return c.conn.SetTrace(fn) })
}

// SetAuthorizer installs fn to vet statement compilation. A nil fn
// clears it.
func (s *Session) SetAuthorizer(ctx context.Context, fn AuthorizerFunc) error {
	const op = "set_authorizer"
	return s.setKindFlag(ctx, op, fn == nil,
		func(cb *callbackState) *bool { return &cb.authorizer },
		func(c *sqliteConn) error { return c.conn.SetAuthorizer(fn) })
}

// SetProgressHandler installs fn to run about every nOps VM steps. A
// nil fn or nOps <= 0 clears it.
func (s *Session) SetProgressHandler(ctx context.Context, nOps int, fn ProgressFunc) error {
	const op = "set_progress_handler"
	return s.setKindFlag(ctx, op, fn == nil || nOps <= 0,
		func(cb *callbackState) *bool { return &cb.progress },
		func(c *sqliteConn) error { c.conn.SetProgressHandler(nOps, fn); return nil })
}

// EnableLoadExtension switches extension loading on the callback-pinned
// connection. Enabling counts as a registration and pins the conn.
func (s *Session) EnableLoadExtension(ctx context.Context, on bool) error {
	const op = "enable_load_extension"
	return s.setKindFlag(ctx, op, !on,
		func(cb *callbackState) *bool { return &cb.loadExt },
		func(c *sqliteConn) error { return c.conn.EnableLoadExtension(on) })
}

// LoadExtension loads a shared library into the callback-pinned
// connection. EnableLoadExtension(true) must have been called first.
func (s *Session) LoadExtension(ctx context.Context, path, entry string) error {
	const op = "load_extension"
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return operational(op, ErrClosed)
	}
	if s.cb == nil || !s.cb.loadExt {
		s.mu.Unlock()
		return operational(op, ErrExtensions)
	}
	c := s.cb.conn
	s.mu.Unlock()

	c.mu.Lock()
	err := c.conn.LoadExtension(path, entry)
	c.mu.Unlock()
	return classify(op, err)
}

// setKindFlag is the shared install/clear path for the single-slot
// callback kinds (trace, authorizer, progress, load-extension).
func (s *Session) setKindFlag(ctx context.Context, op string, clearing bool, flag func(*callbackState) *bool, apply func(*sqliteConn) error) error {
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	if clearing {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return operational(op, ErrClosed)
		}
		if s.cb == nil || !*flag(s.cb) {
			s.mu.Unlock()
			return nil
		}
		c := s.cb.conn
		s.mu.Unlock()

		c.mu.Lock()
		err := apply(c)
		c.mu.Unlock()
		if err != nil {
			return classify(op, err)
		}
		s.mu.Lock()
		if s.cb != nil {
			*flag(s.cb) = false
		}
		s.mu.Unlock()
		s.maybeReleaseCallback()
		return nil
	}

	c, err := s.pinCallbackConn(op)
	if err != nil {
		return err
	}
	c.mu.Lock()
	err = apply(c)
	c.mu.Unlock()
	if err != nil {
		s.maybeReleaseCallback()
		return classify(op, err)
	}
	s.mu.Lock()
	if s.cb != nil {
		*flag(s.cb) = true
	}
	s.mu.Unlock()
	return nil
}
