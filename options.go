// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"log"
	"time"
)

const (
	busyTimeoutDefault    = 5 * time.Second
	acquireTimeoutDefault = 30 * time.Second
	poolSizeDefault       = 16
	cacheKBDefault        = 65536 // 64MB
)

// Pragma is one PRAGMA applied to every physical connection at open.
type Pragma struct {
	Name  string
	Value string
}

// InitHook runs exactly once, before the first routed operation. It may
// issue operations on the session; no session state locks are held while
// it runs.
type InitHook func(ctx context.Context, s *Session) error

// Options configure a Session. They must be fixed before the first
// operation triggers pool creation; later changes only affect connections
// opened after the fact.
type Options struct {
	// Path is the database target string (file path or URI).
	Path string
	// Flags are sqlite0 open flags; 0 means read-write/create.
	Flags int
	// APPID is stored as application_id on every connection, 0 skips it.
	APPID int32
	// PoolSize caps concurrently outstanding transient connections. The
	// transaction and callback pinned connections are not counted.
	PoolSize int
	// AcquireTimeout bounds the wait for a free pool connection when ctx
	// carries no earlier deadline.
	AcquireTimeout time.Duration
	// BusyTimeout is applied per connection; the begin path re-applies it
	// to the pinned transaction connection.
	BusyTimeout time.Duration
	// PageSize, if non-zero, is applied before any table exists.
	PageSize int
	// CacheKB is the per-connection page cache size.
	CacheKB int
	// CacheMaxSizePerConn caps the prepared-statement cache.
	CacheMaxSizePerConn int
	// Pragmas run after the built-in bootstrap, in order.
	Pragmas []Pragma
	// WAL switches journal_mode=WAL on every connection.
	WAL bool
	// Init runs exactly once before the first operation.
	Init InitHook
	// Logger receives engine log lines and background close errors.
	Logger *log.Logger
	// StatsOptions enable duration metrics, empty disables them.
	StatsOptions StatsOptions
}

func (opt *Options) setDefaults() {
	if opt.PoolSize <= 0 {
		opt.PoolSize = poolSizeDefault
	}
	if opt.BusyTimeout <= 0 {
		opt.BusyTimeout = busyTimeoutDefault
	}
	if opt.AcquireTimeout <= 0 {
		opt.AcquireTimeout = acquireTimeoutDefault
	}
	if opt.CacheKB <= 0 {
		opt.CacheKB = cacheKBDefault
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
}
