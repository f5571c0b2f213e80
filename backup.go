// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"context"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sessionlite/sessionlite/internal/sqlite0"
)

// Handler exposes a raw database handle. Backup destinations that are
// not sessionlite sessions (foreign driver connections) implement it.
type Handler interface {
	Handle() unsafe.Pointer
}

// BackupOptions tune the online backup protocol.
type BackupOptions struct {
	// PagesPerStep copied per step; 0 copies everything in one step.
	PagesPerStep int
	// StepDelay is the pause before retrying a BUSY/LOCKED step and
	// between incremental steps, leaving the source writable. Defaults
	// to 250ms.
	StepDelay time.Duration
	// SrcName and DstName are schema names, "main" when empty.
	SrcName string
	DstName string
	// Progress, if set, observes (remaining, total) pages after each
	// step and before each retry pause.
	Progress func(remaining, total int)
}

const backupStepDelayDefault = 250 * time.Millisecond

// Backup copies the routed source database into dst, page by page,
// while the source stays live. dst is either another *Session (its own
// routing rule picks the destination connection) or any Handler
// carrying a foreign handle. The destination must be in autocommit
// mode; a destination inside a transaction fails fast, before the
// backup cursor is created. The backup handle is finalized on every
// exit path.
func (s *Session) Backup(ctx context.Context, dst any, opt BackupOptions) error {
	const op = "backup"
	if err := s.ensureReady(ctx); err != nil {
		return classify(op, err)
	}
	if dst == nil {
		return programming(op, errors.New("backup destination is nil"))
	}
	if ds, ok := dst.(*Session); ok && ds == s {
		return programming(op, errors.New("cannot back up a session into itself"))
	}
	if opt.SrcName == "" {
		opt.SrcName = "main"
	}
	if opt.DstName == "" {
		opt.DstName = "main"
	}
	if opt.StepDelay <= 0 {
		opt.StepDelay = backupStepDelayDefault
	}

	srcConn, srcRelease, err := s.route(ctx)
	if err != nil {
		return classify(op, err)
	}
	srcConn.mu.Lock()
	defer func() {
		srcConn.mu.Unlock()
		srcRelease()
	}()

	var dstHandle unsafe.Pointer
	switch d := dst.(type) {
	case *Session:
		if err := d.ensureReady(ctx); err != nil {
			return classify(op, err)
		}
		dc, dstRelease, err := d.route(ctx)
		if err != nil {
			return classify(op, err)
		}
		dc.mu.Lock()
		defer func() {
			dc.mu.Unlock()
			dstRelease()
		}()
		dstHandle = dc.conn.Handle()
	case Handler:
		dstHandle = d.Handle()
	default:
		return programming(op, errors.Errorf("unsupported backup destination %T", dst))
	}
	if dstHandle == nil {
		return programming(op, errors.New("backup destination handle is nil"))
	}
	if !sqlite0.HandleAutoCommit(dstHandle) {
		return operational(op, errors.New("backup destination is inside a transaction"))
	}

	b, err := sqlite0.NewBackup(dstHandle, opt.DstName, srcConn.conn.Handle(), opt.SrcName)
	if err != nil {
		return classify(op, errors.Wrap(err, "backup init"))
	}
	defer b.Finish()

	start := time.Now()
	copied := 0
	for {
		if err := ctx.Err(); err != nil {
			return operational(op, err)
		}
		done, err := b.Step(opt.PagesPerStep)
		if err != nil {
			if !sqlite0.IsBusy(err) {
				return classify(op, errors.Wrap(err, "backup step"))
			}
			if opt.Progress != nil {
				opt.Progress(b.Remaining(), b.PageCount())
			}
			select {
			case <-ctx.Done():
				return operational(op, ctx.Err())
			case <-time.After(opt.StepDelay):
			}
			continue
		}
		remaining, total := b.Remaining(), b.PageCount()
		if n := total - remaining - copied; n > 0 {
			s.stats.backupPagesCopied(n)
			copied += n
		}
		if opt.Progress != nil {
			opt.Progress(remaining, total)
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return operational(op, ctx.Err())
		case <-time.After(opt.StepDelay):
		}
	}
	if err := b.Finish(); err != nil {
		return classify(op, errors.Wrap(err, "backup finish"))
	}
	s.stats.measureActionDurationSince(op, start)
	return nil
}
