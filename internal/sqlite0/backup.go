// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlite0

/*
#include <sqlite3.h>
*/
import "C"
import (
	"unsafe"
)

// Backup wraps the engine's online backup cursor between two native
// handles. It takes raw handles rather than *Conn so that a foreign
// engine handle can serve as either side.
// https://www.sqlite.org/backup.html
type Backup struct {
	b   *C.sqlite3_backup
	dst *C.sqlite3
}

// NewBackup initializes a backup of schema srcName on src into schema
// dstName on dst. Both handles must stay alive until Finish.
func NewBackup(dst unsafe.Pointer, dstName string, src unsafe.Pointer, srcName string) (*Backup, error) {
	cDst := (*C.sqlite3)(dst)
	cSrc := (*C.sqlite3)(src)
	dstName = ensureZeroTerm(dstName)
	srcName = ensureZeroTerm(srcName)
	b := C.sqlite3_backup_init(cDst, unsafeStringCPtr(dstName), cSrc, unsafeStringCPtr(srcName))
	if b == nil {
		rc := C.sqlite3_errcode(cDst)
		return nil, sqliteErr(rc, cDst, "sqlite3_backup_init")
	}
	return &Backup{b: b, dst: cDst}, nil
}

// Step copies up to n pages (n <= 0 copies all remaining pages in one
// step). done is true once the backup reached the end of the source.
// Busy/Locked results surface as an Error for which IsBusy reports true;
// the cursor stays valid and the step may be retried.
func (b *Backup) Step(n int) (bool, error) {
	if n <= 0 {
		n = -1
	}
	rc := C.sqlite3_backup_step(b.b, C.int(n))
	switch rc {
	case done:
		return true, nil
	case ok:
		return false, nil
	default:
		return false, sqliteErr(rc, nil, "sqlite3_backup_step")
	}
}

// Remaining is the number of pages still to be copied after the last Step.
func (b *Backup) Remaining() int {
	return int(C.sqlite3_backup_remaining(b.b))
}

// PageCount is the total number of pages in the source after the last Step.
func (b *Backup) PageCount() int {
	return int(C.sqlite3_backup_pagecount(b.b))
}

// Finish releases the backup cursor. It must run on every exit path,
// success or failure, to avoid leaking engine-side backup state.
func (b *Backup) Finish() error {
	if b.b == nil {
		return nil
	}
	rc := C.sqlite3_backup_finish(b.b)
	b.b = nil
	return sqliteErr(rc, b.dst, "sqlite3_backup_finish")
}

// HandleAutoCommit reports the autocommit flag of a raw native handle,
// used to check that a backup destination has no open transaction.
func HandleAutoCommit(h unsafe.Pointer) bool {
	return C.sqlite3_get_autocommit((*C.sqlite3)(h)) != 0
}
