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

const (
	ok   = C.SQLITE_OK
	row  = C.SQLITE_ROW
	done = C.SQLITE_DONE

	// GenericError is SQLITE_ERROR, the catch-all code for malformed SQL
	// and other generic failures.
	GenericError = C.SQLITE_ERROR

	Perm       = C.SQLITE_PERM
	Abort      = C.SQLITE_ABORT
	Busy       = C.SQLITE_BUSY
	Locked     = C.SQLITE_LOCKED
	NoMem      = C.SQLITE_NOMEM
	ReadOnly   = C.SQLITE_READONLY
	Interrupt  = C.SQLITE_INTERRUPT
	IOErr      = C.SQLITE_IOERR
	Full       = C.SQLITE_FULL
	CantOpen   = C.SQLITE_CANTOPEN
	Constraint = C.SQLITE_CONSTRAINT
	Mismatch   = C.SQLITE_MISMATCH
	Misuse     = C.SQLITE_MISUSE
	Range      = C.SQLITE_RANGE
	Auth       = C.SQLITE_AUTH
	NotADB     = C.SQLITE_NOTADB

	preparePersistent = C.SQLITE_PREPARE_PERSISTENT
)

// https://www.sqlite.org/c3ref/open.html
const (
	OpenReadonly     = C.SQLITE_OPEN_READONLY
	OpenReadWrite    = C.SQLITE_OPEN_READWRITE
	OpenCreate       = C.SQLITE_OPEN_CREATE
	OpenURI          = C.SQLITE_OPEN_URI
	OpenMemory       = C.SQLITE_OPEN_MEMORY
	OpenNoMutex      = C.SQLITE_OPEN_NOMUTEX
	OpenFullMutex    = C.SQLITE_OPEN_FULLMUTEX
	OpenSharedCache  = C.SQLITE_OPEN_SHAREDCACHE
	OpenPrivateCache = C.SQLITE_OPEN_PRIVATECACHE
)

// Fundamental datatypes of column values.
// https://www.sqlite.org/c3ref/c_blob.html
const (
	TypeInteger = C.SQLITE_INTEGER
	TypeFloat   = C.SQLITE_FLOAT
	TypeText    = C.SQLITE_TEXT
	TypeBlob    = C.SQLITE_BLOB
	TypeNull    = C.SQLITE_NULL
)

// Authorizer return codes and a subset of action codes.
// https://www.sqlite.org/c3ref/c_alter_table.html
const (
	AuthOK     = C.SQLITE_OK
	AuthDeny   = C.SQLITE_DENY
	AuthIgnore = C.SQLITE_IGNORE

	ActionInsert     = C.SQLITE_INSERT
	ActionUpdate     = C.SQLITE_UPDATE
	ActionDelete     = C.SQLITE_DELETE
	ActionRead       = C.SQLITE_READ
	ActionSelect     = C.SQLITE_SELECT
	ActionCreateTab  = C.SQLITE_CREATE_TABLE
	ActionDropTab    = C.SQLITE_DROP_TABLE
	ActionTransact   = C.SQLITE_TRANSACTION
	ActionPragma     = C.SQLITE_PRAGMA
	ActionAttach     = C.SQLITE_ATTACH
	ActionDetach     = C.SQLITE_DETACH
	ActionFunction   = C.SQLITE_FUNCTION
	ActionRecursive  = C.SQLITE_RECURSIVE
	ActionSavepoint  = C.SQLITE_SAVEPOINT
	ActionCreateIdx  = C.SQLITE_CREATE_INDEX
	ActionDropIdx    = C.SQLITE_DROP_INDEX
	ActionCreateView = C.SQLITE_CREATE_VIEW
	ActionDropView   = C.SQLITE_DROP_VIEW
)

// PrimaryCode strips the extended part of a result code.
func PrimaryCode(rc int) int {
	return rc & 0xff
}
