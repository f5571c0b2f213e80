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
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

type LogFunc func(code int, msg string)

var (
	emptyBytes = make([]byte, 0)

	logFunc   LogFunc = func(code int, msg string) {}
	logFuncMu sync.Mutex
)

//export _sqliteLogTramp
func _sqliteLogTramp(_ unsafe.Pointer, cCode C.int, cMsg *C.char) {
	msg := ""
	if cMsg != nil {
		msg = C.GoString(cMsg)
	}

	logFuncMu.Lock()
	defer logFuncMu.Unlock()

	logFunc(int(cCode), msg)
}

type Error struct {
	rc   int
	from string
	msg  string
}

// NewError builds an Error from a result code obtained outside the
// binding, e.g. from a foreign handle.
func NewError(rc int, from, msg string) Error {
	return Error{rc: rc, from: from, msg: msg}
}

func (err Error) Code() int {
	return err.rc
}

func (err Error) PrimaryCode() int {
	return PrimaryCode(err.rc)
}

func (err Error) Error() string {
	return fmt.Sprintf("%s: %s [%d]", err.from, err.msg, err.rc)
}

// IsBusy reports whether err is a transient contention signal from the
// engine, meaning a retry may succeed.
func IsBusy(err error) bool {
	e, ok := err.(Error)
	if !ok {
		return false
	}
	rc := e.PrimaryCode()
	return rc == Busy || rc == Locked
}

func sqliteErr(rc C.int, conn *C.sqlite3, from string) error {
	switch {
	case rc == ok:
		return nil
	case conn != nil && rc == C.sqlite3_errcode(conn):
		return Error{int(rc), from, C.GoString(C.sqlite3_errmsg(conn))}
	default:
		return Error{int(rc), from, C.GoString(C.sqlite3_errstr(rc))}
	}
}

func ensureZeroTerm(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		s += "\x00"
	}
	return s
}

func unsafeStringPtr(s string) unsafe.Pointer {
	return unsafe.Pointer((*reflect.StringHeader)(unsafe.Pointer(&s)).Data)
}

func unsafeStringCPtr(s string) *C.char {
	return (*C.char)(unsafeStringPtr(s))
}

func unsafeSlicePtr(b []byte) unsafe.Pointer {
	if b == nil {
		b = emptyBytes
	}
	return unsafe.Pointer((*reflect.SliceHeader)(unsafe.Pointer(&b)).Data)
}

func unsafeSliceCPtr(b []byte) *C.char {
	return (*C.char)(unsafeSlicePtr(b))
}

func unsafeSlice(p unsafe.Pointer, n int) (b []byte) {
	if n > 0 {
		h := (*reflect.SliceHeader)(unsafe.Pointer(&b))
		h.Data = uintptr(p)
		h.Len = n
		h.Cap = n
	}
	return
}

func unsafeToString(b []byte) (s string) {
	if len(b) > 0 {
		h := (*reflect.StringHeader)(unsafe.Pointer(&s))
		h.Data = (*reflect.SliceHeader)(unsafe.Pointer(&b)).Data
		h.Len = len(b)
	}
	return
}
