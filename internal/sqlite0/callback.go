// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlite0

/*
#include <stdint.h>
#include <sqlite3.h>

void _sqlite_result_text(sqlite3_context *ctx, const char *p, int n);
void _sqlite_result_blob(sqlite3_context *ctx, const void *p, int n);
*/
import "C"
import (
	"sync"
	"unsafe"
)

// ScalarFunc implements a user-defined SQL scalar function. Arguments and
// the result use the engine value model: int64, float64, string, []byte or
// nil.
type ScalarFunc func(args []any) (any, error)

// TraceFunc receives the unexpanded SQL text of every statement the
// connection starts executing.
type TraceFunc func(sql string)

// AuthorizerFunc is consulted during statement compilation. It must return
// AuthOK, AuthDeny or AuthIgnore.
type AuthorizerFunc func(action int, arg1, arg2, dbName, trigger string) int

// ProgressFunc is invoked periodically during long-running statements.
// Returning false interrupts the running statement.
type ProgressFunc func() bool

// registry maps integer ids to Go callables so that the C side never holds
// a Go pointer. The id is handed to SQLite as opaque user data; for scalar
// functions the engine-invoked destructor is the only code path that
// releases an entry.
type registry struct {
	mu   sync.Mutex
	next uintptr
	m    map[uintptr]any
}

func newRegistry() *registry {
	return &registry{next: 1, m: map[uintptr]any{}}
}

func (r *registry) register(v any) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.m[id] = v
	return id
}

func (r *registry) lookup(id uintptr) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id]
}

func (r *registry) unregister(id uintptr) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.m[id]
	delete(r.m, id)
	return v
}

var (
	funcRegistry       = newRegistry()
	traceRegistry      = newRegistry()
	authorizerRegistry = newRegistry()
	progressRegistry   = newRegistry()
)

func valueToGo(v *C.sqlite3_value) any {
	switch C.sqlite3_value_type(v) {
	case TypeInteger:
		return int64(C.sqlite3_value_int64(v))
	case TypeFloat:
		return float64(C.sqlite3_value_double(v))
	case TypeText:
		n := int(C.sqlite3_value_bytes(v))
		p := unsafe.Pointer(C.sqlite3_value_text(v))
		return string(unsafeSlice(p, n))
	case TypeBlob:
		n := int(C.sqlite3_value_bytes(v))
		b := make([]byte, n)
		copy(b, unsafeSlice(C.sqlite3_value_blob(v), n))
		return b
	default:
		return nil
	}
}

func resultToC(ctx *C.sqlite3_context, v any) {
	switch v := v.(type) {
	case nil:
		C.sqlite3_result_null(ctx)
	case int64:
		C.sqlite3_result_int64(ctx, C.sqlite3_int64(v))
	case int:
		C.sqlite3_result_int64(ctx, C.sqlite3_int64(v))
	case bool:
		n := int64(0)
		if v {
			n = 1
		}
		C.sqlite3_result_int64(ctx, C.sqlite3_int64(n))
	case float64:
		C.sqlite3_result_double(ctx, C.double(v))
	case string:
		C._sqlite_result_text(ctx, unsafeStringCPtr(v), C.int(len(v)))
	case []byte:
		C._sqlite_result_blob(ctx, unsafeSlicePtr(v), C.int(len(v)))
	default:
		resultError(ctx, "unsupported result type")
	}
}

func resultError(ctx *C.sqlite3_context, msg string) {
	msg = ensureZeroTerm(msg)
	C.sqlite3_result_error(ctx, unsafeStringCPtr(msg), -1)
}

// Trampoline discipline: reconstruct the callable from the integer id
// without taking ownership, translate arguments, invoke, translate the
// result back, and never let a Go panic cross into SQLite's call stack.

//export _sqliteScalarFuncTramp
func _sqliteScalarFuncTramp(ctx *C.sqlite3_context, argc C.int, argv **C.sqlite3_value) {
	id := uintptr(C.sqlite3_user_data(ctx))
	fn, _ := funcRegistry.lookup(id).(ScalarFunc)
	if fn == nil {
		resultError(ctx, "sqlite0: function slot is gone")
		return
	}
	defer func() {
		if p := recover(); p != nil {
			resultError(ctx, "sqlite0: panic in user function")
		}
	}()
	var args []any
	if argc > 0 {
		cArgs := unsafe.Slice(argv, int(argc))
		args = make([]any, len(cArgs))
		for i, v := range cArgs {
			args[i] = valueToGo(v)
		}
	}
	res, err := fn(args)
	if err != nil {
		resultError(ctx, err.Error())
		return
	}
	resultToC(ctx, res)
}

//export _sqliteFuncDestroyTramp
func _sqliteFuncDestroyTramp(ud unsafe.Pointer) {
	funcRegistry.unregister(uintptr(ud))
}

//export _sqliteAuthorizerTramp
func _sqliteAuthorizerTramp(ud unsafe.Pointer, action C.int, cArg1, cArg2, cDB, cTrigger *C.char) (rv C.int) {
	fn, _ := authorizerRegistry.lookup(uintptr(ud)).(AuthorizerFunc)
	if fn == nil {
		return AuthOK
	}
	// the default on any fault is to allow: authorizer failures must not
	// abort engine execution
	rv = AuthOK
	defer func() {
		if p := recover(); p != nil {
			rv = AuthOK
		}
	}()
	res := fn(int(action), C.GoString(cArg1), C.GoString(cArg2), C.GoString(cDB), C.GoString(cTrigger))
	switch res {
	case AuthOK, AuthDeny, AuthIgnore:
		return C.int(res)
	default:
		return AuthOK
	}
}

//export _sqliteProgressTramp
func _sqliteProgressTramp(ud unsafe.Pointer) (rv C.int) {
	fn, _ := progressRegistry.lookup(uintptr(ud)).(ProgressFunc)
	if fn == nil {
		return 0
	}
	// continue on any fault: a broken progress handler must not interrupt
	// the statement
	rv = 0
	defer func() {
		if p := recover(); p != nil {
			rv = 0
		}
	}()
	if !fn() {
		return 1
	}
	return 0
}

//export _sqliteTraceTramp
func _sqliteTraceTramp(ev C.uint, ud, p, x unsafe.Pointer) C.int {
	if ev != C.SQLITE_TRACE_STMT {
		return 0
	}
	fn, _ := traceRegistry.lookup(uintptr(ud)).(TraceFunc)
	if fn == nil {
		return 0
	}
	defer func() {
		_ = recover() // trace errors are dropped
	}()
	fn(C.GoString((*C.char)(x)))
	return 0
}
