// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sqlite0 is a thin cgo binding over the system SQLite library. It
// exposes exactly what the session layer needs: connections, statements,
// native callback registration and the online backup protocol. The binding
// never hands raw Go pointers to C; callback user data is always an integer
// id into a package-level registry.
package sqlite0

/*
#cgo LDFLAGS: -lsqlite3

#include <stdint.h>
#include <stdlib.h>
#include <sqlite3.h>

extern void _sqliteLogTramp(void*, int, const char*);
extern void _sqliteScalarFuncTramp(sqlite3_context*, int, sqlite3_value**);
extern void _sqliteFuncDestroyTramp(void*);
extern int _sqliteAuthorizerTramp(void*, int, const char*, const char*, const char*, const char*);
extern int _sqliteProgressTramp(void*);
extern int _sqliteTraceTramp(unsigned, void*, void*, void*);

static int _sqlite_enable_logging(void) {
	return sqlite3_config(SQLITE_CONFIG_LOG, _sqliteLogTramp, NULL);
}

// cgo doesn't handle SQLITE_{STATIC,TRANSIENT} pointer constants.
static int _sqlite3_bind_text(sqlite3_stmt *s, int i, const char *p, int n, int copy) {
	return sqlite3_bind_text(s, i, p, n, copy ? SQLITE_TRANSIENT : SQLITE_STATIC);
}

static int _sqlite3_bind_blob(sqlite3_stmt *s, int i, const void *p, int n, int copy) {
	return sqlite3_bind_blob(s, i, p, n, copy ? SQLITE_TRANSIENT : SQLITE_STATIC);
}

static int _sqlite_create_scalar_function(sqlite3 *db, const char *name, int nArg, uintptr_t id) {
	return sqlite3_create_function_v2(db, name, nArg, SQLITE_UTF8, (void*)id,
		_sqliteScalarFuncTramp, NULL, NULL, _sqliteFuncDestroyTramp);
}

static int _sqlite_clear_scalar_function(sqlite3 *db, const char *name, int nArg) {
	return sqlite3_create_function_v2(db, name, nArg, SQLITE_UTF8, NULL, NULL, NULL, NULL, NULL);
}

static int _sqlite_set_authorizer(sqlite3 *db, uintptr_t id) {
	return sqlite3_set_authorizer(db, _sqliteAuthorizerTramp, (void*)id);
}

static int _sqlite_clear_authorizer(sqlite3 *db) {
	return sqlite3_set_authorizer(db, NULL, NULL);
}

static void _sqlite_set_progress_handler(sqlite3 *db, int nOps, uintptr_t id) {
	sqlite3_progress_handler(db, nOps, _sqliteProgressTramp, (void*)id);
}

static void _sqlite_clear_progress_handler(sqlite3 *db) {
	sqlite3_progress_handler(db, 0, NULL, NULL);
}

static int _sqlite_set_trace(sqlite3 *db, uintptr_t id) {
	return sqlite3_trace_v2(db, SQLITE_TRACE_STMT, _sqliteTraceTramp, (void*)id);
}

static int _sqlite_clear_trace(sqlite3 *db) {
	return sqlite3_trace_v2(db, 0, NULL, NULL);
}

static int _sqlite_enable_load_extension(sqlite3 *db, int onoff) {
	return sqlite3_db_config(db, SQLITE_DBCONFIG_ENABLE_LOAD_EXTENSION, onoff, NULL);
}

// Non-static: also called from the trampolines in callback.go.
void _sqlite_result_text(sqlite3_context *ctx, const char *p, int n) {
	sqlite3_result_text(ctx, p, n, SQLITE_TRANSIENT);
}

void _sqlite_result_blob(sqlite3_context *ctx, const void *p, int n) {
	sqlite3_result_blob(ctx, p, n, SQLITE_TRANSIENT);
}
*/
import "C"
import (
	"runtime"
	"time"
	"unsafe"
)

var (
	initErr error
)

func init() {
	rc := C._sqlite_enable_logging()
	if rc != ok {
		initErr = sqliteErr(rc, nil, "_sqlite_enable_logging")
	}
	rc = C.sqlite3_initialize()
	if rc != ok {
		initErr = sqliteErr(rc, nil, "sqlite3_initialize")
	}
}

// SetLogf routes SQLite's global error log into fn. The hook is process
// wide; install it before opening connections.
func SetLogf(fn LogFunc) {
	logFuncMu.Lock()
	defer logFuncMu.Unlock()

	logFunc = fn
}

func Version() string {
	if initErr != nil {
		return ""
	}
	return C.GoString(C.sqlite3_libversion())
}

type Conn struct {
	conn *C.sqlite3

	traceID      uintptr
	authorizerID uintptr
	progressID   uintptr
}

func Open(path string, flags int) (*Conn, error) {
	if initErr != nil {
		return nil, initErr
	}

	var cConn *C.sqlite3
	path = ensureZeroTerm(path)
	rc := C.sqlite3_open_v2(unsafeStringCPtr(path), &cConn, C.int(flags), nil) //nolint:gocritic // nonsense
	runtime.KeepAlive(path)
	if rc != ok {
		err := sqliteErr(rc, cConn, "sqlite3_open_v2")
		C.sqlite3_close_v2(cConn)
		return nil, err
	}

	C.sqlite3_extended_result_codes(cConn, 1)

	return &Conn{conn: cConn}, nil
}

func (c *Conn) Close() error {
	c.clearCallbacks()
	var err error
	if c.conn != nil {
		rc := C.sqlite3_close(c.conn)
		if rc != ok {
			err = sqliteErr(rc, nil, "sqlite3_close")
			if rc == Busy {
				C.sqlite3_close_v2(c.conn)
			}
		}
		c.conn = nil
	}
	return err
}

// Handle returns the raw native handle of this physical connection, for use
// with APIs that operate on sqlite3* directly (backup, foreign interop).
// The pointer is only valid until Close.
func (c *Conn) Handle() unsafe.Pointer {
	return unsafe.Pointer(c.conn)
}

// AutoCommit reports whether the connection is outside an explicit
// transaction.
func (c *Conn) AutoCommit() bool {
	return C.sqlite3_get_autocommit(c.conn) != 0
}

func (c *Conn) SetBusyTimeout(dt time.Duration) error {
	rc := C.sqlite3_busy_timeout(c.conn, C.int(dt/time.Millisecond))
	return sqliteErr(rc, c.conn, "sqlite3_busy_timeout")
}

func (c *Conn) Interrupt() {
	if c.conn != nil {
		C.sqlite3_interrupt(c.conn)
	}
}

func (c *Conn) Exec(sql string) error {
	sql = ensureZeroTerm(sql)
	rc := C.sqlite3_exec(c.conn, unsafeStringCPtr(sql), nil, nil, nil)
	runtime.KeepAlive(sql)
	return sqliteErr(rc, c.conn, "sqlite3_exec")
}

func (c *Conn) LastInsertRowID() int64 {
	id := C.sqlite3_last_insert_rowid(c.conn)
	return int64(id)
}

func (c *Conn) RowsAffected() int64 {
	n := C.sqlite3_changes(c.conn)
	return int64(n)
}

func (c *Conn) TotalChanges() int64 {
	n := C.sqlite3_total_changes(c.conn)
	return int64(n)
}

func (c *Conn) LoadExtension(path, entry string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	var cEntry *C.char
	if entry != "" {
		cEntry = C.CString(entry)
		defer C.free(unsafe.Pointer(cEntry))
	}
	var cMsg *C.char
	rc := C.sqlite3_load_extension(c.conn, cPath, cEntry, &cMsg)
	if rc != ok {
		msg := ""
		if cMsg != nil {
			msg = C.GoString(cMsg)
			C.sqlite3_free(unsafe.Pointer(cMsg))
		}
		if msg != "" {
			return Error{int(rc), "sqlite3_load_extension", msg}
		}
		return sqliteErr(rc, c.conn, "sqlite3_load_extension")
	}
	return nil
}

type Stmt struct {
	conn             *Conn
	stmt             *C.sqlite3_stmt
	keepAliveStrings []string
	keepAliveBytes   [][]byte
	params           map[string]int
	n                int
}

func (c *Conn) Prepare(sql []byte, persistent bool) (*Stmt, []byte, error) {
	var cStmt *C.sqlite3_stmt
	var cTail *C.char
	if len(sql) == 0 || sql[len(sql)-1] != 0 {
		sql = append(sql, 0)
	}
	cSQL := unsafeSliceCPtr(sql)
	var flags C.uint
	if persistent {
		flags = preparePersistent
	}
	rc := C.sqlite3_prepare_v3(c.conn, cSQL, C.int(len(sql)), flags, &cStmt, &cTail) //nolint:gocritic // nonsense
	runtime.KeepAlive(sql)
	if rc != ok {
		return nil, nil, sqliteErr(rc, c.conn, "sqlite3_prepare_v3")
	}
	if cStmt == nil {
		return nil, nil, nil
	}

	var tail []byte
	if cTail != nil {
		tailOffset := int(uintptr(unsafe.Pointer(cTail)) - uintptr(unsafe.Pointer(cSQL)))
		if tailOffset >= 0 && tailOffset < len(sql) {
			tail = sql[tailOffset:]
		}
	}

	n := int(C.sqlite3_bind_parameter_count(cStmt))
	var params map[string]int
	if n > 0 {
		params = make(map[string]int, n)
		for i := 0; i < n; i++ {
			name := C.sqlite3_bind_parameter_name(cStmt, C.int(i+1))
			if name != nil {
				params[C.GoString(name)] = i + 1
			}
		}
	}
	return &Stmt{
		conn:   c,
		stmt:   cStmt,
		params: params,
		n:      n,
	}, tail, nil
}

func (s *Stmt) Close() error {
	rc := C.sqlite3_finalize(s.stmt)
	s.stmt = nil
	return sqliteErr(rc, s.conn.conn, "sqlite3_finalize")
}

func (s *Stmt) SQL() string {
	return C.GoString(C.sqlite3_sql(s.stmt))
}

func (s *Stmt) ExpandedSQL() string {
	cStr := C.sqlite3_expanded_sql(s.stmt)
	if cStr == nil {
		return ""
	}
	defer C.sqlite3_free(unsafe.Pointer(cStr))

	return C.GoString(cStr)
}

func (s *Stmt) Reset() error {
	rc := C.sqlite3_reset(s.stmt)
	return sqliteErr(rc, s.conn.conn, "sqlite3_reset")
}

func (s *Stmt) ClearBindings() error {
	rc := C.sqlite3_clear_bindings(s.stmt)
	for i := range s.keepAliveStrings {
		s.keepAliveStrings[i] = ""
	}
	for i := range s.keepAliveBytes {
		s.keepAliveBytes[i] = nil
	}
	return sqliteErr(rc, s.conn.conn, "sqlite3_clear_bindings")
}

func (s *Stmt) ParamCount() int {
	return s.n
}

func (s *Stmt) Param(name string) int {
	return s.params[name]
}

func (s *Stmt) ParamBytes(name []byte) int {
	return s.params[string(name)]
}

func (s *Stmt) BindNull(param int) error {
	rc := C.sqlite3_bind_null(s.stmt, C.int(param))
	return sqliteErr(rc, s.conn.conn, "sqlite3_bind_null")
}

func (s *Stmt) BindZeroBlob(param int, n int) error {
	rc := C.sqlite3_bind_zeroblob(s.stmt, C.int(param), C.int(n))
	return sqliteErr(rc, s.conn.conn, "sqlite3_bind_zeroblob")
}

func (s *Stmt) BindBlob(param int, v []byte) error {
	if len(v) == 0 {
		return s.BindZeroBlob(param, 0) // micro-optimization
	}
	rc := C._sqlite3_bind_blob(s.stmt, C.int(param), unsafeSlicePtr(v), C.int(len(v)), 1)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_blob")
}

// BindBlobUnsafe caller must ensure that v is immutable during query execution.
func (s *Stmt) BindBlobUnsafe(param int, v []byte) error {
	if len(v) == 0 {
		return s.BindZeroBlob(param, 0) // micro-optimization
	}
	if s.keepAliveBytes == nil {
		s.keepAliveBytes = make([][]byte, s.n)
	}
	s.keepAliveBytes[param-1] = v
	rc := C._sqlite3_bind_blob(s.stmt, C.int(param), unsafeSlicePtr(v), C.int(len(v)), 0)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_blob")
}

func (s *Stmt) BindBlobString(param int, v string) error {
	if len(v) == 0 {
		return s.BindZeroBlob(param, 0) // micro-optimization
	}
	if s.keepAliveStrings == nil {
		s.keepAliveStrings = make([]string, s.n)
	}
	s.keepAliveStrings[param-1] = v
	rc := C._sqlite3_bind_blob(s.stmt, C.int(param), unsafeStringPtr(v), C.int(len(v)), 0)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_blob")
}

func (s *Stmt) BindText(param int, v []byte) error {
	rc := C._sqlite3_bind_text(s.stmt, C.int(param), unsafeSliceCPtr(v), C.int(len(v)), 1)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_text")
}

// BindTextUnsafe caller must ensure that v is immutable during query execution.
func (s *Stmt) BindTextUnsafe(param int, v []byte) error {
	if s.keepAliveBytes == nil {
		s.keepAliveBytes = make([][]byte, s.n)
	}
	s.keepAliveBytes[param-1] = v
	rc := C._sqlite3_bind_text(s.stmt, C.int(param), unsafeSliceCPtr(v), C.int(len(v)), 0)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_text")
}

func (s *Stmt) BindTextString(param int, v string) error {
	if s.keepAliveStrings == nil {
		s.keepAliveStrings = make([]string, s.n)
	}
	s.keepAliveStrings[param-1] = v
	rc := C._sqlite3_bind_text(s.stmt, C.int(param), unsafeStringCPtr(v), C.int(len(v)), 0)
	return sqliteErr(rc, s.conn.conn, "_sqlite3_bind_text")
}

func (s *Stmt) BindInt64(param int, v int64) error {
	rc := C.sqlite3_bind_int64(s.stmt, C.int(param), C.longlong(v))
	return sqliteErr(rc, s.conn.conn, "sqlite3_bind_int64")
}

func (s *Stmt) BindFloat64(param int, v float64) error {
	rc := C.sqlite3_bind_double(s.stmt, C.int(param), C.double(v))
	return sqliteErr(rc, s.conn.conn, "sqlite3_bind_double")
}

func (s *Stmt) Step() (bool, error) {
	rc := C.sqlite3_step(s.stmt)
	switch rc {
	case row:
		return true, nil
	case done:
		return false, nil
	default:
		return false, sqliteErr(rc, s.conn.conn, "sqlite3_step")
	}
}

func (s *Stmt) ColumnCount() int {
	return int(C.sqlite3_column_count(s.stmt))
}

func (s *Stmt) ColumnType(i int) int {
	return int(C.sqlite3_column_type(s.stmt, C.int(i)))
}

func (s *Stmt) ColumnName(i int) string {
	return C.GoString(C.sqlite3_column_name(s.stmt, C.int(i)))
}

// ColumnBlobUnsafe can return nil slice both for zero-length BLOB and SQL NULL.
func (s *Stmt) ColumnBlobUnsafe(i int) ([]byte, error) {
	p := C.sqlite3_column_blob(s.stmt, C.int(i))
	if p == nil {
		rc := C.sqlite3_errcode(s.conn.conn)
		if rc != ok && rc != row {
			return nil, sqliteErr(rc, s.conn.conn, "sqlite3_column_blob") // out-of-memory during format conversion
		}
		return nil, nil // zero-length BLOB or SQL NULL
	}
	n := C.sqlite3_column_bytes(s.stmt, C.int(i))
	if n == 0 {
		return nil, nil
	}
	return unsafeSlice(unsafe.Pointer(p), int(n)), nil
}

func (s *Stmt) ColumnBlob(i int, buf []byte) ([]byte, error) {
	b, err := s.ColumnBlobUnsafe(i)
	return append(buf, b...), err
}

func (s *Stmt) ColumnBlobString(i int) (string, error) {
	b, err := s.ColumnBlobUnsafe(i)
	return string(b), err
}

func (s *Stmt) ColumnBlobUnsafeString(i int) (string, error) {
	b, err := s.ColumnBlobUnsafe(i)
	return unsafeToString(b), err
}

func (s *Stmt) ColumnInt64(i int) int64 {
	value := C.sqlite3_column_int64(s.stmt, C.int(i))
	return int64(value)
}

func (s *Stmt) ColumnFloat64(i int) float64 {
	value := C.sqlite3_column_double(s.stmt, C.int(i))
	return float64(value)
}

func (s *Stmt) ColumnNull(i int) bool {
	typ := C.sqlite3_column_type(s.stmt, C.int(i))
	return typ == C.SQLITE_NULL
}

// CreateScalarFunction registers fn under name with the given arity
// (nArg < 0 means variadic). SQLite owns the registration: the id handed
// to it as user data is released only by the engine-invoked destructor,
// which runs when the function is replaced, cleared or the connection is
// closed.
func (c *Conn) CreateScalarFunction(name string, nArg int, fn ScalarFunc) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	id := funcRegistry.register(fn)
	rc := C._sqlite_create_scalar_function(c.conn, cName, C.int(nArg), C.uintptr_t(id))
	if rc != ok {
		funcRegistry.unregister(id)
		return sqliteErr(rc, c.conn, "sqlite3_create_function_v2")
	}
	return nil
}

// DeleteScalarFunction clears the function slot for (name, nArg). The
// destructor of any previous registration fires inside this call.
func (c *Conn) DeleteScalarFunction(name string, nArg int) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	rc := C._sqlite_clear_scalar_function(c.conn, cName, C.int(nArg))
	return sqliteErr(rc, c.conn, "sqlite3_create_function_v2")
}

func (c *Conn) SetTrace(fn TraceFunc) error {
	oldID := c.traceID
	if fn == nil {
		rc := C._sqlite_clear_trace(c.conn)
		c.traceID = 0
		traceRegistry.unregister(oldID)
		return sqliteErr(rc, c.conn, "sqlite3_trace_v2")
	}
	id := traceRegistry.register(fn)
	rc := C._sqlite_set_trace(c.conn, C.uintptr_t(id))
	if rc != ok {
		traceRegistry.unregister(id)
		return sqliteErr(rc, c.conn, "sqlite3_trace_v2")
	}
	c.traceID = id
	traceRegistry.unregister(oldID)
	return nil
}

func (c *Conn) SetAuthorizer(fn AuthorizerFunc) error {
	oldID := c.authorizerID
	if fn == nil {
		rc := C._sqlite_clear_authorizer(c.conn)
		c.authorizerID = 0
		authorizerRegistry.unregister(oldID)
		return sqliteErr(rc, c.conn, "sqlite3_set_authorizer")
	}
	id := authorizerRegistry.register(fn)
	rc := C._sqlite_set_authorizer(c.conn, C.uintptr_t(id))
	if rc != ok {
		authorizerRegistry.unregister(id)
		return sqliteErr(rc, c.conn, "sqlite3_set_authorizer")
	}
	c.authorizerID = id
	authorizerRegistry.unregister(oldID)
	return nil
}

// SetProgressHandler arranges for fn to run every nOps virtual-machine
// steps. fn == nil or nOps <= 0 clears the handler.
func (c *Conn) SetProgressHandler(nOps int, fn ProgressFunc) {
	oldID := c.progressID
	if fn == nil || nOps <= 0 {
		C._sqlite_clear_progress_handler(c.conn)
		c.progressID = 0
		progressRegistry.unregister(oldID)
		return
	}
	id := progressRegistry.register(fn)
	C._sqlite_set_progress_handler(c.conn, C.int(nOps), C.uintptr_t(id))
	c.progressID = id
	progressRegistry.unregister(oldID)
}

func (c *Conn) EnableLoadExtension(on bool) error {
	onoff := C.int(0)
	if on {
		onoff = 1
	}
	rc := C._sqlite_enable_load_extension(c.conn, onoff)
	return sqliteErr(rc, c.conn, "sqlite3_db_config")
}

// clearCallbacks releases conn-level registry entries on Close. Scalar
// function entries are not touched here: sqlite3_close runs their
// destructors, and the destroy trampoline unregisters each id.
func (c *Conn) clearCallbacks() {
	if c.traceID != 0 {
		traceRegistry.unregister(c.traceID)
		c.traceID = 0
	}
	if c.authorizerID != 0 {
		authorizerRegistry.unregister(c.authorizerID)
		c.authorizerID = 0
	}
	if c.progressID != 0 {
		progressRegistry.unregister(c.progressID)
		c.progressID = 0
	}
}
