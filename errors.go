// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"errors"
	"fmt"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
)

// Kind is the coarse error taxonomy surfaced to callers. Engine errors are
// classified exactly once, at the router boundary, and never re-classified
// downstream.
type Kind int

const (
	// KindDatabase is anything not otherwise classified.
	KindDatabase Kind = iota
	// KindConstraint covers uniqueness/foreign-key/not-null violations.
	// Recoverable by the caller, never retried automatically.
	KindConstraint
	// KindOperational covers lock contention, I/O failure and connection
	// unavailability, and internal state-machine faults.
	KindOperational
	// KindProgramming covers malformed SQL and wrong result shapes.
	KindProgramming
)

func (k Kind) String() string {
	switch k {
	case KindConstraint:
		return "constraint"
	case KindOperational:
		return "operational"
	case KindProgramming:
		return "programming"
	default:
		return "database"
	}
}

var (
	ErrClosed      = errors.New("session is closed")
	ErrNoTx        = errors.New("no transaction is active")
	ErrTxActive    = errors.New("transaction already active")
	ErrNoRows      = errors.New("query returned no rows")
	ErrTooManyRows = errors.New("query returned more than one row")
	ErrExtensions  = errors.New("extension loading is not enabled")
)

// Error is the classified error type returned by all Session entry points.
type Error struct {
	kind Kind
	op   string
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sessionlite: %s: %v", e.op, e.err)
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf extracts the Kind from a classified error; unclassified errors
// report KindDatabase.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindDatabase
}

func operational(op string, err error) error {
	return &Error{kind: KindOperational, op: op, err: err}
}

func programming(op string, err error) error {
	return &Error{kind: KindProgramming, op: op, err: err}
}

// classify wraps an engine error once with its taxonomy kind. Already
// classified errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	var se sqlite0.Error
	if !errors.As(err, &se) {
		return &Error{kind: KindOperational, op: op, err: err}
	}
	switch se.PrimaryCode() {
	case sqlite0.Constraint:
		return &Error{kind: KindConstraint, op: op, err: err}
	case sqlite0.Busy, sqlite0.Locked, sqlite0.IOErr, sqlite0.Full,
		sqlite0.CantOpen, sqlite0.NoMem, sqlite0.Perm, sqlite0.ReadOnly,
		sqlite0.Abort, sqlite0.Interrupt:
		return &Error{kind: KindOperational, op: op, err: err}
	case sqlite0.GenericError, sqlite0.Misuse, sqlite0.Range, sqlite0.Mismatch:
		return &Error{kind: KindProgramming, op: op, err: err}
	default:
		return &Error{kind: KindDatabase, op: op, err: err}
	}
}
