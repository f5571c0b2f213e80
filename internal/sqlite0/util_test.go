// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlite0

import "testing"

func TestUnsafePtrNonNil(t *testing.T) {
	p1 := unsafeSlicePtr(nil)
	if p1 == nil {
		t.Fatalf("got nil from unsafeSlicePtr")
	}
	p2 := unsafeStringPtr("")
	if p2 == nil {
		t.Fatalf("got nil from unsafeStringPtr")
	}
	p3 := unsafeSliceCPtr(nil)
	if p3 == nil {
		t.Fatalf("got nil from unsafeSliceCPtr")
	}
	p4 := unsafeStringCPtr("")
	if p4 == nil {
		t.Fatalf("got nil from unsafeStringCPtr")
	}
}

func TestEnsureZeroTerm(t *testing.T) {
	if s := ensureZeroTerm(""); s != "\x00" {
		t.Fatalf("empty string not terminated: %q", s)
	}
	if s := ensureZeroTerm("abc"); s != "abc\x00" {
		t.Fatalf("string not terminated: %q", s)
	}
	if s := ensureZeroTerm("abc\x00"); s != "abc\x00" {
		t.Fatalf("terminated string changed: %q", s)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := newRegistry()
	id := r.register(ScalarFunc(func(args []any) (any, error) { return nil, nil }))
	if id == 0 {
		t.Fatalf("registry handed out id 0")
	}
	if r.lookup(id) == nil {
		t.Fatalf("registered value not found")
	}
	r.unregister(id)
	if r.lookup(id) != nil {
		t.Fatalf("value survived unregister")
	}
	id2 := r.register("x")
	if id2 == id {
		t.Fatalf("registry reused id %d", id)
	}
}
