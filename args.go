// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"fmt"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
)

const (
	argNull = iota
	argZeroBlob
	argBlob
	argBlobUnsafe
	argBlobString
	argText
	argTextUnsafe
	argTextString
	argInt64
	argFloat64
	argInvalid
)

// Arg is a single bound parameter. Named args bind to $name placeholders,
// positional args (see Params) to ? placeholders by index.
type Arg struct {
	name string
	pos  int
	typ  int

	b []byte
	s string
	n int64
	f float64

	slice  bool
	ss     []string
	ns     []int64
	length int
}

func Null(name string) Arg {
	return Arg{name: name, typ: argNull}
}

func ZeroBlob(name string, size int) Arg {
	return Arg{name: name, typ: argZeroBlob, n: int64(size)}
}

func Blob(name string, b []byte) Arg {
	return Arg{name: name, typ: argBlob, b: b}
}

func BlobUnsafe(name string, b []byte) Arg {
	return Arg{name: name, typ: argBlobUnsafe, b: b}
}

func BlobString(name string, s string) Arg {
	return Arg{name: name, typ: argBlobString, s: s}
}

func Text(name string, b []byte) Arg {
	return Arg{name: name, typ: argText, b: b}
}

func TextUnsafe(name string, b []byte) Arg {
	return Arg{name: name, typ: argTextUnsafe, b: b}
}

func TextString(name string, s string) Arg {
	return Arg{name: name, typ: argTextString, s: s}
}

func Int64(name string, n int64) Arg {
	return Arg{name: name, typ: argInt64, n: n}
}

func Float64(name string, f float64) Arg {
	return Arg{name: name, typ: argFloat64, f: f}
}

// Int64Slice expands into a generated parameter list; the placeholder name
// must look like $name$ and occur exactly once in the query.
func Int64Slice(name string, ns []int64) Arg {
	return Arg{name: name, typ: argInt64, slice: true, ns: ns, length: len(ns)}
}

// TextStringSlice is the string counterpart of Int64Slice.
func TextStringSlice(name string, ss []string) Arg {
	return Arg{name: name, typ: argTextString, slice: true, ss: ss, length: len(ss)}
}

// Params converts plain Go values into positional args for ? placeholders,
// in order. Supported: nil, bool, integers, float64, string, []byte.
func Params(vs ...any) []Arg {
	args := make([]Arg, 0, len(vs))
	for i, v := range vs {
		args = append(args, positional(i+1, v))
	}
	return args
}

func positional(pos int, v any) Arg {
	switch v := v.(type) {
	case nil:
		return Arg{pos: pos, typ: argNull}
	case bool:
		n := int64(0)
		if v {
			n = 1
		}
		return Arg{pos: pos, typ: argInt64, n: n}
	case int:
		return Arg{pos: pos, typ: argInt64, n: int64(v)}
	case int32:
		return Arg{pos: pos, typ: argInt64, n: int64(v)}
	case int64:
		return Arg{pos: pos, typ: argInt64, n: v}
	case uint32:
		return Arg{pos: pos, typ: argInt64, n: int64(v)}
	case float64:
		return Arg{pos: pos, typ: argFloat64, f: v}
	case string:
		return Arg{pos: pos, typ: argTextString, s: v}
	case []byte:
		return Arg{pos: pos, typ: argBlob, b: v}
	default:
		return Arg{pos: pos, typ: argInvalid, s: fmt.Sprintf("%T", v)}
	}
}

func bindOne(si *sqlite0.Stmt, p int, arg Arg) error {
	switch arg.typ {
	case argNull:
		return si.BindNull(p)
	case argZeroBlob:
		return si.BindZeroBlob(p, int(arg.n))
	case argBlob:
		return si.BindBlob(p, arg.b)
	case argBlobUnsafe:
		return si.BindBlobUnsafe(p, arg.b)
	case argBlobString:
		return si.BindBlobString(p, arg.s)
	case argText:
		return si.BindText(p, arg.b)
	case argTextUnsafe:
		return si.BindTextUnsafe(p, arg.b)
	case argTextString:
		return si.BindTextString(p, arg.s)
	case argInt64:
		return si.BindInt64(p, arg.n)
	case argFloat64:
		return si.BindFloat64(p, arg.f)
	case argInvalid:
		return programming("bind", fmt.Errorf("unsupported value type %s for param %d", arg.s, arg.pos))
	default:
		return programming("bind", fmt.Errorf("unsupported arg type for %q: %v", arg.name, arg.typ))
	}
}

func bindParam(si *sqlite0.Stmt, qb *queryBuilder, args ...Arg) (*sqlite0.Stmt, error) {
	sliceStart := 0
	for _, arg := range args {
		if arg.slice {
			for i := 0; i < arg.length; i++ {
				p := si.ParamBytes(qb.NameBy(sliceStart))
				if p == 0 {
					return nil, programming("bind", fmt.Errorf("unknown generated param %d for %q", sliceStart, arg.name))
				}
				var err error
				switch arg.typ {
				case argInt64:
					err = si.BindInt64(p, arg.ns[i])
				case argTextString:
					err = si.BindTextString(p, arg.ss[i])
				default:
					err = programming("bind", fmt.Errorf("unsupported slice arg type for %q: %v", arg.name, arg.typ))
				}
				if err != nil {
					return nil, err
				}
				sliceStart++
			}
			continue
		}
		p := arg.pos
		if p == 0 {
			p = si.Param(arg.name)
		}
		if p == 0 {
			return nil, programming("bind", fmt.Errorf("query has no param %q", arg.name))
		}
		if err := bindOne(si, p, arg); err != nil {
			return nil, err
		}
	}
	return si, nil
}
