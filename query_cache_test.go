// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testCacheLogger() *log.Logger {
	return log.New(os.Stdout, "[sessionlite-test]", log.LstdFlags)
}

func TestCachePutGet(t *testing.T) {
	cache := newQueryCache(5, testCacheLogger())
	for i := uint64(0); i < 10; i++ {
		cache.put(stmtHash{low: i, high: i}, nil)
	}
	require.Equal(t, 10, cache.size())
	for i := uint64(0); i < 10; i++ {
		_, ok := cache.get(stmtHash{low: i, high: i})
		require.True(t, ok)
	}
	_, ok := cache.get(stmtHash{low: 100})
	require.False(t, ok)

	cache.shrink()
	require.Equal(t, 5, cache.size())

	var err error
	cache.close(&err)
	require.NoError(t, err)
	require.Equal(t, 0, cache.size())
}

func TestCacheShrinkKeepsIndexConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSize := rapid.IntRange(1, 8).Draw(t, "max size")
		cache := newQueryCache(maxSize, testCacheLogger())
		var alive []stmtHash
		t.Repeat(map[string]func(*rapid.T){
			"put": func(t *rapid.T) {
				h := stmtHash{
					low:  rapid.Uint64().Draw(t, "lo"),
					high: rapid.Uint64().Draw(t, "hi"),
				}
				if _, ok := cache.queryCache[h]; ok {
					t.SkipNow()
					return
				}
				cache.put(h, nil)
				alive = append(alive, h)
			},
			"shrink": func(t *rapid.T) {
				cache.shrink()
				require.LessOrEqual(t, cache.size(), maxSize)
				alive = alive[:0]
				for h := range cache.queryCache {
					alive = append(alive, h)
				}
			},
			"": func(t *rapid.T) {
				for _, h := range alive {
					ix, ok := cache.queryCache[h]
					require.True(t, ok)
					require.Equal(t, h, cache.h.get(ix).key)
				}
			},
		})
	})
}
