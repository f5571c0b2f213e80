// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"log"
	"time"

	"github.com/sessionlite/sessionlite/internal/sqlite0"
	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"
)

// queryCache keeps prepared statements per physical connection, keyed by
// the hash of the final query text. Eviction runs after each operation so
// a burst of one-off queries doesn't hold memory on every connection.
type queryCache struct {
	queryCache   map[stmtHash]int
	h            *minHeap
	cacheMaxSize int
	logger       *log.Logger
}

type stmtHash struct {
	low  uint64
	high uint64
}

type cachedStmtInfo struct {
	key       stmtHash
	lastTouch int64
	stmt      *sqlite0.Stmt
}

const cacheMaxSizeDefault = 3000

func newQueryCache(cacheMaxSize int, logger *log.Logger) *queryCache {
	if cacheMaxSize <= 0 {
		cacheMaxSize = cacheMaxSizeDefault
	}
	cache := &queryCache{
		queryCache:   make(map[stmtHash]int),
		cacheMaxSize: cacheMaxSize,
		logger:       logger,
	}
	cache.h = newHeap(func(a, b stmtHash, i, j int) {
		cache.queryCache[a] = i
		cache.queryCache[b] = j
	})
	return cache
}

func (cache *queryCache) shrink() {
	if len(cache.queryCache) > cache.cacheMaxSize {
		cache.evictLocked(len(cache.queryCache) - cache.cacheMaxSize)
	}
}

func (cache *queryCache) put(key stmtHash, stmt *sqlite0.Stmt) {
	stmtInfo := &cachedStmtInfo{key: key, lastTouch: time.Now().Unix(), stmt: stmt}
	ix := cache.h.put(stmtInfo)
	cache.queryCache[key] = ix
}

func (cache *queryCache) get(key stmtHash) (res *sqlite0.Stmt, ok bool) {
	ix, ok := cache.queryCache[key]
	if ok {
		cachedStmt := cache.h.get(ix)
		cachedStmt.lastTouch = time.Now().Unix()
		return cachedStmt.stmt, ok
	}
	return nil, false
}

func (cache *queryCache) evictLocked(count int) {
	for i := 0; i < count; i++ {
		stmt := cache.h.pop()
		if stmt.stmt != nil {
			if err := stmt.stmt.Close(); err != nil && cache.logger != nil {
				cache.logger.Println("[error] failed to close cached stmt:", err.Error())
			}
		}
		delete(cache.queryCache, stmt.key)
	}
}

func (cache *queryCache) close(err *error) {
	for _, ix := range cache.queryCache {
		if st := cache.h.get(ix).stmt; st != nil {
			multierr.AppendInto(err, st.Close())
		}
	}
	cache.queryCache = map[stmtHash]int{}
}

func (cache *queryCache) size() int {
	return len(cache.queryCache)
}

func calcHashBytes(key []byte) stmtHash {
	h := xxh3.Hash128(key)
	return stmtHash{
		low:  h.Lo,
		high: h.Hi,
	}
}
