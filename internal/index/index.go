// Package index implements the process-wide, capacity-bounded entry index:
// a record of which cache keys currently have a spilled blob file on disk,
// and which file to evict when the index overflows.
package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/nbstore/blobcache/internal/blobtypes"
)

// Capacity is the fixed process-wide bound on the number of entries the
// index may hold at once.
const Capacity = 32

// WorkspaceDelimiter separates a workspace ID from a blob key inside a
// cache key, matching the original U+001F unit-separator convention.
const WorkspaceDelimiter = "\x1f"

// CacheKey joins a workspace ID and blob key into the index's key space.
func CacheKey(workspaceID, blobKey string) string {
	return workspaceID + WorkspaceDelimiter + blobKey
}

// Index is a process-wide LRU of blobtypes.CacheEntry, capped at the
// capacity passed to New.
// Every method is guarded by a single mutex held only for the duration of
// the in-memory bookkeeping; callers perform any resulting file I/O after
// the call returns, using the returned path(s).
type Index struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, blobtypes.CacheEntry]

	// evicted collects the path of every entry the LRU's eviction
	// callback reports while mu is held. Put clears it before and after
	// its Add and returns what the Add evicted; the callback also fires
	// for Remove and RemovePrefix, whose appends the next Put discards.
	evicted []string
}

// New returns an empty Index. capacity must be positive.
func New(capacity int) (*Index, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("index: capacity must be positive, got %d", capacity)
	}

	idx := &Index{}

	lru, err := simplelru.NewLRU[string, blobtypes.CacheEntry](capacity, func(_ string, entry blobtypes.CacheEntry) {
		idx.evicted = append(idx.evicted, entry.AbsolutePath)
	})
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	idx.lru = lru

	return idx, nil
}

// Get returns a copy of the entry for cacheKey, updating its recency on
// hit. The caller is expected to verify the backing file still exists and
// call Remove if it does not; that re-check happens outside any lock, so
// it must tolerate concurrent removal (I7).
func (idx *Index) Get(cacheKey string) (blobtypes.CacheEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.lru.Get(cacheKey)
}

// Put inserts or replaces the entry for cacheKey. If a different entry
// previously occupied cacheKey, or the insert evicted the LRU victim, the
// path(s) the caller must now delete are returned. A replacement whose new
// path equals the previous one yields no path, so callers never delete a
// file they are about to keep serving.
func (idx *Index) Put(cacheKey string, entry blobtypes.CacheEntry) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.evicted = idx.evicted[:0]

	var stale []string

	if prev, ok := idx.lru.Peek(cacheKey); ok && prev.AbsolutePath != entry.AbsolutePath {
		stale = append(stale, prev.AbsolutePath)
	}

	idx.lru.Add(cacheKey, entry)

	stale = append(stale, idx.evicted...)
	idx.evicted = idx.evicted[:0]

	return stale
}

// Remove drops cacheKey and returns its backing path, if present.
func (idx *Index) Remove(cacheKey string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.lru.Peek(cacheKey)
	if !ok {
		return "", false
	}

	idx.lru.Remove(cacheKey)

	return entry.AbsolutePath, true
}

// RemovePrefix removes every entry whose cache key starts with prefix
// (typically a workspace ID plus WorkspaceDelimiter) and returns their
// backing paths.
func (idx *Index) RemovePrefix(prefix string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var (
		paths   []string
		matched []string
	)

	for _, key := range idx.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}

	for _, key := range matched {
		if entry, ok := idx.lru.Peek(key); ok {
			paths = append(paths, entry.AbsolutePath)
		}

		idx.lru.Remove(key)
	}

	return paths
}

// Len returns the current number of entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.lru.Len()
}
