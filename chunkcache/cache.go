// Package chunkcache implements the chunk decode pipeline: fetching a
// chunk's byte range from a rosbag.Source, decompressing it, parsing its
// embedded index-data records, sorting message pointers by received time,
// decoding each message against a cached schema, and caching the result
// under a FIFO byte budget.
//
// Grounded on github.com/foxglove/mcap/go/ros/bag2mcap.go's per-chunk
// compression dispatch (processBag's OpBagChunk handling) and, for the
// cache's insertion-ordered storage, the dense index-keyed style of
// github.com/foxglove/mcap/go/mcap/slicemap generalized to an explicit
// order slice since eviction here is FIFO-by-insertion rather than
// slice-dense-by-ID.
package chunkcache

import (
	"sync"

	"github.com/ziadastih/rosbag-rx/rosbag"
)

// MaxCacheBytes is the byte budget for the chunk cache's FIFO eviction,
// billed against each chunk's on-disk span (next_chunk_position -
// chunk_position), not its decompressed size, per SPEC_FULL.md §4.6.
const MaxCacheBytes = 50 * 1024 * 1024

// Entry is one cached chunk's decoded messages plus its billed size.
type Entry struct {
	Messages  []rosbag.RosbagMessage
	SizeBytes int64
}

// cache is an insertion-ordered map from chunk index to Entry, evicted
// FIFO once currentBytes exceeds maxBytes. Go maps have no defined
// iteration order, so insertion order is tracked explicitly in order.
type cache struct {
	mu           sync.Mutex
	entries      map[int]*Entry
	order        []int
	currentBytes int64
	maxBytes     int64
}

func newCache(maxBytes int64) *cache {
	return &cache{
		entries:  make(map[int]*Entry),
		maxBytes: maxBytes,
	}
}

func (c *cache) get(idx int) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[idx]
	return e, ok
}

// has reports whether idx is cached, without copying the entry.
func (c *cache) has(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[idx]
	return ok
}

// insert adds entry under idx and evicts oldest entries, by insertion
// order, until currentBytes is back within budget.
func (c *cache) insert(idx int, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[idx]; exists {
		return
	}
	c.entries[idx] = entry
	c.order = append(c.order, idx)
	c.currentBytes += entry.SizeBytes

	for c.currentBytes > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if old, ok := c.entries[oldest]; ok {
			c.currentBytes -= old.SizeBytes
			delete(c.entries, oldest)
		}
	}
}

func (c *cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]*Entry)
	c.order = nil
	c.currentBytes = 0
}

func (c *cache) bytesUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBytes
}
