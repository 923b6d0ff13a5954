package chunkcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEvictionFIFO(t *testing.T) {
	c := newCache(50 * 1024 * 1024)

	c.insert(0, &Entry{SizeBytes: 30 * 1024 * 1024})
	require.Equal(t, int64(30*1024*1024), c.bytesUsed())

	c.insert(1, &Entry{SizeBytes: 25 * 1024 * 1024})

	_, stillCached := c.get(0)
	assert.False(t, stillCached, "oldest entry should have been evicted")
	_, cached := c.get(1)
	assert.True(t, cached)
	assert.Equal(t, int64(25*1024*1024), c.bytesUsed())
}

func TestCacheInsertIdempotent(t *testing.T) {
	c := newCache(50 * 1024 * 1024)
	c.insert(0, &Entry{SizeBytes: 10})
	c.insert(0, &Entry{SizeBytes: 999})
	assert.Equal(t, int64(10), c.bytesUsed())
}

func TestCacheResetClearsEverything(t *testing.T) {
	c := newCache(50 * 1024 * 1024)
	c.insert(0, &Entry{SizeBytes: 10})
	c.reset()
	assert.Equal(t, int64(0), c.bytesUsed())
	_, ok := c.get(0)
	assert.False(t, ok)
}
