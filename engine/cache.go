package engine

import (
	"sync"

	"github.com/coocood/freecache"
	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"

	"github.com/janelia-flyem/bfio/bio"
)

// cachedChunk is a decoded chunk or a record that the chunk was never written.
type cachedChunk struct {
	data  []byte
	found bool
}

// chunkCache holds decoded chunks for reuse across reads and prefetches.  Chunks small
// enough for freecache's per-entry limit live off the GC heap in freecache; larger
// chunks go in a byte-bounded LRU.  Concurrent fetches of one chunk share a single
// store read.
type chunkCache struct {
	small *freecache.Cache
	// largest value freecache accepts for a given cache size
	smallLimit int

	mu         sync.Mutex
	large      *lru.Cache
	largeBytes int64
	largeLimit int64

	flight singleflight.Group
}

// minSmallCache is freecache's minimum size.
const minSmallCache = 512 * 1024

// newChunkCache returns a cache holding up to about numBytes of chunk data, or nil if
// numBytes is zero.
func newChunkCache(numBytes int64) *chunkCache {
	if numBytes <= 0 {
		return nil
	}
	c := &chunkCache{
		large:      lru.New(0),
		largeLimit: numBytes / 2,
	}
	smallBytes := numBytes - c.largeLimit
	if smallBytes < minSmallCache {
		smallBytes = minSmallCache
	}
	c.small = freecache.NewCache(int(smallBytes))
	c.smallLimit = int(smallBytes/1024) - 64
	c.large.OnEvicted = func(key lru.Key, value interface{}) {
		c.largeBytes -= int64(len(value.(cachedChunk).data))
	}
	return c
}

func (c *chunkCache) get(key string) (cachedChunk, bool) {
	if c == nil {
		return cachedChunk{}, false
	}
	if value, err := c.small.Get([]byte(key)); err == nil {
		if len(value) == 0 {
			return cachedChunk{}, false
		}
		return cachedChunk{data: value[1:], found: value[0] == 1}, true
	} else if err != freecache.ErrNotFound {
		bio.Debugf("Chunk cache error on %q: %v\n", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if value, found := c.large.Get(key); found {
		return value.(cachedChunk), true
	}
	return cachedChunk{}, false
}

func (c *chunkCache) put(key string, chunk cachedChunk) {
	if c == nil {
		return
	}
	if len(chunk.data)+1+len(key) <= c.smallLimit {
		value := make([]byte, len(chunk.data)+1)
		if chunk.found {
			value[0] = 1
		}
		copy(value[1:], chunk.data)
		if err := c.small.Set([]byte(key), value, 0); err == nil {
			return
		}
	}
	size := int64(len(chunk.data))
	if size > c.largeLimit {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.large.Remove(key)
	c.large.Add(key, chunk)
	c.largeBytes += size
	for c.largeBytes > c.largeLimit && c.large.Len() > 0 {
		c.large.RemoveOldest()
	}
}

func (c *chunkCache) remove(key string) {
	if c == nil {
		return
	}
	c.small.Del([]byte(key))
	c.mu.Lock()
	c.large.Remove(key)
	c.mu.Unlock()
}

func (c *chunkCache) clear() {
	if c == nil {
		return
	}
	c.small.Clear()
	c.mu.Lock()
	c.large.Clear()
	c.largeBytes = 0
	c.mu.Unlock()
}

// entries returns the number of cached chunks.
func (c *chunkCache) entries() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.small.EntryCount() + int64(c.large.Len())
}
