package hoststream

import (
	"context"
	"sort"
	"sync"
)

////////////////////////////////////////////////////////////////////////////////

// readFunc fetches exactly len(data) bytes starting at start from
// whatever backs the cache (an HTTP range request, typically).
type readFunc func(ctx context.Context, start uint64, data []byte) error

type chunk struct {
	start uint64
	data  []byte
}

func (c *chunk) read(start uint64, data []byte) uint64 {
	startOffset := start - c.start
	endOffset := startOffset + uint64(len(data))
	if endOffset > uint64(len(c.data)) {
		endOffset = uint64(len(c.data))
	}
	copy(data, c.data[startOffset:endOffset])
	return endOffset - startOffset
}

////////////////////////////////////////////////////////////////////////////////

// chunkCache is a fixed-chunk-size read-through cache in front of an
// expensive random-access reader (an HTTP source), grounded on the
// teacher's url/common/cache.Cache: reads are rounded down to chunk
// boundaries, missing chunks are fetched whole and pooled, and the
// oldest chunks by start offset are evicted once the cache exceeds its
// byte budget.
type chunkCache struct {
	readOnCacheMiss readFunc

	chunkPool sync.Pool
	chunks    map[uint64]*chunk
	mu        sync.Mutex

	maxCacheSize uint64
	chunkSize    uint64
}

const (
	defaultChunkSize    = 4 * 1024 * 1024
	defaultMaxCacheSize = 1024 * 1024 * 1024
)

func newChunkCache(readOnCacheMiss readFunc) *chunkCache {
	chunkSize := uint64(defaultChunkSize)
	return &chunkCache{
		readOnCacheMiss: readOnCacheMiss,
		chunkPool: sync.Pool{
			New: func() any {
				return &chunk{data: make([]byte, chunkSize)}
			},
		},
		chunks:       make(map[uint64]*chunk),
		maxCacheSize: defaultMaxCacheSize,
		chunkSize:    chunkSize,
	}
}

func (c *chunkCache) readChunk(start, chunkStart uint64, data []byte) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	got, ok := c.chunks[chunkStart]
	if !ok {
		return 0, false
	}
	return got.read(start, data), true
}

func (c *chunkCache) Read(ctx context.Context, start uint64, data []byte) error {
	end := start + uint64(len(data))
	for start < end {
		chunkStart := (start / c.chunkSize) * c.chunkSize
		bytesRead, ok := c.readChunk(start, chunkStart, data)

		if !ok {
			fetched := c.chunkPool.Get().(*chunk)
			fetched.start = chunkStart
			if err := c.readOnCacheMiss(ctx, fetched.start, fetched.data); err != nil {
				return err
			}
			bytesRead = fetched.read(start, data)
			c.put(fetched)
		}

		data = data[bytesRead:]
		start = chunkStart + c.chunkSize
	}
	return nil
}

// size is not safe for concurrent use; callers must hold c.mu.
func (c *chunkCache) size() uint64 {
	return uint64(len(c.chunks)) * c.chunkSize
}

func (c *chunkCache) put(ch *chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size() >= c.maxCacheSize {
		keys := make([]uint64, 0, len(c.chunks))
		for key := range c.chunks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, key := range keys {
			c.chunkPool.Put(c.chunks[key])
			delete(c.chunks, key)
			if c.size() < c.maxCacheSize {
				break
			}
		}
	}

	c.chunks[ch.start] = ch
}
