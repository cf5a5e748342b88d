package blob

import "sync"

// FetchFunc retrieves a byte range from a remote source. It is the seam the
// out-of-scope URL fetcher plugs into; this package only defines the cache
// shape around it.
type FetchFunc func(off int64, size int) ([]byte, error)

// Cached wraps a remote fetch function with a bounded, whole-range memory
// cache keyed by offset. It exists so URL-backed alignments (used by the LOD
// manager when a level's path is a URL) don't refetch the same region on
// every segment step.
type Cached struct {
	fetch    FetchFunc
	size     int64
	mu       sync.Mutex
	regions  map[int64][]byte
	capBytes int64
	curBytes int64
	order    []int64
}

// NewCached creates a Cached reader over fetch, reporting totalSize bytes and
// bounding the cache to capBytes of resident data.
func NewCached(fetch FetchFunc, totalSize, capBytes int64) *Cached {
	return &Cached{
		fetch:    fetch,
		size:     totalSize,
		regions:  make(map[int64][]byte),
		capBytes: capBytes,
	}
}

func (c *Cached) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.regions[off]; ok && len(buf) >= len(p) {
		return copy(p, buf), nil
	}
	buf, err := c.fetch(off, len(p))
	if err != nil {
		return 0, err
	}
	c.regions[off] = buf
	c.order = append(c.order, off)
	c.curBytes += int64(len(buf))
	for c.curBytes > c.capBytes && len(c.order) > 1 {
		evict := c.order[0]
		c.order = c.order[1:]
		c.curBytes -= int64(len(c.regions[evict]))
		delete(c.regions, evict)
	}
	return copy(p, buf), nil
}

func (c *Cached) Size() (int64, error) { return c.size, nil }

func (c *Cached) Close() error { return nil }
