// Package noop provides a pass-through cache backing that never stores.
package noop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/meigma/fetchcache"
)

// Cache runs every fetch and stores nothing. Lookups always report absent,
// every TryFetch counts as a miss, and there is no deduplication. It is a
// drop-in for disabling caching without changing call sites.
type Cache[U any] struct {
	misses atomic.Uint64
}

var _ fetchcache.Cache[string] = (*Cache[string])(nil)

// New creates a pass-through cache.
func New[U any]() *Cache[U] {
	return &Cache[U]{}
}

// Hits always returns zero; nothing is ever served from storage.
func (c *Cache[U]) Hits() uint64 { return 0 }

// Misses returns the number of TryFetch calls.
func (c *Cache[U]) Misses() uint64 { return c.misses.Load() }

// GetByURL always reports absent.
func (c *Cache[U]) GetByURL(U) (*fetchcache.Entry, bool) { return nil, false }

// GetByDigest always reports absent.
func (c *Cache[U]) GetByDigest(fetchcache.ContentDigest) (io.ReadSeekCloser, bool) {
	return nil, false
}

// TryFetch runs the fetcher, buffers the payload in memory, and returns a
// reader over the buffer plus its content digest.
func (c *Cache[U]) TryFetch(ctx context.Context, url U, fetcher fetchcache.Fetcher[U]) (*fetchcache.Entry, error) {
	c.misses.Add(1)

	body, err := fetcher(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer body.Close()

	var buf bytes.Buffer
	digester := fetchcache.NewDigester()
	if _, err := io.Copy(io.MultiWriter(&buf, digester.Hash()), body); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return &fetchcache.Entry{
		Reader: byteReader{bytes.NewReader(buf.Bytes())},
		Digest: digester.ContentDigest(),
	}, nil
}

type byteReader struct {
	*bytes.Reader
}

func (byteReader) Close() error { return nil }
