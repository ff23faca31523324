// Package memory provides an in-process cache backing.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/fetchcache"
)

// Cache implements fetchcache.Cache entirely in memory.
//
// Payloads are held in two indexes, by URL digest and by content digest.
// Concurrent fetches of one URL are deduplicated with singleflight: the first
// caller runs the fetcher while the rest share its flight. Waiters of a
// failed flight observe an *fetchcache.InterruptedError, never the leader's
// own error, and the flight is forgotten on completion so a retry elects a
// new leader.
type Cache[U any] struct {
	hasher func(U) fetchcache.URLDigest
	flight singleflight.Group

	mu        sync.Mutex
	byURL     map[fetchcache.URLDigest]*record
	byContent map[fetchcache.ContentDigest]*record

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ fetchcache.Cache[string] = (*Cache[string])(nil)

type record struct {
	payload    []byte
	urlDigest  fetchcache.URLDigest
	digest     fetchcache.ContentDigest
	insertedAt time.Time
}

func (r *record) open() *fetchcache.Entry {
	return &fetchcache.Entry{
		Reader: byteReader{bytes.NewReader(r.payload)},
		Digest: r.digest,
	}
}

type byteReader struct {
	*bytes.Reader
}

func (byteReader) Close() error { return nil }

// New creates an empty in-memory cache keyed through hasher.
func New[U any](hasher func(U) fetchcache.URLDigest) *Cache[U] {
	return &Cache[U]{
		hasher:    hasher,
		byURL:     make(map[fetchcache.URLDigest]*record),
		byContent: make(map[fetchcache.ContentDigest]*record),
	}
}

// Hits returns the number of calls served a ready result.
func (c *Cache[U]) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of calls that ran the fetcher.
func (c *Cache[U]) Misses() uint64 { return c.misses.Load() }

// GetByURL returns a reader over the stored payload for url, if any.
// It never triggers a fetch and never touches the counters.
func (c *Cache[U]) GetByURL(url U) (*fetchcache.Entry, bool) {
	rec, ok := c.lookupURL(c.hasher(url))
	if !ok {
		return nil, false
	}
	return rec.open(), true
}

// GetByDigest returns a reader over any stored payload whose content digest
// equals d.
func (c *Cache[U]) GetByDigest(d fetchcache.ContentDigest) (io.ReadSeekCloser, bool) {
	c.mu.Lock()
	rec, ok := c.byContent[d]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return byteReader{bytes.NewReader(rec.payload)}, true
}

// TryFetch returns the stored entry for url, downloading it if needed.
func (c *Cache[U]) TryFetch(ctx context.Context, url U, fetcher fetchcache.Fetcher[U]) (*fetchcache.Entry, error) {
	d := c.hasher(url)

	// Fast path, avoids singleflight overhead.
	if rec, ok := c.lookupURL(d); ok {
		c.hits.Add(1)
		return rec.open(), nil
	}

	var fetched bool
	v, err, _ := c.flight.Do(d.Hex(), func() (any, error) {
		// Double-check: an earlier flight may have installed the record
		// between our lookup and winning this flight.
		if rec, ok := c.lookupURL(d); ok {
			return rec, nil
		}
		fetched = true
		c.misses.Add(1)
		return c.fetchRecord(ctx, url, d, fetcher)
	})
	if err != nil {
		if fetched {
			return nil, err
		}
		// Shared a failed flight; only the leader sees its own error.
		return nil, &fetchcache.InterruptedError{URL: url}
	}
	if !fetched {
		c.hits.Add(1)
	}
	return v.(*record).open(), nil
}

func (c *Cache[U]) fetchRecord(ctx context.Context, url U, d fetchcache.URLDigest, fetcher fetchcache.Fetcher[U]) (*record, error) {
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

	rec := &record{
		payload:    buf.Bytes(),
		urlDigest:  d,
		digest:     digester.ContentDigest(),
		insertedAt: time.Now(),
	}
	c.mu.Lock()
	c.byURL[d] = rec
	c.byContent[rec.digest] = rec
	c.mu.Unlock()
	return rec, nil
}

func (c *Cache[U]) lookupURL(d fetchcache.URLDigest) (*record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byURL[d]
	return rec, ok
}
