// Package disk provides the durable, multi-process cache backing.
//
// A disk cache is a single directory shared by any number of threads and any
// number of processes. Concurrent fetches of one URL collapse to a single
// download: within a process through a map of in-flight downloads, across
// processes through an advisory file lock per URL digest. A completed payload
// streams to a temporary file inside the cache directory and is published by
// an atomic rename to a name encoding both the URL digest and the content
// digest. The rename is the only transition from "not cached" to "cached";
// readers either see the complete entry or none at all.
package disk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/meigma/fetchcache"
)

const lockRetryDelay = 10 * time.Millisecond

// Cache implements fetchcache.Cache over a shared directory.
type Cache[U any] struct {
	dir    string
	hasher func(U) fetchcache.URLDigest
	logger *slog.Logger
	verify bool

	// mu guards ongoing and is never held across I/O or the file lock.
	mu      sync.Mutex
	ongoing map[fetchcache.URLDigest]chan struct{}

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ fetchcache.Cache[string] = (*Cache[string])(nil)

// Option configures a disk cache.
type Option func(*config)

type config struct {
	logger *slog.Logger
	verify bool
}

// WithLogger sets a logger for the cache.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithVerify enables verify-on-read: lookups recompute the payload digest and
// treat an entry whose bytes no longer match its name as absent.
func WithVerify() Option {
	return func(cfg *config) {
		cfg.verify = true
	}
}

// Open returns the cache for dir, creating the directory if needed.
//
// Caches are singletons per process and directory: a second Open for the same
// directory returns the existing instance (options of later calls are
// ignored), and an Open with a different URL key type fails with a
// *URLTypeMismatchError.
func Open[U any](dir string, hasher func(U) fetchcache.URLDigest, opts ...Option) (*Cache[U], error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o777); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	urlType := reflect.TypeFor[U]()

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[abs]; ok {
		if existing.urlType != urlType {
			return nil, &URLTypeMismatchError{Dir: abs, Expected: existing.urlType, Found: urlType}
		}
		return existing.cache.(*Cache[U]), nil
	}

	cfg := config{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	c := &Cache[U]{
		dir:     abs,
		hasher:  hasher,
		logger:  cfg.logger,
		verify:  cfg.verify,
		ongoing: make(map[fetchcache.URLDigest]chan struct{}),
	}
	registry[abs] = &registryEntry{urlType: urlType, cache: c}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache[U]) Dir() string { return c.dir }

// Hits returns the number of calls served from an already-stored entry.
func (c *Cache[U]) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of calls that ran the fetcher.
func (c *Cache[U]) Misses() uint64 { return c.misses.Load() }

// GetByURL returns an open reader over the newest entry for url, if any.
// It never triggers a fetch and never touches the counters.
func (c *Cache[U]) GetByURL(url U) (*fetchcache.Entry, bool) {
	return c.lookupURL(c.hasher(url))
}

// GetByDigest returns an open reader over any entry whose content digest
// equals d.
func (c *Cache[U]) GetByDigest(d fetchcache.ContentDigest) (io.ReadSeekCloser, bool) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, false
	}
	for _, de := range dirents {
		en, ok := parseEntryName(de.Name())
		if !ok || en.content != d {
			continue
		}
		if f, ok := c.openEntry(en); ok {
			return f, true
		}
	}
	return nil, false
}

// TryFetch returns the cached entry for url, downloading it if needed.
//
// Concurrent calls for one URL elect a single leader; the rest wait on the
// leader's in-flight record. A failed leader surfaces its own error and every
// waiter gets an *fetchcache.InterruptedError, after which any caller may
// retry and become the new leader. The per-URL file lock extends the
// single-download guarantee to every process sharing the directory.
func (c *Cache[U]) TryFetch(ctx context.Context, url U, fetcher fetchcache.Fetcher[U]) (*fetchcache.Entry, error) {
	d := c.hasher(url)

	c.mu.Lock()
	if done, ok := c.ongoing[d]; ok {
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry, ok := c.lookupURL(d); ok {
			c.hits.Add(1)
			return entry, nil
		}
		return nil, &fetchcache.InterruptedError{URL: url}
	}
	done := make(chan struct{})
	c.ongoing[d] = done
	c.mu.Unlock()

	lock := flock.New(filepath.Join(c.dir, lockName(d)))
	if _, err := lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		c.settle(d, done)
		return nil, fmt.Errorf("acquire %s: %w", lock.Path(), err)
	}
	c.log().Debug("acquired download lock", "dir", c.dir, "url_digest", d)

	if entry, ok := c.lookupURL(d); ok {
		// Another process finished the download while we queued for the lock.
		c.log().Debug("using entry downloaded by another process", "dir", c.dir, "url_digest", d)
		c.hits.Add(1)
		c.settle(d, done)
		c.unlock(lock)
		return entry, nil
	}

	c.misses.Add(1)
	entry, err := c.download(ctx, url, d, fetcher)
	if err != nil {
		c.settle(d, done)
		c.unlock(lock)
		return nil, err
	}
	c.settle(d, done)
	c.unlock(lock)
	return entry, nil
}

// settle removes the ongoing-downloads record and then wakes waiters, in that
// order: a waiter that wakes to a missing entry must be able to retry as the
// new leader.
func (c *Cache[U]) settle(d fetchcache.URLDigest, done chan struct{}) {
	c.mu.Lock()
	delete(c.ongoing, d)
	c.mu.Unlock()
	close(done)
}

func (c *Cache[U]) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		c.log().Warn("releasing download lock", "path", lock.Path(), "error", err)
	}
	c.log().Debug("released download lock", "path", lock.Path())
}

// download streams the fetcher's bytes into a tempfile inside the cache
// directory (so the final rename stays on one filesystem) and publishes the
// completed payload under its content-addressed entry name.
func (c *Cache[U]) download(ctx context.Context, url U, d fetchcache.URLDigest, fetcher fetchcache.Fetcher[U]) (*fetchcache.Entry, error) {
	body, err := fetcher(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(c.dir, "fetch-*.partial")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	digester := fetchcache.NewDigester()
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	en := entryName{url: d, content: digester.ContentDigest()}
	if err := os.Rename(tmpPath, en.path(c.dir)); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("publish entry: %w", err)
	}
	c.log().Debug("installed entry", "dir", c.dir, "url_digest", d, "content_digest", en.content)

	f, err := os.Open(en.path(c.dir))
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	return &fetchcache.Entry{Reader: f, Digest: en.content}, nil
}

// lookupURL scans the directory for entries matching d, preferring the most
// recently modified one when a content replacement left more than one behind.
func (c *Cache[U]) lookupURL(d fetchcache.URLDigest) (*fetchcache.Entry, bool) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, false
	}
	var (
		best     entryName
		bestTime time.Time
		found    bool
	)
	for _, de := range dirents {
		en, ok := parseEntryName(de.Name())
		if !ok || en.url != d {
			continue
		}
		var mod time.Time
		if info, err := de.Info(); err == nil {
			mod = info.ModTime()
		}
		if !found || mod.After(bestTime) {
			best, bestTime, found = en, mod, true
		}
	}
	if !found {
		return nil, false
	}
	f, ok := c.openEntry(best)
	if !ok {
		return nil, false
	}
	return &fetchcache.Entry{Reader: f, Digest: best.content}, true
}

func (c *Cache[U]) openEntry(en entryName) (*os.File, bool) {
	f, err := os.Open(en.path(c.dir))
	if err != nil {
		return nil, false
	}
	if c.verify && !verifyPayload(f, en.content) {
		f.Close()
		return nil, false
	}
	return f, true
}

func verifyPayload(f *os.File, d fetchcache.ContentDigest) bool {
	verifier := d.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false
	}
	if !verifier.Verified() {
		return false
	}
	_, err := f.Seek(0, io.SeekStart)
	return err == nil
}

func (c *Cache[U]) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
