// Package fetchcache memoizes fetches of bytes from user-supplied sources.
//
// A cache maps an opaque URL-like key to the payload a caller-provided
// fetcher produced for it, and guarantees that concurrent requests for one
// key run the fetcher at most once: one caller becomes the leader and
// downloads while the rest wait and then read the stored result. The disk
// backing in [github.com/meigma/fetchcache/disk] extends that guarantee
// across processes sharing a cache directory; the in-memory backing in
// [github.com/meigma/fetchcache/memory] covers a single process; the
// pass-through backing in [github.com/meigma/fetchcache/noop] disables
// storage without changing call sites.
//
// Payloads are content-addressed: every stored entry carries the SHA-256 of
// its bytes, and entries can be looked up either by the key's digest or by
// the content digest.
//
// # Quick start
//
//	cache, err := disk.Open(dir, fetchcache.URLDigestOfString)
//	if err != nil {
//	    return err
//	}
//	entry, err := fetchcache.Fetch(ctx, cache, "https://example.com/data", fetcher)
//	if err != nil {
//	    return err
//	}
//	defer entry.Close()
package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Fetcher produces the payload bytes for a URL.
//
// The returned stream is read to completion by the cache; its end signals
// success and a read error signals failure. The cache hashes and stores the
// bytes incrementally, so the stream may be arbitrarily large.
type Fetcher[U any] func(ctx context.Context, url U) (io.ReadCloser, error)

// Cache is the capability shared by every backing.
//
// Implementations are safe for concurrent use.
type Cache[U any] interface {
	// Hits returns the number of calls served from storage or from another
	// caller's completed download. The counter is monotonic and may lag
	// in-flight operations.
	Hits() uint64

	// Misses returns the number of calls that ran the fetcher.
	Misses() uint64

	// GetByURL returns an open reader over the stored entry for url, if one
	// exists. It never triggers a fetch and never touches the counters.
	GetByURL(url U) (*Entry, bool)

	// GetByDigest returns an open reader over any stored payload whose
	// content digest equals d.
	GetByDigest(d ContentDigest) (io.ReadSeekCloser, bool)

	// TryFetch returns the entry for url, running fetcher if it is not yet
	// stored. Concurrent calls for one url elect a single leader; waiters
	// whose leader failed to publish an entry receive an error wrapping
	// ErrFetchInterrupted, never the leader's own error.
	TryFetch(ctx context.Context, url U, fetcher Fetcher[U]) (*Entry, error)
}

const defaultFetchRetries = 3

// FetchOption configures a Fetch operation.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	retries int
}

// FetchWithRetries sets how many interrupted attempts Fetch tolerates before
// giving up. Defaults to 3.
func FetchWithRetries(n int) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.retries = n
	}
}

// Fetch wraps [Cache.TryFetch] in a bounded retry over interrupted outcomes.
//
// An interruption means some other caller was downloading the url and failed;
// retrying makes this caller a candidate leader. Any other error — including
// a failure of this caller's own download — is returned as is, unretried.
// After the configured number of interruptions Fetch fails with an error
// wrapping ErrRetriesExhausted.
func Fetch[U any](ctx context.Context, c Cache[U], url U, fetcher Fetcher[U], opts ...FetchOption) (*Entry, error) {
	cfg := fetchConfig{retries: defaultFetchRetries}
	for _, opt := range opts {
		opt(&cfg)
	}

	for range cfg.retries {
		entry, err := c.TryFetch(ctx, url, fetcher)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrFetchInterrupted) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %d interrupted attempts fetching %v", ErrRetriesExhausted, cfg.retries, url)
}
