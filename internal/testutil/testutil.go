// Package testutil provides shared helpers for cache tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// PayloadServer serves numbered payloads ("/0", "/1", ...) in fixed-size
// chunks with a delay between chunks, so concurrent fetch races have time to
// pile up on the slow download.
func PayloadServer(tb testing.TB, payloads [][]byte, chunkLen int, chunkDelay time.Duration) *httptest.Server {
	tb.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var idx int
		if _, err := fmt.Sscanf(r.URL.Path, "/%d", &idx); err != nil || idx < 0 || idx >= len(payloads) {
			http.NotFound(w, r)
			return
		}
		payload := payloads[idx]
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		for start := 0; start < len(payload); start += chunkLen {
			end := min(start+chunkLen, len(payload))
			if _, err := w.Write(payload[start:end]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(chunkDelay)
		}
	}))
	tb.Cleanup(srv.Close)
	return srv
}

// Fetcher yields a fixed payload and counts its invocations.
type Fetcher struct {
	payload []byte
	delay   time.Duration
	err     error
	calls   atomic.Int64
}

// NewFetcher returns a fetcher yielding payload after delay.
func NewFetcher(payload []byte, delay time.Duration) *Fetcher {
	return &Fetcher{payload: payload, delay: delay}
}

// NewFailingFetcher returns a fetcher that fails before yielding any bytes.
func NewFailingFetcher(err error) *Fetcher {
	return &Fetcher{err: err}
}

// Calls reports how many times Fetch ran.
func (f *Fetcher) Calls() int64 { return f.calls.Load() }

// Fetch satisfies fetchcache.Fetcher[string].
func (f *Fetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.payload)), nil
}

// GatedFetcher blocks mid-flight until released, making leader/waiter races
// deterministic: the test waits for Started, lines up its waiters, then calls
// Release.
type GatedFetcher struct {
	payload []byte
	err     error
	started chan struct{}
	release chan struct{}
	once    atomic.Bool
	calls   atomic.Int64
}

// NewGatedFetcher returns a fetcher that, on its first call, signals Started
// and then blocks until Release. err, if non-nil, is returned instead of the
// payload once released.
func NewGatedFetcher(payload []byte, err error) *GatedFetcher {
	return &GatedFetcher{
		payload: payload,
		err:     err,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

// Started is closed when the first call enters the fetcher.
func (f *GatedFetcher) Started() <-chan struct{} { return f.started }

// Release unblocks the fetcher.
func (f *GatedFetcher) Release() { close(f.release) }

// Calls reports how many times Fetch ran.
func (f *GatedFetcher) Calls() int64 { return f.calls.Load() }

// Fetch satisfies fetchcache.Fetcher[string].
func (f *GatedFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.once.CompareAndSwap(false, true) {
		close(f.started)
	}
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.payload)), nil
}

// BrokenBody returns a fetcher whose stream fails with err after yielding
// prefix.
func BrokenBody(prefix []byte, err error) func(ctx context.Context, url string) (io.ReadCloser, error) {
	return func(ctx context.Context, url string) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(bytes.NewReader(prefix), errReader{err: err})), nil
	}
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
