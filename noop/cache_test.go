package noop

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fetchcache"
	"github.com/meigma/fetchcache/internal/testutil"
)

func TestCacheNeverStores(t *testing.T) {
	t.Parallel()

	c := New[string]()
	fetcher := testutil.NewFetcher([]byte("payload"), 0)
	want := fetchcache.ContentDigestOfBytes([]byte("payload"))

	for range 2 {
		entry, err := c.TryFetch(t.Context(), "u1", fetcher.Fetch)
		require.NoError(t, err)
		assert.Equal(t, want, entry.Digest)
		payload, err := io.ReadAll(entry.Reader)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), payload)
		entry.Close()
	}

	assert.Equal(t, int64(2), fetcher.Calls(), "no deduplication")
	assert.Equal(t, uint64(2), c.Misses())
	assert.Zero(t, c.Hits())

	_, ok := c.GetByURL("u1")
	assert.False(t, ok)
	_, ok = c.GetByDigest(want)
	assert.False(t, ok)
}

func TestCacheEmptyPayload(t *testing.T) {
	t.Parallel()

	c := New[string]()

	entry, err := c.TryFetch(t.Context(), "u1", testutil.NewFetcher(nil, 0).Fetch)
	require.NoError(t, err)
	defer entry.Close()

	assert.Equal(t, fetchcache.ContentDigestOfBytes(nil), entry.Digest)
}

func TestCacheFetcherError(t *testing.T) {
	t.Parallel()

	c := New[string]()
	errBoom := errors.New("boom")

	_, err := c.TryFetch(t.Context(), "u1", testutil.NewFailingFetcher(errBoom).Fetch)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, uint64(1), c.Misses(), "every call counts as a miss")
}

func TestCacheEntryReaderSeeks(t *testing.T) {
	t.Parallel()

	c := New[string]()

	entry, err := c.TryFetch(t.Context(), "u1", testutil.NewFetcher([]byte("payload"), 0).Fetch)
	require.NoError(t, err)
	defer entry.Close()

	first, err := io.ReadAll(entry.Reader)
	require.NoError(t, err)
	_, err = entry.Reader.Seek(0, io.SeekStart)
	require.NoError(t, err)
	second, err := io.ReadAll(entry.Reader)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
