// Package httpfetch provides a ready-made HTTP fetcher for string-keyed
// caches.
//
// The core packages never depend on it; a cache takes any
// fetchcache.Fetcher, and [Client.Fetch] is one.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/klauspost/compress/gzip"
)

// Client turns HTTP GETs into a fetcher usable with fetchcache.Fetch.
type Client struct {
	client  *nethttp.Client
	headers nethttp.Header
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(c *Client) {
		if headers == nil {
			return
		}
		c.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(nethttp.Header)
		}
		c.headers.Set(key, value)
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = nethttp.DefaultClient
	}
	return c
}

// Fetch GETs url and returns its body as the payload stream. Non-2xx
// statuses are errors. Responses still carrying a gzip Content-Encoding
// (possible when the caller set its own Accept-Encoding header) are
// decompressed transparently, so the cache always stores payload bytes.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		return &gzipReadCloser{body: resp.Body, zr: zr}, nil
	}
	return resp.Body, nil
}

type gzipReadCloser struct {
	body io.ReadCloser
	zr   *gzip.Reader
}

func (r *gzipReadCloser) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

func (r *gzipReadCloser) Close() error {
	_ = r.zr.Close()
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}
