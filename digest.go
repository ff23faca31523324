package fetchcache

import (
	// Registers the hash behind digest.SHA256.
	_ "crypto/sha256"
	"fmt"
	"hash"

	"github.com/opencontainers/go-digest"
)

// URLDigest identifies a cache key: the SHA-256 of the key's canonical byte
// encoding. For string keys the canonical encoding is their UTF-8 bytes.
// Keys that hash equal are the same cache key.
type URLDigest struct {
	d digest.Digest
}

// URLDigestOfString hashes a string key.
func URLDigestOfString(url string) URLDigest {
	return URLDigest{d: digest.FromString(url)}
}

// URLDigestOfBytes hashes a raw byte key.
func URLDigestOfBytes(url []byte) URLDigest {
	return URLDigest{d: digest.FromBytes(url)}
}

// ParseURLDigestHex parses a digest from 64 lowercase hex characters.
func ParseURLDigestHex(s string) (URLDigest, error) {
	d, err := parseHex(s)
	if err != nil {
		return URLDigest{}, err
	}
	return URLDigest{d: d}, nil
}

// Hex returns the digest as 64 lowercase hex characters.
func (u URLDigest) Hex() string { return u.d.Encoded() }

func (u URLDigest) String() string { return u.Hex() }

// IsZero reports whether u is the zero value rather than a computed digest.
func (u URLDigest) IsZero() bool { return u.d == "" }

// ContentDigest is the SHA-256 of a stored payload's bytes.
type ContentDigest struct {
	d digest.Digest
}

// ContentDigestOfBytes hashes a payload held in memory.
func ContentDigestOfBytes(payload []byte) ContentDigest {
	return ContentDigest{d: digest.FromBytes(payload)}
}

// ParseContentDigestHex parses a digest from 64 lowercase hex characters.
func ParseContentDigestHex(s string) (ContentDigest, error) {
	d, err := parseHex(s)
	if err != nil {
		return ContentDigest{}, err
	}
	return ContentDigest{d: d}, nil
}

// Hex returns the digest as 64 lowercase hex characters.
func (c ContentDigest) Hex() string { return c.d.Encoded() }

func (c ContentDigest) String() string { return c.Hex() }

// IsZero reports whether c is the zero value rather than a computed digest.
func (c ContentDigest) IsZero() bool { return c.d == "" }

// Verifier returns a writer that checks the bytes written to it against c.
func (c ContentDigest) Verifier() digest.Verifier { return c.d.Verifier() }

// Digester computes a ContentDigest incrementally over payload chunks.
type Digester struct {
	d digest.Digester
}

// NewDigester returns a Digester using the canonical (SHA-256) algorithm.
func NewDigester() *Digester {
	return &Digester{d: digest.SHA256.Digester()}
}

// Hash exposes the underlying hash for streaming writes.
func (dg *Digester) Hash() hash.Hash { return dg.d.Hash() }

// ContentDigest finalizes the digest over everything written so far.
func (dg *Digester) ContentDigest() ContentDigest {
	return ContentDigest{d: dg.d.Digest()}
}

func parseHex(s string) (digest.Digest, error) {
	d := digest.NewDigestFromEncoded(digest.SHA256, s)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("parse digest %q: %w", s, err)
	}
	return d, nil
}
