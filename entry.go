package fetchcache

import "io"

// Entry is an opened cache entry: a seekable reader over the stored payload
// plus the payload's content digest.
//
// The reader is independent of the store; closing it does not evict or alter
// the entry, and any number of entries over the same payload may be open at
// once.
type Entry struct {
	Reader io.ReadSeekCloser
	Digest ContentDigest
}

// Close closes the payload reader.
func (e *Entry) Close() error { return e.Reader.Close() }
