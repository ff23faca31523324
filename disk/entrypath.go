package disk

import (
	"path/filepath"
	"strings"

	"github.com/meigma/fetchcache"
)

// Entry and lock file naming inside a cache directory. The entry name encodes
// both the URL digest and the content digest so an entry can be found by
// either one without symlinks or a sidecar index; a file is located by
// iterating over the directory entries.
const (
	entryPrefix = "entry__url_"
	entryInfix  = "_contents_"

	lockPrefix = "downloading_url_"
	lockSuffix = ".lock"
)

type entryName struct {
	url     fetchcache.URLDigest
	content fetchcache.ContentDigest
}

func (e entryName) filename() string {
	return entryPrefix + e.url.Hex() + entryInfix + e.content.Hex()
}

func (e entryName) path(dir string) string {
	return filepath.Join(dir, e.filename())
}

// parseEntryName parses a directory entry name against the entry schema.
// Names that do not parse belong to other tools and are ignored, never
// deleted.
func parseEntryName(name string) (entryName, bool) {
	rest, ok := strings.CutPrefix(name, entryPrefix)
	if !ok {
		return entryName{}, false
	}
	urlHex, contentHex, ok := strings.Cut(rest, entryInfix)
	if !ok {
		return entryName{}, false
	}
	url, err := fetchcache.ParseURLDigestHex(urlHex)
	if err != nil {
		return entryName{}, false
	}
	content, err := fetchcache.ParseContentDigestHex(contentHex)
	if err != nil {
		return entryName{}, false
	}
	return entryName{url: url, content: content}, true
}

func lockName(d fetchcache.URLDigest) string {
	return lockPrefix + d.Hex() + lockSuffix
}
