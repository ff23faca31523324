package fetchcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestURLDigestOfString(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("https://example.com/data"))
	d := URLDigestOfString("https://example.com/data")

	assert.Equal(t, hex.EncodeToString(sum[:]), d.Hex())
	assert.Equal(t, d, URLDigestOfBytes([]byte("https://example.com/data")))
	assert.NotEqual(t, d, URLDigestOfString("https://example.com/other"))
	assert.False(t, d.IsZero())
	assert.True(t, URLDigest{}.IsZero())
}

func TestParseURLDigestHex(t *testing.T) {
	t.Parallel()

	d := URLDigestOfString("u1")
	parsed, err := ParseURLDigestHex(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	for _, bad := range []string{
		"",
		"abc",
		strings.Repeat("g", 64),
		strings.ToUpper(d.Hex()),
		d.Hex() + "00",
	} {
		_, err := ParseURLDigestHex(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseContentDigestHex(t *testing.T) {
	t.Parallel()

	d := ContentDigestOfBytes([]byte("payload"))
	parsed, err := ParseContentDigestHex(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseContentDigestHex(d.Hex()[:63])
	assert.Error(t, err)
}

func TestDigesterMatchesOneShot(t *testing.T) {
	t.Parallel()

	dg := NewDigester()
	_, err := dg.Hash().Write([]byte("hel"))
	require.NoError(t, err)
	_, err = dg.Hash().Write([]byte("lo"))
	require.NoError(t, err)

	assert.Equal(t, ContentDigestOfBytes([]byte("hello")), dg.ContentDigest())
}

func TestEmptyContentDigest(t *testing.T) {
	t.Parallel()

	assert.Equal(t, emptySHA256, ContentDigestOfBytes(nil).Hex())
	assert.Equal(t, emptySHA256, NewDigester().ContentDigest().Hex())
}

func TestContentDigestVerifier(t *testing.T) {
	t.Parallel()

	d := ContentDigestOfBytes([]byte("payload"))

	ok := d.Verifier()
	_, err := ok.Write([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, ok.Verified())

	bad := d.Verifier()
	_, err = bad.Write([]byte("other"))
	require.NoError(t, err)
	assert.False(t, bad.Verified())
}
