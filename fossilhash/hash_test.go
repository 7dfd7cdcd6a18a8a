// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package fossilhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStable(t *testing.T) {
	b := []byte("hello world")
	h1 := Sha1Of(b)
	h2 := Sha1Of(b)
	assert.Equal(t, h1.Hex(), h2.Hex(), "hash(bytes) must be stable across calls")
}

func TestSha3_256Length(t *testing.T) {
	h := Sha3_256Of([]byte("abc"))
	assert.Len(t, h.Hex(), 64)
	assert.Equal(t, AlgoSha3_256, h.Algo)
}

func TestParseHexRoundTrip(t *testing.T) {
	h := Sha1Of([]byte("round trip"))
	parsed, err := ParseHex(h.Hex())
	require.NoError(t, err)
	assert.True(t, h.Equal(parsed))
}

func TestFossilizeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("plain"),
		[]byte("a b\tc\nd\re\ff\vg\\h"),
		{0, 1, 2, 255, ' ', '\\'},
		[]byte("\x00\x00\x00"),
	}
	for _, c := range cases {
		got := Defossilize(Fossilize(c))
		assert.Equal(t, c, got)
	}
}

func TestFossilizeNoRawDelimiters(t *testing.T) {
	in := []byte("has space\tand tab\nand newline")
	esc := Fossilize(in)
	for _, c := range esc {
		switch c {
		case ' ', '\t', '\n':
			t.Fatalf("escaped output must not contain raw delimiter byte %q", c)
		}
	}
}

func TestHexCodecRoundTrip(t *testing.T) {
	b := []byte{0, 1, 2, 3, 255, 254}
	decoded, err := HexDecode(HexEncode(b))
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestBase64CodecRoundTrip(t *testing.T) {
	b := []byte("any old bytes \x00\x01\x02")
	decoded, err := Base64Decode(Base64Encode(b))
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestLooksBinary(t *testing.T) {
	assert.True(t, LooksBinary([]byte("abc\x00def")))
	longLine := make([]byte, 9000)
	for i := range longLine {
		longLine[i] = 'a'
	}
	assert.True(t, LooksBinary(longLine))
	assert.False(t, LooksBinary([]byte("short\nlines\nonly\n")))
}

func TestUTF8ValidateToleratesEmbeddedNUL(t *testing.T) {
	assert.True(t, UTF8Validate([]byte("a\x00b")))
	assert.False(t, UTF8Validate([]byte{0xff, 0xfe}))
}

func TestPolicyAllows(t *testing.T) {
	assert.True(t, PolicyAcceptBoth.Allows(AlgoSha1))
	assert.True(t, PolicyAcceptBoth.Allows(AlgoSha3_256))
	assert.True(t, PolicySha1Only.Allows(AlgoSha1))
	assert.False(t, PolicySha1Only.Allows(AlgoSha3_256))
	assert.False(t, PolicyShunSha1.Allows(AlgoSha1))
	assert.True(t, PolicyShunSha1.ShunnedByPolicy(AlgoSha1))
}
