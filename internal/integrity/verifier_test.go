package integrity

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

func TestVerifierKnownDigests(t *testing.T) {
	sha3Sum := sha3.Sum256([]byte("abc"))
	blake2Sum := blake2b.Sum512([]byte("abc"))
	blake3Sum := blake3.Sum256([]byte("abc"))

	cases := map[Algorithm]string{
		MD5:     "900150983cd24fb0d6963f7d28e17f72",
		SHA1:    "a9993e364706816aba3e25717850c26c9cd0d89d",
		SHA256:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		SHA512:  "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f",
		SHA3256: hex.EncodeToString(sha3Sum[:]),
		BLAKE2:  hex.EncodeToString(blake2Sum[:]),
		BLAKE3:  hex.EncodeToString(blake3Sum[:]),
	}

	for alg, want := range cases {
		t.Run(string(alg), func(t *testing.T) {
			require.Len(t, want, alg.Size()*2)

			v, err := NewVerifier(alg, strings.ToUpper(want))
			require.NoError(t, err)

			// split writes must hash the same as one write
			_, _ = v.Write([]byte("a"))
			_, _ = v.Write([]byte("bc"))

			assert.Equal(t, want, v.Sum())
			assert.NoError(t, v.Verify())
		})
	}
}

func TestVerifierMismatch(t *testing.T) {
	v, err := NewVerifier(SHA256, strings.Repeat("0", 64))
	require.NoError(t, err)
	_, _ = v.Write([]byte("abc"))

	err = v.Verify()
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, SHA256, mismatch.Algorithm)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", mismatch.Actual)
}

func TestVerifierLengthMismatchIsFailure(t *testing.T) {
	v, err := NewVerifier(MD5, "9001")
	require.NoError(t, err)
	_, _ = v.Write([]byte("abc"))

	assert.Error(t, v.Verify())
}

func TestVerifierReset(t *testing.T) {
	v, err := NewVerifier(MD5, "900150983cd24fb0d6963f7d28e17f72")
	require.NoError(t, err)
	_, _ = v.Write([]byte("garbage from a failed attempt"))
	v.Reset()
	_, _ = v.Write([]byte("abc"))

	assert.NoError(t, v.Verify())
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"SHA256":   SHA256,
		"sha-256":  SHA256,
		"Sha3_256": SHA3256,
		"blake2":   BLAKE2,
		"BLAKE3":   BLAKE3,
	} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAlgorithm("crc32")
	assert.Error(t, err)
	assert.False(t, Algorithm("crc32").Supported())
}

func TestParseChecksum(t *testing.T) {
	alg, digest, err := ParseChecksum("SHA1:A9993E364706816ABA3E25717850C26C9CD0D89D")
	require.NoError(t, err)
	assert.Equal(t, SHA1, alg)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", digest)

	for _, bad := range []string{
		"a9993e364706816aba3e25717850c26c9cd0d89d",
		"sha1:",
		"sha1:a9993e",
		"sha1:zz993e364706816aba3e25717850c26c9cd0d89d",
		"whirlpool:00",
	} {
		_, _, err := ParseChecksum(bad)
		assert.Error(t, err, bad)
	}
}
