package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Algorithm names a digest algorithm an item can be verified against.
type Algorithm string

const (
	MD5     Algorithm = "md5"
	SHA1    Algorithm = "sha1"
	SHA256  Algorithm = "sha256"
	SHA512  Algorithm = "sha512"
	SHA3256 Algorithm = "sha3-256"
	BLAKE2  Algorithm = "blake2b"
	BLAKE3  Algorithm = "blake3"
)

type algorithmInfo struct {
	size int
	new  func() hash.Hash
}

var algorithms = map[Algorithm]algorithmInfo{
	MD5:     {size: md5.Size, new: md5.New},
	SHA1:    {size: sha1.Size, new: sha1.New},
	SHA256:  {size: sha256.Size, new: sha256.New},
	SHA512:  {size: sha512.Size, new: sha512.New},
	SHA3256: {size: 32, new: sha3.New256},
	BLAKE2: {size: blake2b.Size, new: func() hash.Hash {
		h, _ := blake2b.New512(nil) // only fails for keys longer than 64 bytes
		return h
	}},
	BLAKE3: {size: 32, new: func() hash.Hash { return blake3.New(32, nil) }},
}

var aliases = map[string]Algorithm{
	"md5":         MD5,
	"sha1":        SHA1,
	"sha-1":       SHA1,
	"sha256":      SHA256,
	"sha-256":     SHA256,
	"sha512":      SHA512,
	"sha-512":     SHA512,
	"sha3-256":    SHA3256,
	"sha3_256":    SHA3256,
	"sha3":        SHA3256,
	"blake2":      BLAKE2,
	"blake2b":     BLAKE2,
	"blake2b-512": BLAKE2,
	"blake3":      BLAKE3,
}

// ParseAlgorithm resolves a user-supplied algorithm tag, ignoring case.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unsupported digest algorithm %q", name)
	}
	return alg, nil
}

// Supported reports whether a hasher is compiled in for alg.
func (a Algorithm) Supported() bool {
	_, ok := algorithms[a]
	return ok
}

// Size is the digest length in bytes, or 0 for unsupported algorithms.
func (a Algorithm) Size() int {
	return algorithms[a].size
}

// New returns a fresh hasher for alg.
func (a Algorithm) New() (hash.Hash, error) {
	info, ok := algorithms[a]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %q", string(a))
	}
	return info.new(), nil
}

func (a Algorithm) String() string {
	return string(a)
}

// ValidateDigest checks that expected is a hex digest of the right length for alg.
func ValidateDigest(alg Algorithm, expected string) error {
	if !alg.Supported() {
		return fmt.Errorf("unsupported digest algorithm %q", string(alg))
	}
	if _, err := hex.DecodeString(expected); err != nil {
		return fmt.Errorf("digest %q is not valid hex", expected)
	}
	if want := alg.Size() * 2; len(expected) != want {
		return fmt.Errorf("%s digest must be %d hex characters, got %d", alg, want, len(expected))
	}
	return nil
}

// ParseChecksum splits the "algo:hex" form used on the command line and in batch files.
func ParseChecksum(s string) (Algorithm, string, error) {
	name, digest, ok := strings.Cut(s, ":")
	if !ok || digest == "" {
		return "", "", fmt.Errorf("checksum %q must look like algo:hex", s)
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return "", "", err
	}
	digest = strings.ToLower(strings.TrimSpace(digest))
	if err := ValidateDigest(alg, digest); err != nil {
		return "", "", err
	}
	return alg, digest, nil
}
