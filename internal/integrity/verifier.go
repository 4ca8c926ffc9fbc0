package integrity

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// MismatchError is returned by Verify when the computed digest differs from the expected one.
type MismatchError struct {
	Algorithm Algorithm
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s digest mismatch: expected %s, got %s", e.Algorithm, e.Expected, e.Actual)
}

// Verifier hashes bytes as they stream in and compares the result to an expected digest.
type Verifier struct {
	alg      Algorithm
	expected string
	h        hash.Hash
}

func NewVerifier(alg Algorithm, expected string) (*Verifier, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	return &Verifier{alg: alg, expected: expected, h: h}, nil
}

// Write feeds p to the hasher. It never fails.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.h.Write(p)
}

// Reset discards everything hashed so far.
func (v *Verifier) Reset() {
	v.h.Reset()
}

// Sum returns the lowercase hex digest of the bytes written so far.
func (v *Verifier) Sum() string {
	return hex.EncodeToString(v.h.Sum(nil))
}

func (v *Verifier) Verify() error {
	actual := v.Sum()
	if !Equal(actual, v.expected) {
		return &MismatchError{Algorithm: v.alg, Expected: v.expected, Actual: actual}
	}
	return nil
}

// Equal compares two hex digests ignoring case. Digests of different length never match.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return strings.EqualFold(a, b)
}
