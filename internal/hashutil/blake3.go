// Package hashutil computes the strong content hash FileTransfer uses to
// verify both source downloads and result uploads end-to-end (spec §4.F,
// §9 open question: "any strong 256-bit hash").
package hashutil

import (
	"encoding/hex"
	"io"
	"strings"

	"lukechampine.com/blake3"
)

// Sum returns the hex-encoded BLAKE3-256 digest of everything read from r.
func Sum(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the digest of r matches want (case-insensitive).
func Verify(r io.Reader, want string) (bool, error) {
	got, err := Sum(r)
	if err != nil {
		return false, err
	}
	return constantTimeEqualHex(got, strings.ToLower(want)), nil
}

func constantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
