// Package webhook implements C1 (signature verification), C2 (envelope
// mapping) and the inbound HTTP surface described in spec §6.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature implements C1: it computes the HMAC-SHA256 of body with
// secret and compares it, in constant time, against the hex digest carried
// in the "sha256=<hex>" signature header. It never returns an error; any
// malformed input (wrong prefix, non-hex digest, mismatched length) simply
// fails closed and returns false.
func VerifySignature(secret []byte, body []byte, signatureHeader string) bool {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	digestHex := strings.TrimPrefix(signatureHeader, signaturePrefix)

	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)

	return hmac.Equal(want, got)
}
