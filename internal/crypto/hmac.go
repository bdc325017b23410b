// Package crypto implements the vault's envelope decryption and HMAC
// verification primitives. It never originates ciphertext: every secret this
// package touches was produced by the client-side vault app, and this package
// only ever opens or verifies it.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Sign computes the base64-encoded HMAC-SHA256 of msg using key.
func Sign(msg, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct base64-encoded HMAC-SHA256 of msg
// under key. The comparison is constant-time; a malformed sig (not valid
// base64) is treated as a mismatch rather than an error, since the caller's
// only decision point is "does this entry's signature check out".
func Verify(msg, key []byte, sig string) bool {
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(Sign(msg, key))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// CanonicalEntryMessage builds the canonical byte message an entry's HMAC
// signature was computed over: payload ciphertext, a literal pipe, then the
// recipient ciphertext.
func CanonicalEntryMessage(payloadEncrypted, recipientEncrypted string) []byte {
	msg := make([]byte, 0, len(payloadEncrypted)+1+len(recipientEncrypted))
	msg = append(msg, payloadEncrypted...)
	msg = append(msg, '|')
	msg = append(msg, recipientEncrypted...)
	return msg
}
