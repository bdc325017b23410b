package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for envelope decryption.
var (
	ErrMalformedEnvelope = errors.New("envelope: malformed nonce.ciphertext.tag string")
	ErrEmptyEnvelope     = errors.New("envelope: empty ciphertext")
)

// ServerKey derives the AES-256-GCM key used to open server-readable
// envelopes: the SHA-256 digest of the process-wide server secret's utf-8
// bytes. The caller computes this once per run and reuses it.
func ServerKey(serverSecret string) [32]byte {
	return sha256.Sum256([]byte(serverSecret))
}

// dualEnvelope is the optional JSON wrapper a vault entry's encrypted field
// may hold, coexisting a server-readable envelope alongside a device-only
// one.
type dualEnvelope struct {
	V      int    `json:"v"`
	Server string `json:"server"`
	Device string `json:"device,omitempty"`
}

// ExtractServerEnvelope returns the server-readable envelope string out of
// raw. If raw parses as a JSON object with a non-empty "server" string field,
// that field is returned; otherwise raw is returned unchanged, permitting
// legacy single-envelope strings to coexist with the dual-envelope scheme.
func ExtractServerEnvelope(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var dual dualEnvelope
	if err := json.Unmarshal([]byte(trimmed), &dual); err != nil {
		return raw
	}
	if dual.Server == "" {
		return raw
	}
	return dual.Server
}

// Decrypt opens an envelope of the form base64(nonce).base64(ciphertext).base64(tag)
// using AES-256-GCM (128-bit tag, 96-bit nonce) under key.
func Decrypt(envelope string, key [32]byte) ([]byte, error) {
	if envelope == "" {
		return nil, ErrEmptyEnvelope
	}

	parts := strings.Split(envelope, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedEnvelope
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrMalformedEnvelope
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

// DecryptServerString extracts the server envelope out of raw and decrypts
// it under key, returning the plaintext as a trimmed string.
func DecryptServerString(raw string, key [32]byte) (string, error) {
	plaintext, err := Decrypt(ExtractServerEnvelope(raw), key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(plaintext)), nil
}
