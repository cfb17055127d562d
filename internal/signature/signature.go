// Package signature authenticates payment provider callbacks.
//
// The provider signs the exact raw request body with HMAC-SHA256 using the
// shared webhook secret and sends the lowercase hex digest in a header. Both
// the API and the standalone edge receiver verify through this package.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingSecret indicates the webhook secret is not configured.
	ErrMissingSecret = errors.New("signature: webhook secret not configured")
	// ErrMissingSignature indicates the request carried no signature header.
	ErrMissingSignature = errors.New("signature: missing signature header")
	// ErrMismatch indicates the supplied signature does not match the body.
	ErrMismatch = errors.New("signature: mismatch")
)

// Sign returns the hex encoded HMAC-SHA256 of body keyed with secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the signature of the raw body. Hex case is ignored.
func Verify(body []byte, header, secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	provided, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return ErrMismatch
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrMismatch
	}
	return nil
}

// Valid reports whether header is a valid signature of body.
func Valid(body []byte, header, secret string) bool {
	return Verify(body, header, secret) == nil
}
