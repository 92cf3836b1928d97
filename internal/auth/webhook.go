// Package auth verifies inbound webhook signatures and the ops bearer token.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Webhook-Hmac"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidToken     = errors.New("invalid token")
)

func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. An empty secret disables the
// check.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// CheckToken compares a presented token with the configured one in constant
// time. An empty expected token rejects everything.
func CheckToken(expected, presented string) error {
	if expected == "" || presented == "" {
		return ErrInvalidToken
	}
	a := sha256.Sum256([]byte(expected))
	b := sha256.Sum256([]byte(presented))
	if !hmac.Equal(a[:], b[:]) {
		return ErrInvalidToken
	}
	return nil
}
