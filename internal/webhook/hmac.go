package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrBadSignature is returned for any signature that does not verify. The
// cause is not distinguished so callers cannot leak it to senders.
var ErrBadSignature = errors.New("webhook signature invalid")

const signaturePrefix = "sha256="

// verifySignature checks an HMAC-SHA256 signature header against body.
// The header may be "sha256=<hex>" (GitHub X-Hub-Signature-256, prefix
// case-insensitive) or bare hex.
func verifySignature(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return ErrBadSignature
	}
	got, ok := decodeSignature(header)
	if !ok {
		return ErrBadSignature
	}
	if !hmac.Equal(sign(body, secret), got) {
		return ErrBadSignature
	}
	return nil
}

func decodeSignature(header string) ([]byte, bool) {
	header = strings.TrimSpace(header)
	if len(header) >= len(signaturePrefix) && strings.EqualFold(header[:len(signaturePrefix)], signaturePrefix) {
		header = header[len(signaturePrefix):]
	}
	raw, err := hex.DecodeString(header)
	if err != nil || len(raw) != sha256.Size {
		return nil, false
	}
	return raw, true
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// signatureHeader renders the header value a sender would attach for body.
func signatureHeader(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(sign(body, secret))
}
