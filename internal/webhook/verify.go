package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"contentflow/internal/config"
)

// Sign returns the hex HMAC-SHA256 of body under secret, the form vendors put
// in the signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks signature against src. The default mode accepts a
// hex HMAC-SHA256 of body, optionally prefixed with "sha256=". Sources set to
// config.SignatureSecret accept only the shared secret echoed back.
func verifySignature(src config.WebhookSource, signature string, body []byte) bool {
	if src.Secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	if src.Signature == config.SignatureSecret {
		return subtle.ConstantTimeCompare([]byte(signature), []byte(src.Secret)) == 1
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(src.Secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
