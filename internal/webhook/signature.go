package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// secretBytes is the entropy of a generated webhook secret.
const secretBytes = 32

// SignPayload computes the value sent in the X-Flagship-Signature header:
// "sha256=" followed by the hex HMAC-SHA256 of the payload under the
// webhook's secret. Receivers recompute it to authenticate deliveries.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload's HMAC,
// in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// GenerateSecret returns a fresh webhook signing secret: "whsec_" plus
// hex-encoded random bytes. The secret is returned to the admin exactly
// once, on webhook creation.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("webhook: generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
