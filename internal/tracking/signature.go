package tracking

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ComputeHMAC generates an HMAC signature for the given payload using the secret
func ComputeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of payload under secret.
// Receivers of tracking events use it to authenticate deliveries.
func VerifySignature(payload []byte, signature string, secret string) bool {
	expected := ComputeHMAC(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// GenerateSecret returns a random signing secret with a "trksec_" prefix.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return "trksec_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
