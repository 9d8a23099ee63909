package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// APIKeyPrefix identifies issued keys at a glance.
const APIKeyPrefix = "sk_"

// GenerateAPIKey returns a new random API key with the standard prefix.
// The plaintext is shown to the caller once and only its hash is stored.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns the SHA-256 hex digest stored in place of the plaintext.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// APIKeyPreview returns the short display form of a plaintext key.
func APIKeyPreview(plaintext string) string {
	if len(plaintext) < 8 {
		return plaintext
	}
	return plaintext[:8] + "..."
}

// IsAPIKey reports whether a credential looks like an issued API key.
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix)
}
