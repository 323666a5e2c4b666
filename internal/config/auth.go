package config

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateAPIKey generates a secure admin API token. It is used at
// startup when the admin API is enabled without a configured token.
func GenerateAPIKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
