package oauth

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateState returns a random value binding an OAuth redirect to the
// browser that initiated it.
func GenerateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
