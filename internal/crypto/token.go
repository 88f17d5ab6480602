package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken derives the redis revocation key material for a refresh token, so
// raw tokens never sit in the denylist.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
