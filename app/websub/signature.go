package websub

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// CheckSignature verifies an X-Hub-Signature header of the form
// "{algo}={hex digest}" against the raw request body. The comparison is
// constant time.
func CheckSignature(header string, body []byte, secret string) bool {
	if secret == "" {
		return false
	}

	algo, digest, ok := strings.Cut(header, "=")
	if !ok {
		return false
	}

	var newHash func() hash.Hash
	switch strings.ToLower(algo) {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return false
	}

	given, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}
