package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// BodyDigest identifies fetched content so re-crawls can tell whether a page changed
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
