package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// CacheKey builds a namespaced key such as "page:<hash>" from the joined parts.
func CacheKey(namespace string, parts ...string) string {
	return namespace + ":" + HashString(strings.Join(parts, "\x00"))
}
