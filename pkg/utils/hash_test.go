package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("offset=0"), HashString("offset=0"))
	assert.NotEqual(t, HashString("offset=0"), HashString("offset=50000"))
	assert.Len(t, HashString(""), 64)
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("page", "https://example.test/data.csv", "0")
	assert.True(t, strings.HasPrefix(key, "page:"))
	assert.NotEqual(t, key, CacheKey("page", "https://example.test/data.csv0"))
}
