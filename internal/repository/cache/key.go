package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultKeyMaxLen bounds generated keys.
const DefaultKeyMaxLen = 200

// MinKeyMaxLen is the smallest limit that still leaves room for a readable
// prefix next to the hash suffix.
const MinKeyMaxLen = 32

const hashSuffixLen = 16

// Key builds a deterministic cache key from a namespace and parts.
// Parts are lower-cased with whitespace runs collapsed, so cosmetic
// differences in a query map to the same key. Keys longer than maxLen are
// cut and suffixed with a hash of the full key to stay unique. A limit too
// small for the suffix yields a bare hash prefix of maxLen characters.
func Key(maxLen int, namespace string, parts ...string) string {
	if maxLen <= 0 {
		maxLen = DefaultKeyMaxLen
	}

	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.Join(strings.Fields(strings.ToLower(p)), " "))
	}
	key := b.String()

	if len(key) <= maxLen {
		return key
	}

	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	if maxLen <= hashSuffixLen+1 {
		return digest[:maxLen]
	}
	suffix := ":" + digest[:hashSuffixLen]
	cut := maxLen - len(suffix)
	// Keep the cut on a UTF-8 boundary.
	for cut > 0 && cut < len(key) && key[cut]&0xC0 == 0x80 {
		cut--
	}
	return key[:cut] + suffix
}
