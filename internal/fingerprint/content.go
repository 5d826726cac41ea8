package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash returns the exact content digest of data as 0x-prefixed
// lowercase sha256 hex, the form registered in IP metadata.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// NormalizeContentHash trims, lowercases and ensures the 0x prefix so that
// digests from different producers compare with plain string equality.
func NormalizeContentHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}
