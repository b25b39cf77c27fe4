// Package hunkid derives deterministic IDs for diff hunks. The (file, index)
// address is only stable within one scan; the content hash lets API clients
// correlate a hunk across rescans of the working tree.
package hunkid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// shortLen is the number of hex characters exposed. 16 hex chars (64 bits)
// keeps collisions out of reach for any realistic diff.
const shortLen = 16

// ID returns a deterministic ID for a hunk from its file path and rendered
// content. Content is normalized (CRLF to LF) so the same change yields the
// same ID on every platform.
func ID(file, content string) string {
	norm := strings.ReplaceAll(content, "\r\n", "\n")
	h := sha256.Sum256([]byte(file + ":" + norm))
	return hex.EncodeToString(h[:])[:shortLen]
}
