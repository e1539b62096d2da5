// Package sanitize turns free-form names into identifiers accepted as
// Qdrant collection and alias names: ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength bounds a whole collection name.
	MaxIdentifierLength = 64

	// hashSuffixLength is len("_") plus eight hex digits.
	hashSuffixLength = 9
)

// Identifier lowercases s, maps every other character outside [a-z0-9_]
// to an underscore, collapses runs of underscores and trims them from both
// ends. Results longer than limit are truncated and suffixed with a hash of
// the untruncated form so distinct inputs stay distinct. fallback is
// returned when nothing survives.
//
//	Identifier("Team-A/Prod", 64, "x") -> "team_a_prod"
//	Identifier("!!!", 64, "x")         -> "x"
func Identifier(s string, limit int, fallback string) string {
	if limit <= hashSuffixLength || limit > MaxIdentifierLength {
		limit = MaxIdentifierLength
	}

	var b strings.Builder
	b.Grow(len(s))
	underscore := true // suppresses leading underscores
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return fallback
	}
	if len(out) > limit {
		out = truncateWithHash(out, limit)
	}
	return out
}

// truncateWithHash cuts s to limit bytes including an _<hash8> suffix.
func truncateWithHash(s string, limit int) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return strings.TrimRight(s[:limit-hashSuffixLength], "_") + suffix
}
