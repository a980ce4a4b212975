package engine

import (
	"fmt"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/mnemos/internal/store"
)

// Content size limits (approximate token → char conversion: 1 token ≈ 4 chars).
const (
	maxContentChars = 8000 // ~2K tokens
	maxRuleChars    = 2000
	maxContextChars = 4000
)

// validEntityChar returns true if the character is allowed in a person or
// project tag: lowercase alphanumeric, hyphens, underscores.
func validEntityChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// sanitizeEntity normalizes a person or project tag to [a-z0-9_-].
// Spaces, dots and slashes become single hyphens; anything else is dropped.
func sanitizeEntity(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}

	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(tag) {
		if validEntityChar(r) {
			b.WriteRune(r)
			prevHyphen = (r == '-')
		} else if r == ' ' || r == '.' || r == '/' {
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-_")
}

// cleanContent trims, strips control characters other than newlines and
// tabs, and truncates oversize text at a word boundary.
func cleanContent(s string, limit int) (string, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty content", store.ErrInvalid)
	}
	if len(s) > limit {
		log.Printf("validate: truncating content (%d → %d chars)", len(s), limit)
		s = truncateClean(s, limit)
	}
	return s, nil
}

// truncateClean truncates a string to maxLen, cutting at the last word boundary
// to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	truncated := s[:maxLen]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 && idx > maxLen-200 {
		truncated = truncated[:idx]
	}
	// drop a rune split by the cut
	for i := len(truncated) - 1; i >= 0 && i >= len(truncated)-utf8.UTFMax; i-- {
		if utf8.RuneStart(truncated[i]) {
			if !utf8.FullRuneInString(truncated[i:]) {
				truncated = truncated[:i]
			}
			break
		}
	}
	return strings.TrimSpace(truncated)
}
