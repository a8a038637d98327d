package archive

import "strings"

// SanitizeCallerID maps a caller identity to an identifier-safe form usable
// as a filesystem path component: every non-alphanumeric rune becomes an
// underscore and leading underscores are stripped. The mapping is
// idempotent, so a value that has already been sanitized passes through
// unchanged ("+1-555-0100" -> "1_555_0100" -> "1_555_0100").
func SanitizeCallerID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}
