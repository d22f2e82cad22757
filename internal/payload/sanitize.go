package payload

import (
	"regexp"
	"strings"
)

// FallbackFileName is returned whenever sanitization is handed nothing
// usable.
const FallbackFileName = "untitled"

// unsafeChars matches filesystem-reserved characters and ASCII control
// characters. Each occurrence is replaced, not removed, so the visible
// structure of the original name survives.
var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFileName makes an untrusted filename safe to store and forward.
// Substitution runs before dot-stripping and truncation; the later steps
// depend on what substitution produced.
func SanitizeFileName(raw string) string {
	if raw == "" {
		return FallbackFileName
	}
	name := unsafeChars.ReplaceAllString(raw, "_")
	name = strings.TrimLeft(name, ".")
	name = strings.TrimRight(name, ".")
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return FallbackFileName
	}
	return name
}
