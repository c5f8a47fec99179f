package pptx

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Normalize canonicalizes extracted slide text: zero-width spaces
// removed, newlines unified, runs of whitespace collapsed to a single
// space per line, blank lines dropped. Normalize is idempotent.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, "​", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var out []string
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}

// Fingerprint returns the 16-hex-char xxhash64 of normalized text, the
// key of the shared embedding cache. Empty text has no fingerprint.
func Fingerprint(norm string) string {
	if norm == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(norm))
}
