// Package textutil normalises free-form catalog text before it is persisted:
// label maps attached to media documents and the folded keys used for prefix
// search.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accent folding: decompose, drop combining marks, recompose.
var searchKeyFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SearchKey folds a title into the lowercase token stored for prefix search.
// Accents are stripped so "Léon" and "leon" land on the same key; runs of
// anything outside [a-z0-9] collapse to a single dash.
func SearchKey(value string) string {
	folded, _, err := transform.String(searchKeyFolder, strings.TrimSpace(value))
	if err != nil {
		folded = strings.TrimSpace(value)
	}
	lowered := strings.ToLower(folded)
	if lowered == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(lowered))
	pendingDash := false
	for _, r := range lowered {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeStringMap trims keys and values and drops entries whose key ends
// up empty. A map that empties out entirely comes back nil so callers can
// omit the field from the stored document.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
