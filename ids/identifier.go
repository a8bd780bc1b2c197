// Package ids implements typed entity identifiers of the form "type_sqid".
//
// An identifier couples a camelCase model name with a sqid-encoded integer
// payload. The package owns the identifier grammar, the deterministic
// pluralizer that derives collection names from model names, the sqid codec
// with its optional seeded alphabet shuffle, and the boot-time type registry
// that maps model names to the small integers embedded in every sqid.
package ids

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern is the full identifier grammar: a lowercase-leading
// camelCase type, an underscore, and an alphanumeric sqid segment.
var identifierPattern = regexp.MustCompile(`^[a-z][a-zA-Z]*_[a-zA-Z0-9]+$`)

// ErrInvalidIdentifier is returned when a string does not match the
// identifier grammar.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Identifier is the parsed form of a "type_sqid" string.
type Identifier struct {
	// Type is the singular camelCase model name, e.g. "contact".
	Type string

	// Collection is the pluralized model name, e.g. "contacts".
	Collection string

	// ID is the full original identifier string.
	ID string

	// Sqid is the encoded segment after the underscore.
	Sqid string
}

// Parse validates s against the identifier grammar and splits it into its
// parts. Strings starting with "$" or "~", containing "(", or leading with
// an uppercase letter are rejected before the pattern match so callers get
// consistent behavior for meta-resources, tenant slugs, and function calls.
func Parse(s string) (Identifier, error) {
	if s == "" {
		return Identifier{}, fmt.Errorf("%w: empty string", ErrInvalidIdentifier)
	}
	if strings.HasPrefix(s, "$") || strings.HasPrefix(s, "~") {
		return Identifier{}, fmt.Errorf("%w: reserved prefix in %q", ErrInvalidIdentifier, s)
	}
	if strings.Contains(s, "(") {
		return Identifier{}, fmt.Errorf("%w: function syntax in %q", ErrInvalidIdentifier, s)
	}
	if s[0] >= 'A' && s[0] <= 'Z' {
		return Identifier{}, fmt.Errorf("%w: uppercase lead in %q", ErrInvalidIdentifier, s)
	}
	if !identifierPattern.MatchString(s) {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}

	idx := strings.Index(s, "_")
	typ := s[:idx]
	return Identifier{
		Type:       typ,
		Collection: Pluralize(typ),
		ID:         s,
		Sqid:       s[idx+1:],
	}, nil
}

// IsIdentifier reports whether s parses as a typed identifier.
func IsIdentifier(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Pluralize derives a collection name from a singular camelCase model name.
// The rule table is deliberately shallow and must stay stable because
// collection URLs are derived from it:
//
//	consonant + "y"        -> "ies"   (activity -> activities)
//	vowel + "y"            -> +"s"    (survey -> surveys, apiKey -> apiKeys)
//	"s", "x", "z"          -> +"es"   (address -> addresses)
//	"ch", "sh"             -> +"es"   (search -> searches)
//	anything else          -> +"s"    (featureFlag -> featureFlags)
func Pluralize(word string) string {
	if word == "" {
		return ""
	}

	if strings.HasSuffix(word, "y") {
		if len(word) >= 2 && isVowel(word[len(word)-2]) {
			return word + "s"
		}
		return word[:len(word)-1] + "ies"
	}

	if strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") || strings.HasSuffix(word, "z") ||
		strings.HasSuffix(word, "ch") || strings.HasSuffix(word, "sh") {
		return word + "es"
	}

	return word + "s"
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
