package upstream

import (
	"strings"

	"github.com/dot-do/gateway/envelope"
)

// ValidatePath rejects paths that try to escape the upstream mount: dot and
// dot-dot segments, backslashes, encoded traversal left in the raw path, and
// control bytes.
func ValidatePath(p string) error {
	if p == "" || p == "/" {
		return nil
	}
	if strings.ContainsAny(p, "\\\x00") {
		return envelope.NewError(envelope.CodeInvalidPath, "path contains forbidden characters")
	}
	lower := strings.ToLower(p)
	if strings.Contains(lower, "%2e") || strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		return envelope.NewError(envelope.CodeInvalidPath, "path contains encoded traversal")
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == "." || segment == ".." {
			return envelope.NewError(envelope.CodeInvalidPath, "path traversal detected")
		}
	}
	return nil
}

// CheckAllowed enforces the route allow-list. Entries match the whole path
// or a prefix on a segment boundary; an empty list allows everything.
func CheckAllowed(p string, allow []string) error {
	if len(allow) == 0 {
		return nil
	}
	for _, entry := range allow {
		entry = strings.TrimSuffix(entry, "/")
		if entry == "" {
			continue
		}
		if p == entry || strings.HasPrefix(p, entry+"/") {
			return nil
		}
	}
	return envelope.NewErrorf(envelope.CodePathNotAllowed, "path %s is not on the allow-list", p)
}
