package confirm

import "strings"

// defaultMutations always require confirmation regardless of the read-set.
var defaultMutations = map[string]struct{}{
	"create": {},
	"update": {},
	"delete": {},
	"revert": {},
}

// readActions are known non-mutating verbs that never require confirmation.
var readActions = map[string]struct{}{
	"list":   {},
	"get":    {},
	"find":   {},
	"search": {},
	"count":  {},
	"export": {},
	"schema": {},
}

// RequiresConfirmation reports whether a GET carrying this action must pass
// through the two-phase commit. With an explicit action list configured,
// membership decides. Otherwise the default rule applies: the four core
// mutations, plus any lowercase-alphabetic verb that is not in the known
// read-set and does not start with "$".
func RequiresConfirmation(action string, explicit []string) bool {
	if len(explicit) > 0 {
		for _, a := range explicit {
			if a == action {
				return true
			}
		}
		return false
	}

	if _, ok := defaultMutations[action]; ok {
		return true
	}
	if _, ok := readActions[action]; ok {
		return false
	}
	if strings.HasPrefix(action, "$") {
		return false
	}
	return isLowerAlpha(action)
}

func isLowerAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
