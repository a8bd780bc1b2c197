package query

import (
	"sort"
	"strings"
)

// SortField is one entry of an ordered sort spec.
type SortField struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
}

// ParseSort parses a comma-separated sort spec. Each item is "field"
// (ascending) or "-field" (descending); the "field.asc"/"field.desc" forms
// emitted by the $sort meta-resource are accepted as aliases. Order is
// preserved. Empty items are dropped.
func ParseSort(s string) []SortField {
	if s == "" {
		return nil
	}

	var fields []SortField
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		desc := false
		if strings.HasPrefix(item, "-") {
			desc = true
			item = item[1:]
		}

		switch {
		case strings.HasSuffix(item, ".desc"):
			desc = true
			item = strings.TrimSuffix(item, ".desc")
		case strings.HasSuffix(item, ".asc"):
			item = strings.TrimSuffix(item, ".asc")
		}

		if item == "" {
			continue
		}
		fields = append(fields, SortField{Field: item, Descending: desc})
	}
	return fields
}

// CanonicalSort re-emits a sort spec in input order, descending entries
// prefixed with "-".
func CanonicalSort(fields []SortField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if f.Descending {
			parts[i] = "-" + f.Field
		} else {
			parts[i] = f.Field
		}
	}
	return strings.Join(parts, ",")
}

// Compare totally orders two document values for sorting: numbers
// numerically, strings lexicographically, nil after everything.
// Incomparable pairs report equal so a stable sort leaves them in place.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return 0
}

// SortDocuments stable-sorts documents in place by the given fields.
// Documents missing a sort field land after the rest regardless of
// direction.
func SortDocuments(docs []map[string]any, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			av, bv := docs[i][f.Field], docs[j][f.Field]
			if av == nil || bv == nil {
				if av == nil && bv == nil {
					continue
				}
				return bv == nil
			}
			c := Compare(av, bv)
			if c == 0 {
				continue
			}
			if f.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
