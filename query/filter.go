// Package query parses MongoDB-style filters and sort specs from query
// strings and evaluates them client-side over document maps.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Filter maps field names to conditions. A condition is either a plain
// coerced value (equality) or a map of operator -> value. The logical
// operators $or, $and, $not, $nor are recognized at the top level when a
// caller constructs them explicitly; they are never parsed from a query
// string.
type Filter map[string]any

// Operators accepted in the field[$op]=value query form.
var knownOperators = map[string]struct{}{
	"$eq": {}, "$ne": {}, "$gt": {}, "$gte": {}, "$lt": {}, "$lte": {},
	"$in": {}, "$nin": {}, "$exists": {}, "$regex": {},
}

// reservedKeys are query parameters owned by pagination, response modes,
// and the confirmation protocol; they never become filters.
var reservedKeys = map[string]struct{}{
	"limit": {}, "offset": {}, "page": {}, "sort": {}, "q": {},
	"raw": {}, "debug": {}, "stream": {}, "domains": {}, "format": {},
	"array": {}, "confirm": {}, "since": {}, "after": {}, "before": {},
}

// IsReservedKey reports whether a query key belongs to pagination, modes or
// the confirmation protocol rather than to document data.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

var operatorKeyPattern = regexp.MustCompile(`^(.+)\[(\$[a-z]+)\]$`)

var numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ParseFilters extracts a Filter from URL query values. Keys of the form
// field[$op]=value become operator conditions; bare field=value keys become
// equality conditions. Reserved pagination and mode keys are skipped, as
// are unknown operators.
func ParseFilters(values url.Values) Filter {
	filter := Filter{}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		value := vals[0]

		if m := operatorKeyPattern.FindStringSubmatch(key); m != nil {
			field, op := m[1], m[2]
			if _, ok := knownOperators[op]; !ok {
				continue
			}
			cond, _ := filter[field].(map[string]any)
			if cond == nil {
				cond = map[string]any{}
			}
			cond[op] = coerceOperand(op, value)
			filter[field] = cond
			continue
		}

		if strings.HasPrefix(key, "$") {
			// Logical operators are constructed by callers, not parsed.
			continue
		}

		filter[key] = Coerce(value)
	}

	return filter
}

// ParseFilterString parses a raw query string into a Filter.
func ParseFilterString(s string) (Filter, error) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return nil, err
	}
	return ParseFilters(values), nil
}

func coerceOperand(op, value string) any {
	switch op {
	case "$in", "$nin":
		parts := strings.Split(value, ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			items = append(items, Coerce(p))
		}
		return items
	case "$exists":
		return Coerce(value) == true
	case "$regex":
		return value
	default:
		return Coerce(value)
	}
}

// Coerce converts a query-string scalar into its typed value: true/false to
// bool, null to nil, purely numeric to float64, everything else stays a
// string.
func Coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if numericPattern.MatchString(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}

// Canonicalize serializes a Filter back into a stable query-string form:
// fields sorted, operators sorted within a field, list operands joined by
// commas. Canonicalize(Parse(s)) is a fixpoint: re-parsing and
// re-serializing the output yields the output itself.
func Canonicalize(f Filter) string {
	fields := make([]string, 0, len(f))
	for field := range f {
		if strings.HasPrefix(field, "$") {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var parts []string
	for _, field := range fields {
		switch cond := f[field].(type) {
		case map[string]any:
			ops := make([]string, 0, len(cond))
			for op := range cond {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				parts = append(parts, field+"["+op+"]="+formatOperand(cond[op]))
			}
		default:
			parts = append(parts, field+"="+formatOperand(cond))
		}
	}

	return strings.Join(parts, "&")
}

func formatOperand(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = formatOperand(item)
		}
		return strings.Join(items, ",")
	case string:
		return val
	default:
		return fmt.Sprint(v)
	}
}
