package query

import (
	"reflect"
	"regexp"
	"strings"
)

// Match evaluates a Filter against a document map. The semantics mirror the
// upstream store so that client-side evaluation over an already-returned
// page agrees with what the store would have filtered: operator conditions
// on one field AND together, multiple fields AND together, and the logical
// operators combine sub-filters.
func Match(doc map[string]any, f Filter) bool {
	for key, cond := range f {
		switch key {
		case "$or":
			if !matchAny(doc, cond) {
				return false
			}
		case "$and":
			if !matchAll(doc, cond) {
				return false
			}
		case "$nor":
			if matchAny(doc, cond) {
				return false
			}
		case "$not":
			sub, ok := asFilter(cond)
			if !ok || Match(doc, sub) {
				return false
			}
		default:
			if !matchField(doc, key, cond) {
				return false
			}
		}
	}
	return true
}

func matchAny(doc map[string]any, cond any) bool {
	for _, sub := range asFilterList(cond) {
		if Match(doc, sub) {
			return true
		}
	}
	return false
}

func matchAll(doc map[string]any, cond any) bool {
	for _, sub := range asFilterList(cond) {
		if !Match(doc, sub) {
			return false
		}
	}
	return true
}

func matchField(doc map[string]any, field string, cond any) bool {
	actual, exists := doc[field]

	ops, isOps := cond.(map[string]any)
	if !isOps {
		return exists && valueEqual(actual, cond)
	}

	for op, operand := range ops {
		if !matchOp(actual, exists, op, operand) {
			return false
		}
	}
	return true
}

func matchOp(actual any, exists bool, op string, operand any) bool {
	switch op {
	case "$eq":
		return exists && valueEqual(actual, operand)
	case "$ne":
		return !exists || !valueEqual(actual, operand)
	case "$gt":
		cmp, ok := compare(actual, operand)
		return exists && ok && cmp > 0
	case "$gte":
		cmp, ok := compare(actual, operand)
		return exists && ok && cmp >= 0
	case "$lt":
		cmp, ok := compare(actual, operand)
		return exists && ok && cmp < 0
	case "$lte":
		cmp, ok := compare(actual, operand)
		return exists && ok && cmp <= 0
	case "$in":
		return exists && contains(operand, actual)
	case "$nin":
		return !exists || !contains(operand, actual)
	case "$exists":
		want, _ := operand.(bool)
		return exists == want
	case "$regex":
		pattern, ok := operand.(string)
		if !ok || !exists {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		s, ok := actual.(string)
		return ok && re.MatchString(s)
	default:
		return false
	}
}

// valueEqual compares with numeric cross-type tolerance: float64(5) equals
// int(5) because JSON decoding and query coercion disagree on integer types.
func valueEqual(a, b any) bool {
	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	if aNum && bNum {
		return an == bn
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values: numerics numerically, strings
// lexicographically. Mixed-type pairs are incomparable and fail every
// range operator.
func compare(a, b any) (int, bool) {
	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func contains(operand, actual any) bool {
	items, ok := operand.([]any)
	if !ok {
		return valueEqual(operand, actual)
	}
	for _, item := range items {
		if valueEqual(item, actual) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asFilter(v any) (Filter, bool) {
	switch f := v.(type) {
	case Filter:
		return f, true
	case map[string]any:
		return Filter(f), true
	}
	return nil, false
}

func asFilterList(v any) []Filter {
	var out []Filter
	switch list := v.(type) {
	case []Filter:
		return list
	case []any:
		for _, item := range list {
			if f, ok := asFilter(item); ok {
				out = append(out, f)
			}
		}
	case Filter, map[string]any:
		if f, ok := asFilter(v); ok {
			out = append(out, f)
		}
	}
	return out
}
