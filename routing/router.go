package routing

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dot-do/gateway/ids"
)

// wordPattern matches plain collection and action segments.
var wordPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Classify parses a request path into a ParsedRoute. The path should be the
// escaped form (url.URL.EscapedPath) so that URL-encoded commas inside
// function-call arguments survive until the argument split. The query
// values are consulted only for the search route's q parameter; nil is
// accepted.
//
// Classification order, first match wins:
//
//	tenant strip -> function-call -> meta -> search -> entity -> collection
//	-> entity-action / collection-action -> unknown
func Classify(path string, query url.Values) ParsedRoute {
	tenant, rest := stripTenant(path)

	route := ParsedRoute{Tenant: tenant, Raw: rest}

	trimmed := strings.Trim(rest, "/")
	if trimmed == "" {
		route.Kind = KindUnknown
		route.Path = rest
		return route
	}

	// Function-call syntax wins every tie. A failed parse falls through to
	// segment classification, which will land on unknown for paths that
	// still contain parentheses.
	if strings.Contains(trimmed, "(") {
		if call, err := ParseCall(trimmed); err == nil {
			route.Kind = KindFunctionCall
			route.Call = call
			return route
		}
	}

	segments := strings.Split(trimmed, "/")

	switch len(segments) {
	case 1:
		return classifySingle(route, segments[0], query)
	case 2:
		return classifyPair(route, segments[0], segments[1])
	default:
		route.Kind = KindUnknown
		route.Path = rest
		return route
	}
}

func classifySingle(route ParsedRoute, seg string, query url.Values) ParsedRoute {
	seg = unescapeSegment(seg)

	if strings.HasPrefix(seg, "$") {
		// Root-level meta has no target; dispatch rejects it downstream.
		route.Kind = KindMeta
		route.Meta = &MetaTarget{Name: seg}
		return route
	}

	if seg == "search" {
		route.Kind = KindSearch
		if query != nil {
			route.Query = query.Get("q")
		}
		return route
	}

	if id, err := ids.Parse(seg); err == nil {
		route.Kind = KindEntity
		route.Entity = &id
		return route
	}

	if wordPattern.MatchString(seg) {
		route.Kind = KindCollection
		route.Collection = seg
		return route
	}

	route.Kind = KindUnknown
	route.Path = route.Raw
	return route
}

func classifyPair(route ParsedRoute, first, second string) ParsedRoute {
	first = unescapeSegment(first)
	second = unescapeSegment(second)

	if strings.HasPrefix(second, "$") {
		if id, err := ids.Parse(first); err == nil {
			route.Kind = KindMeta
			route.Meta = &MetaTarget{Name: second, Entity: &id}
			return route
		}
		if wordPattern.MatchString(first) {
			route.Kind = KindMeta
			route.Meta = &MetaTarget{Name: second, Collection: first}
			return route
		}
		route.Kind = KindUnknown
		route.Path = route.Raw
		return route
	}

	if id, err := ids.Parse(first); err == nil && wordPattern.MatchString(second) {
		route.Kind = KindEntityAction
		route.Entity = &id
		route.Action = second
		return route
	}

	if wordPattern.MatchString(first) && wordPattern.MatchString(second) {
		route.Kind = KindCollectionAction
		route.Collection = first
		route.Action = second
		return route
	}

	route.Kind = KindUnknown
	route.Path = route.Raw
	return route
}

// stripTenant removes a leading "/~slug" segment and returns the slug and
// the remainder. "/~acme" alone leaves an empty remainder.
func stripTenant(path string) (tenant, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if !strings.HasPrefix(trimmed, "~") {
		return "", path
	}

	seg, remainder, found := strings.Cut(trimmed, "/")
	slug := strings.TrimPrefix(seg, "~")
	if slug == "" {
		return "", path
	}
	if !found {
		return slug, "/"
	}
	return slug, "/" + remainder
}

func unescapeSegment(seg string) string {
	if u, err := url.PathUnescape(seg); err == nil {
		return u
	}
	return seg
}
