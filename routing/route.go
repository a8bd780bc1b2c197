// Package routing classifies request paths into structured route kinds.
//
// The classifier is total and side-effect-free: every path maps to exactly
// one ParsedRoute, ties broken in a fixed order (function-call beats entity
// beats collection). Routes live for a single request; nothing in this
// package holds state.
package routing

import (
	"github.com/dot-do/gateway/ids"
)

// Kind enumerates the route shapes the classifier can produce.
type Kind string

const (
	KindCollection       Kind = "collection"
	KindEntity           Kind = "entity"
	KindEntityAction     Kind = "entity-action"
	KindCollectionAction Kind = "collection-action"
	KindMeta             Kind = "meta"
	KindFunctionCall     Kind = "function-call"
	KindSearch           Kind = "search"
	KindUnknown          Kind = "unknown"
)

// ParsedRoute is the tagged variant emitted by Classify. Kind selects which
// of the optional fields are populated; every route carries the originating
// tenant slug (empty when the path had no "~slug" prefix) and the raw path
// that remained after the tenant strip.
type ParsedRoute struct {
	Kind   Kind
	Tenant string
	Raw    string

	// Collection is set for collection and collection-action routes.
	Collection string

	// Entity is set for entity and entity-action routes.
	Entity *ids.Identifier

	// Action is set for entity-action and collection-action routes.
	Action string

	// Meta is set for meta routes.
	Meta *MetaTarget

	// Call is set for function-call routes.
	Call *FunctionCall

	// Query is set for search routes (the ?q= value, may be empty).
	Query string

	// Path is set for unknown routes.
	Path string
}

// MetaTarget is the subject of a "$name" meta-resource: either a collection
// or an entity. Name keeps the leading "$".
type MetaTarget struct {
	Name       string
	Collection string
	Entity     *ids.Identifier
}

// IsEntity reports whether the meta-resource targets an entity.
func (m *MetaTarget) IsEntity() bool { return m.Entity != nil }
