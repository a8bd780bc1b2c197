// Package db implements the gateway's storage bindings: the entity store
// behind the CRUD convention, the versioned history provider behind
// $history, the events binding behind the events convention, and the
// discovery forward cache. Stores are tenant-partitioned; every operation
// names the tenant and model it works on and documents travel as plain maps.
package db

import (
	"context"
	"errors"

	"github.com/dot-do/gateway/query"
)

// ErrNotFound is returned when a document does not exist in the store.
var ErrNotFound = errors.New("document not found")

// ErrExists is returned when a create collides with an existing id.
var ErrExists = errors.New("document already exists")

// ListOptions carries filtering, sorting and pagination for list calls.
type ListOptions struct {
	Filter query.Filter
	Sort   []query.SortField
	Limit  int
	Offset int

	// IncludeDeleted also returns soft-deleted documents.
	IncludeDeleted bool
}

// Page is a list result slice plus its pagination facts.
type Page struct {
	Data    []map[string]any
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// DatabaseBinding is the entity store contract consumed by the CRUD
// convention. Implementations own their concurrency control; the gateway
// never locks around them.
type DatabaseBinding interface {
	// Create stores a new document under its "id" field.
	Create(ctx context.Context, tenant, model string, doc map[string]any) error

	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, tenant, model, id string) (map[string]any, error)

	// Update replaces a document, ErrNotFound when absent.
	Update(ctx context.Context, tenant, model, id string, doc map[string]any) error

	// Delete removes a document permanently. Soft deletion is an Update
	// that sets the deletion meta-fields.
	Delete(ctx context.Context, tenant, model, id string) error

	// List returns documents matching the options.
	List(ctx context.Context, tenant, model string, opts ListOptions) (Page, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, tenant, model string, filter query.Filter) (int, error)

	// Search matches q case-insensitively against the given fields.
	Search(ctx context.Context, tenant, model, q string, fields []string, opts ListOptions) (Page, error)

	Close() error
}

// HistoryProvider stores per-document version snapshots for the $history
// meta-resource. A snapshot is taken before every update and delete.
type HistoryProvider interface {
	Snapshot(ctx context.Context, tenant, model, id string, doc map[string]any) error
	History(ctx context.Context, tenant, model, id string) ([]map[string]any, error)
}

// DefaultPageLimit applies when a list call does not set a limit.
const DefaultPageLimit = 25

// MaxPageLimit caps client-supplied limits.
const MaxPageLimit = 1000

// ClampLimit normalizes a client-supplied limit into [1, MaxPageLimit],
// falling back to DefaultPageLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
