package db

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// applyQuery runs the in-process query pipeline over a model scan:
// soft-delete gate, filter match, sort, then pagination. Every store funnels
// list and search results through here so the three drivers paginate
// identically.
func applyQuery(docs []map[string]any, opts ListOptions) Page {
	filtered := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if !includeDoc(doc, opts) {
			continue
		}
		filtered = append(filtered, doc)
	}

	query.SortDocuments(filtered, opts.Sort)

	total := len(filtered)
	limit := ClampLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return Page{
		Data:    filtered[start:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	}
}

func includeDoc(doc map[string]any, opts ListOptions) bool {
	if !opts.IncludeDeleted && schema.IsDeleted(doc) {
		return false
	}
	if len(opts.Filter) > 0 && !query.Match(doc, opts.Filter) {
		return false
	}
	return true
}

// matchesSearch reports whether q appears case-insensitively in any of the
// given string fields.
func matchesSearch(doc map[string]any, q string, fields []string) bool {
	q = strings.ToLower(q)
	for _, f := range fields {
		if s, ok := doc[f].(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// cloneDoc deep-copies a document through a JSON round trip. The trip also
// normalizes every number to float64, so documents read back from any store
// compare equal regardless of driver.
func cloneDoc(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return out, nil
}

// docID extracts the document's string id.
func docID(doc map[string]any) (string, error) {
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("document requires a string id")
	}
	return id, nil
}
