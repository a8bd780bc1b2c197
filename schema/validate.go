package schema

import (
	"fmt"
	"time"

	"github.com/dot-do/gateway/envelope"
)

// Meta-field names injected by the core and stripped from user input.
const (
	MetaVersion   = "_version"
	MetaCreatedAt = "_createdAt"
	MetaCreatedBy = "_createdBy"
	MetaUpdatedAt = "_updatedAt"
	MetaUpdatedBy = "_updatedBy"
	MetaDeletedAt = "_deletedAt"
	MetaDeletedBy = "_deletedBy"
)

var metaFields = map[string]struct{}{
	MetaVersion: {}, MetaCreatedAt: {}, MetaCreatedBy: {},
	MetaUpdatedAt: {}, MetaUpdatedBy: {}, MetaDeletedAt: {}, MetaDeletedBy: {},
}

// IsMetaField reports whether a key belongs to the injected meta surface.
func IsMetaField(key string) bool {
	_, ok := metaFields[key]
	return ok
}

// StripMeta returns a copy of input without meta-fields and without the
// reserved "id" key, the shape accepted from clients.
func StripMeta(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if IsMetaField(k) || k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Validate checks input against the model's declared fields. With
// requireAll set (create), required fields must be present; without it
// (update/patch) only the supplied fields are checked. Unknown fields pass:
// the stores are document-shaped and extra attributes are allowed.
func (m *Model) Validate(input map[string]any, requireAll bool) []envelope.FieldError {
	var errs []envelope.FieldError

	if requireAll {
		for name, f := range m.Fields {
			if !f.Required {
				continue
			}
			if v, ok := input[name]; !ok || v == nil || v == "" {
				errs = append(errs, envelope.FieldError{
					Field:    name,
					Message:  fmt.Sprintf("%s is required", name),
					Expected: jsonType(f.Type),
					Received: receivedType(input[name]),
				})
			}
		}
	}

	for name, value := range input {
		f, declared := m.Fields[name]
		if !declared || value == nil {
			continue
		}
		if !typeMatches(f.Type, value) {
			errs = append(errs, envelope.FieldError{
				Field:    name,
				Message:  fmt.Sprintf("%s must be a %s", name, jsonType(f.Type)),
				Expected: jsonType(f.Type),
				Received: receivedType(value),
			})
			continue
		}
		if len(f.Enum) > 0 {
			if s, ok := value.(string); ok && !enumContains(f.Enum, s) {
				errs = append(errs, envelope.FieldError{
					Field:    name,
					Message:  fmt.Sprintf("%s must be one of %v", name, f.Enum),
					Expected: fmt.Sprintf("one of %v", f.Enum),
					Received: s,
				})
			}
		}
	}

	return errs
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "", "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func receivedType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func enumContains(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

// InjectCreateMeta stamps the meta-fields for a freshly created document.
func InjectCreateMeta(doc map[string]any, actor string, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	doc[MetaVersion] = float64(1)
	doc[MetaCreatedAt] = ts
	doc[MetaUpdatedAt] = ts
	if actor != "" {
		doc[MetaCreatedBy] = actor
		doc[MetaUpdatedBy] = actor
	}
}

// InjectUpdateMeta bumps the version and update stamps on a mutation.
func InjectUpdateMeta(doc map[string]any, actor string, now time.Time) {
	version, _ := doc[MetaVersion].(float64)
	doc[MetaVersion] = version + 1
	doc[MetaUpdatedAt] = now.UTC().Format(time.RFC3339)
	if actor != "" {
		doc[MetaUpdatedBy] = actor
	}
}

// InjectDeleteMeta marks a document soft-deleted.
func InjectDeleteMeta(doc map[string]any, actor string, now time.Time) {
	doc[MetaDeletedAt] = now.UTC().Format(time.RFC3339)
	if actor != "" {
		doc[MetaDeletedBy] = actor
	}
	InjectUpdateMeta(doc, actor, now)
}

// IsDeleted reports whether a document carries a soft-delete marker.
func IsDeleted(doc map[string]any) bool {
	v, ok := doc[MetaDeletedAt]
	return ok && v != nil && v != ""
}
