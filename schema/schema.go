// Package schema defines the gateway's model descriptions: the typed fields,
// relations, and per-model routing hints that the database convention turns
// into validated REST surfaces.
//
// Schemas are declared in YAML, the same way service configuration is, and
// parsed once at boot. The parsed form is read-only afterwards.
package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dot-do/gateway/ids"
)

// Field describes one model attribute.
type Field struct {
	// Type is one of "string", "number", "boolean", "object", "array".
	Type string `yaml:"type"`

	// Required makes create calls fail when the field is absent.
	Required bool `yaml:"required"`

	// Description surfaces in the $schema meta-resource.
	Description string `yaml:"description,omitempty"`

	// Enum restricts string values to the listed choices.
	Enum []string `yaml:"enum,omitempty"`

	// Format is a documentational hint ("email", "uri", "date-time").
	Format string `yaml:"format,omitempty"`
}

// Relation links a model to another model's collection.
type Relation struct {
	// Model is the target model name.
	Model string `yaml:"model"`

	// ForeignKey is the field on the target documents that points back at
	// the owning entity id.
	ForeignKey string `yaml:"foreignKey"`
}

// Model is one declared entity type.
type Model struct {
	// Name is the singular camelCase model name ("contact", "featureFlag").
	Name string `yaml:"name"`

	// TypeNum is the registry number embedded in this model's sqids.
	TypeNum uint32 `yaml:"typeNum"`

	// Description surfaces on discovery routes.
	Description string `yaml:"description,omitempty"`

	// Fields maps attribute names to their declarations.
	Fields map[string]Field `yaml:"fields"`

	// Relations maps sub-path names to related collections
	// ("/deals/:id/contacts" comes from a "contacts" relation on "deal").
	Relations map[string]Relation `yaml:"relations,omitempty"`

	// Sortable lists the fields offered by the $sort meta-resource.
	Sortable []string `yaml:"sortable,omitempty"`

	// Searchable lists the fields matched by /{plural}/search and /search.
	Searchable []string `yaml:"searchable,omitempty"`

	// DisplayField names the field used as the human label in map views.
	// Defaults to "name".
	DisplayField string `yaml:"displayField,omitempty"`
}

// Schema is the full parsed model set.
type Schema struct {
	Models []Model `yaml:"models"`

	byName       map[string]*Model
	byCollection map[string]*Model
}

// Parse decodes a YAML schema document and indexes it. Duplicate model
// names, duplicate type numbers, and malformed names fail loudly so a bad
// schema never reaches routing.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

func (s *Schema) index() error {
	s.byName = make(map[string]*Model, len(s.Models))
	s.byCollection = make(map[string]*Model, len(s.Models))
	nums := make(map[uint32]string, len(s.Models))

	for i := range s.Models {
		m := &s.Models[i]
		if m.Name == "" {
			return fmt.Errorf("schema: model %d has no name", i)
		}
		if m.Name[0] >= 'A' && m.Name[0] <= 'Z' {
			return fmt.Errorf("schema: model name %q must start lowercase", m.Name)
		}
		if _, dup := s.byName[m.Name]; dup {
			return fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		if m.TypeNum == 0 {
			return fmt.Errorf("schema: model %q needs a non-zero typeNum", m.Name)
		}
		if other, dup := nums[m.TypeNum]; dup {
			return fmt.Errorf("schema: typeNum %d assigned to both %q and %q", m.TypeNum, other, m.Name)
		}
		nums[m.TypeNum] = m.Name
		s.byName[m.Name] = m
		s.byCollection[m.Collection()] = m
	}

	for _, m := range s.Models {
		for relName, rel := range m.Relations {
			if _, ok := s.byName[rel.Model]; !ok {
				return fmt.Errorf("schema: relation %s.%s targets unknown model %q", m.Name, relName, rel.Model)
			}
		}
	}
	return nil
}

// Model looks up a model by its singular name.
func (s *Schema) Model(name string) (*Model, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// ModelForCollection looks up a model by its pluralized collection name.
func (s *Schema) ModelForCollection(collection string) (*Model, bool) {
	m, ok := s.byCollection[collection]
	return m, ok
}

// Collections returns all collection names, sorted.
func (s *Schema) Collections() []string {
	out := make([]string, 0, len(s.byCollection))
	for name := range s.byCollection {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TypeNums returns the name -> number mapping fed into the type registry.
func (s *Schema) TypeNums() map[string]uint32 {
	out := make(map[string]uint32, len(s.Models))
	for _, m := range s.Models {
		out[m.Name] = m.TypeNum
	}
	return out
}

// Collection returns the pluralized collection name for the model.
func (m *Model) Collection() string {
	return ids.Pluralize(m.Name)
}

// Display returns the human label for a document: the configured display
// field when present, otherwise "name", otherwise the document id.
func (m *Model) Display(doc map[string]any) string {
	field := m.DisplayField
	if field == "" {
		field = "name"
	}
	if v, ok := doc[field].(string); ok && v != "" {
		return v
	}
	if id, ok := doc["id"].(string); ok {
		return id
	}
	return ""
}

// SortableFields returns the configured sortable fields, falling back to
// every declared field sorted by name when none are configured.
func (m *Model) SortableFields() []string {
	if len(m.Sortable) > 0 {
		return m.Sortable
	}
	out := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SearchableFields returns the configured searchable fields, falling back
// to every string-typed field.
func (m *Model) SearchableFields() []string {
	if len(m.Searchable) > 0 {
		return m.Searchable
	}
	var out []string
	for name, f := range m.Fields {
		if f.Type == "" || f.Type == "string" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// JSONSchema derives the $schema meta-resource payload.
func (m *Model) JSONSchema() map[string]any {
	properties := map[string]any{}
	var required []string

	fieldNames := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, name := range fieldNames {
		f := m.Fields[name]
		prop := map[string]any{"type": jsonType(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Format != "" {
			prop["format"] = f.Format
		}
		properties[name] = prop
		if f.Required {
			required = append(required, name)
		}
	}

	js := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      m.Name,
		"type":       "object",
		"properties": properties,
	}
	if m.Description != "" {
		js["description"] = m.Description
	}
	if len(required) > 0 {
		js["required"] = required
	}
	return js
}

func jsonType(t string) string {
	switch t {
	case "", "string":
		return "string"
	case "number", "boolean", "object", "array":
		return t
	default:
		return "string"
	}
}

// Default returns the built-in model set used when no schema file is
// configured: a small CRM shape that exercises every declaration feature.
func Default() *Schema {
	s := &Schema{Models: []Model{
		{
			Name:        "contact",
			TypeNum:     1,
			Description: "People tracked by the gateway",
			Fields: map[string]Field{
				"name":    {Type: "string", Required: true},
				"email":   {Type: "string", Format: "email"},
				"company": {Type: "string"},
				"stage":   {Type: "string", Enum: []string{"lead", "qualified", "customer"}},
				"score":   {Type: "number"},
			},
			Relations: map[string]Relation{
				"deals": {Model: "deal", ForeignKey: "contactId"},
			},
			Sortable:   []string{"name", "score"},
			Searchable: []string{"name", "email", "company"},
		},
		{
			Name:        "deal",
			TypeNum:     2,
			Description: "Open opportunities",
			Fields: map[string]Field{
				"name":      {Type: "string", Required: true},
				"amount":    {Type: "number"},
				"contactId": {Type: "string"},
				"closed":    {Type: "boolean"},
			},
			Sortable: []string{"name", "amount"},
		},
		{
			Name:    "task",
			TypeNum: 3,
			Fields: map[string]Field{
				"title": {Type: "string", Required: true},
				"done":  {Type: "boolean"},
			},
			DisplayField: "title",
		},
	}}
	if err := s.index(); err != nil {
		panic(err)
	}
	return s
}
