package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
models:
  - name: contact
    typeNum: 1
    fields:
      name:
        type: string
        required: true
      email:
        type: string
        format: email
      score:
        type: number
      stage:
        type: string
        enum: [lead, qualified, customer]
    relations:
      deals:
        model: deal
        foreignKey: contactId
    sortable: [name, score]
  - name: deal
    typeNum: 2
    fields:
      name:
        type: string
        required: true
      amount:
        type: number
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testYAML))
	require.NoError(t, err)
	require.Len(t, s.Models, 2)

	contact, ok := s.Model("contact")
	require.True(t, ok)
	assert.Equal(t, uint32(1), contact.TypeNum)
	assert.Equal(t, "contacts", contact.Collection())
	assert.True(t, contact.Fields["name"].Required)

	byColl, ok := s.ModelForCollection("deals")
	require.True(t, ok)
	assert.Equal(t, "deal", byColl.Name)

	assert.Equal(t, []string{"contacts", "deals"}, s.Collections())
	assert.Equal(t, map[string]uint32{"contact": 1, "deal": 2}, s.TypeNums())
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate name", "models:\n  - name: a\n    typeNum: 1\n  - name: a\n    typeNum: 2\n"},
		{"duplicate typeNum", "models:\n  - name: a\n    typeNum: 1\n  - name: b\n    typeNum: 1\n"},
		{"zero typeNum", "models:\n  - name: a\n"},
		{"uppercase name", "models:\n  - name: Contact\n    typeNum: 1\n"},
		{"unknown relation target", "models:\n  - name: a\n    typeNum: 1\n    relations:\n      things:\n        model: missing\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_Create(t *testing.T) {
	s, err := Parse([]byte(testYAML))
	require.NoError(t, err)
	contact, _ := s.Model("contact")

	t.Run("valid input", func(t *testing.T) {
		errs := contact.Validate(map[string]any{
			"name":  "Alice",
			"email": "alice@acme.com",
			"score": 42.0,
			"stage": "lead",
		}, true)
		assert.Empty(t, errs)
	})

	t.Run("missing required", func(t *testing.T) {
		errs := contact.Validate(map[string]any{"email": "alice@acme.com"}, true)
		require.Len(t, errs, 1)
		assert.Equal(t, "name", errs[0].Field)
		assert.Equal(t, "string", errs[0].Expected)
		assert.Equal(t, "null", errs[0].Received)
	})

	t.Run("wrong type", func(t *testing.T) {
		errs := contact.Validate(map[string]any{"name": "Alice", "score": "high"}, true)
		require.Len(t, errs, 1)
		assert.Equal(t, "score", errs[0].Field)
		assert.Equal(t, "number", errs[0].Expected)
		assert.Equal(t, "string", errs[0].Received)
	})

	t.Run("enum violation", func(t *testing.T) {
		errs := contact.Validate(map[string]any{"name": "Alice", "stage": "ghosted"}, true)
		require.Len(t, errs, 1)
		assert.Equal(t, "stage", errs[0].Field)
		assert.Equal(t, "ghosted", errs[0].Received)
	})

	t.Run("unknown fields pass", func(t *testing.T) {
		errs := contact.Validate(map[string]any{"name": "Alice", "nickname": "Al"}, true)
		assert.Empty(t, errs)
	})
}

func TestValidate_Update(t *testing.T) {
	s, err := Parse([]byte(testYAML))
	require.NoError(t, err)
	contact, _ := s.Model("contact")

	// Partial updates skip the required check but still type-check.
	assert.Empty(t, contact.Validate(map[string]any{"email": "new@acme.com"}, false))

	errs := contact.Validate(map[string]any{"score": true}, false)
	require.Len(t, errs, 1)
	assert.Equal(t, "score", errs[0].Field)
}

func TestStripMeta(t *testing.T) {
	out := StripMeta(map[string]any{
		"name":       "Alice",
		"id":         "contact_abc",
		"_version":   float64(3),
		"_createdAt": "2024-01-01T00:00:00Z",
		"_deletedBy": "user_1",
	})

	assert.Equal(t, map[string]any{"name": "Alice"}, out)
}

func TestMetaInjection(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := map[string]any{"name": "Alice"}

	InjectCreateMeta(doc, "user_1", now)
	assert.Equal(t, float64(1), doc[MetaVersion])
	assert.Equal(t, "2024-06-01T12:00:00Z", doc[MetaCreatedAt])
	assert.Equal(t, "user_1", doc[MetaCreatedBy])
	assert.False(t, IsDeleted(doc))

	later := now.Add(time.Hour)
	InjectUpdateMeta(doc, "user_2", later)
	assert.Equal(t, float64(2), doc[MetaVersion])
	assert.Equal(t, "user_2", doc[MetaUpdatedBy])
	assert.Equal(t, "user_1", doc[MetaCreatedBy])

	InjectDeleteMeta(doc, "user_2", later)
	assert.True(t, IsDeleted(doc))
	assert.Equal(t, float64(3), doc[MetaVersion])
}

func TestJSONSchema(t *testing.T) {
	s, err := Parse([]byte(testYAML))
	require.NoError(t, err)
	contact, _ := s.Model("contact")

	js := contact.JSONSchema()
	assert.Equal(t, "object", js["type"])
	assert.Equal(t, "contact", js["title"])
	assert.Equal(t, []string{"name"}, js["required"])

	props, ok := js["properties"].(map[string]any)
	require.True(t, ok)
	email, ok := props["email"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", email["type"])
	assert.Equal(t, "email", email["format"])
	score := props["score"].(map[string]any)
	assert.Equal(t, "number", score["type"])
}

func TestDefaultSchema(t *testing.T) {
	s := Default()
	require.NotEmpty(t, s.Models)

	contact, ok := s.Model("contact")
	require.True(t, ok)
	assert.NotEmpty(t, contact.SortableFields())
	assert.NotEmpty(t, contact.SearchableFields())

	task, ok := s.Model("task")
	require.True(t, ok)
	assert.Equal(t, "Ship it", task.Display(map[string]any{"title": "Ship it"}))
	assert.Equal(t, "task_x1", task.Display(map[string]any{"id": "task_x1"}))
}
