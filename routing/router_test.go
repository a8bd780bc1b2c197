package routing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassify_AllKinds tests classification across the seven route kinds
func TestClassify_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Kind
	}{
		{name: "Collection", path: "/contacts", want: KindCollection},
		{name: "Entity", path: "/contact_kRziM", want: KindEntity},
		{name: "EntityAction", path: "/contact_kRziM/qualify", want: KindEntityAction},
		{name: "CollectionAction", path: "/contacts/create", want: KindCollectionAction},
		{name: "CollectionMeta", path: "/contacts/$schema", want: KindMeta},
		{name: "EntityMeta", path: "/contact_kRziM/$history", want: KindMeta},
		{name: "FunctionCall", path: "/score(contact_kRziM)", want: KindFunctionCall},
		{name: "Search", path: "/search", want: KindSearch},
		{name: "UnknownDeep", path: "/a/b/c", want: KindUnknown},
		{name: "UnknownRoot", path: "/", want: KindUnknown},
		{name: "UnknownBadChars", path: "/co!ntacts", want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Classify(tt.path, nil)
			assert.Equal(t, tt.want, route.Kind)
		})
	}
}

// TestClassify_CollectionFields tests field population for collections
func TestClassify_CollectionFields(t *testing.T) {
	route := Classify("/contacts", nil)

	assert.Equal(t, KindCollection, route.Kind)
	assert.Equal(t, "contacts", route.Collection)
	assert.Empty(t, route.Tenant)
	assert.Equal(t, "/contacts", route.Raw)
}

// TestClassify_EntityFields tests field population for entities
func TestClassify_EntityFields(t *testing.T) {
	route := Classify("/contact_kRziM", nil)

	require.NotNil(t, route.Entity)
	assert.Equal(t, "contact", route.Entity.Type)
	assert.Equal(t, "contacts", route.Entity.Collection)
	assert.Equal(t, "kRziM", route.Entity.Sqid)
	assert.Equal(t, "contact_kRziM", route.Entity.ID)
}

// TestClassify_TenantStrip tests the tenant prefix handling
func TestClassify_TenantStrip(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantTenant string
		wantKind   Kind
		wantRaw    string
	}{
		{name: "TenantCollection", path: "/~acme/contacts", wantTenant: "acme", wantKind: KindCollection, wantRaw: "/contacts"},
		{name: "TenantEntity", path: "/~acme/contact_a1", wantTenant: "acme", wantKind: KindEntity, wantRaw: "/contact_a1"},
		{name: "TenantOnly", path: "/~acme", wantTenant: "acme", wantKind: KindUnknown, wantRaw: "/"},
		{name: "NoTenant", path: "/contacts", wantTenant: "", wantKind: KindCollection, wantRaw: "/contacts"},
		{name: "EmptySlug", path: "/~/contacts", wantTenant: "", wantKind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Classify(tt.path, nil)
			assert.Equal(t, tt.wantTenant, route.Tenant)
			assert.Equal(t, tt.wantKind, route.Kind)
			if tt.wantRaw != "" {
				assert.Equal(t, tt.wantRaw, route.Raw)
			}
		})
	}
}

// TestClassify_MetaTargets tests meta-resource target extraction
func TestClassify_MetaTargets(t *testing.T) {
	collectionMeta := Classify("/contacts/$count", nil)
	require.Equal(t, KindMeta, collectionMeta.Kind)
	require.NotNil(t, collectionMeta.Meta)
	assert.Equal(t, "$count", collectionMeta.Meta.Name)
	assert.Equal(t, "contacts", collectionMeta.Meta.Collection)
	assert.False(t, collectionMeta.Meta.IsEntity())

	entityMeta := Classify("/contact_a1/$history", nil)
	require.Equal(t, KindMeta, entityMeta.Kind)
	require.NotNil(t, entityMeta.Meta)
	assert.Equal(t, "$history", entityMeta.Meta.Name)
	require.True(t, entityMeta.Meta.IsEntity())
	assert.Equal(t, "contact_a1", entityMeta.Meta.Entity.ID)

	rootMeta := Classify("/$schema", nil)
	require.Equal(t, KindMeta, rootMeta.Kind)
	assert.Empty(t, rootMeta.Meta.Collection)
	assert.False(t, rootMeta.Meta.IsEntity())
}

// TestClassify_TieOrder tests that function-call beats entity beats collection
func TestClassify_TieOrder(t *testing.T) {
	// A parenthesized segment is a function call even when its name would
	// otherwise parse as an identifier or collection.
	route := Classify("/score(contact_a1)", nil)
	assert.Equal(t, KindFunctionCall, route.Kind)

	// An identifier-shaped segment is an entity, never a collection.
	route = Classify("/contact_a1", nil)
	assert.Equal(t, KindEntity, route.Kind)

	// A failed function-call parse with parens ends up unknown, not entity.
	route = Classify("/bad(call/extra", nil)
	assert.Equal(t, KindUnknown, route.Kind)
}

// TestClassify_SearchQuery tests query extraction for the search route
func TestClassify_SearchQuery(t *testing.T) {
	q := url.Values{"q": []string{"alice"}}
	route := Classify("/search", q)

	assert.Equal(t, KindSearch, route.Kind)
	assert.Equal(t, "alice", route.Query)

	route = Classify("/search", nil)
	assert.Equal(t, KindSearch, route.Kind)
	assert.Empty(t, route.Query)
}

// TestClassify_Deterministic tests that classification is stable
func TestClassify_Deterministic(t *testing.T) {
	paths := []string{
		"/contacts",
		"/contact_a1",
		"/contact_a1/qualify",
		"/contacts/$schema",
		"/score(1,2,k=v)",
		"/~acme/deals",
		"/search",
		"/x/y/z",
	}

	for _, path := range paths {
		first := Classify(path, nil)
		second := Classify(path, nil)
		assert.Equal(t, first, second, path)
	}
}

// TestClassify_ActionFields tests action route field population
func TestClassify_ActionFields(t *testing.T) {
	entityAction := Classify("/deal_x9/send-contract", nil)
	require.Equal(t, KindEntityAction, entityAction.Kind)
	assert.Equal(t, "deal_x9", entityAction.Entity.ID)
	assert.Equal(t, "send-contract", entityAction.Action)

	collectionAction := Classify("/contacts/create", nil)
	require.Equal(t, KindCollectionAction, collectionAction.Kind)
	assert.Equal(t, "contacts", collectionAction.Collection)
	assert.Equal(t, "create", collectionAction.Action)
}

// BenchmarkClassify benchmarks path classification
func BenchmarkClassify(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Classify("/~acme/contact_kRziM/qualify", nil)
	}
}
