package envelope

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDebug(t *testing.T) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer s3cret")
	headers.Set("Cookie", "session=abc")
	headers.Set("X-Tenant", "acme")

	start := time.Now().Add(-5 * time.Millisecond)
	info := BuildDebug("GET", "http://api.test/contacts?debug", headers, true, start)

	assert.Equal(t, "GET", info.Request.Method)
	assert.Equal(t, "http://api.test/contacts?debug", info.Request.URL)
	assert.Regexp(t, regexp.MustCompile(`^\d+ms$`), info.Timing.Duration)

	_, err := time.Parse(time.RFC3339, info.Timing.Timestamp)
	require.NoError(t, err)

	assert.Equal(t, "[redacted]", info.Request.Headers["Authorization"])
	assert.Equal(t, "[redacted]", info.Request.Headers["Cookie"])
	assert.Equal(t, "acme", info.Request.Headers["X-Tenant"])
}

func TestBuildDebugWithoutHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Tenant", "acme")

	info := BuildDebug("POST", "http://api.test/rpc", headers, false, time.Now())
	assert.Nil(t, info.Request.Headers)
}

func TestDomainRewrite(t *testing.T) {
	cases := []struct {
		name string
		r    DomainRewriter
		in   string
		want string
	}{
		{
			name: "collection root",
			in:   "https://api.test/contacts",
			want: "https://contacts.api.test/",
		},
		{
			name: "entity path keeps the rest",
			in:   "https://api.test/contacts/contact_2abc9Z",
			want: "https://contacts.api.test/contact_2abc9Z",
		},
		{
			name: "port stripped from derived suffix",
			in:   "http://localhost:8080/deals",
			want: "http://deals.localhost/",
		},
		{
			name: "explicit suffix",
			r:    DomainRewriter{Suffix: "do.com"},
			in:   "https://api.test/contacts",
			want: "https://contacts.do.com/",
		},
		{
			name: "segment override",
			r:    DomainRewriter{Overrides: map[string]string{"contacts": "people"}},
			in:   "https://api.test/contacts",
			want: "https://people.api.test/",
		},
		{
			name: "tenant paths pass through",
			in:   "https://api.test/~acme/contacts",
			want: "https://api.test/~acme/contacts",
		},
		{
			name: "root passes through",
			in:   "https://api.test/",
			want: "https://api.test/",
		},
		{
			name: "non-url passes through",
			in:   "not a url",
			want: "not a url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.r.Rewrite(tc.in))
		})
	}
}

func TestDomainRewriteApply(t *testing.T) {
	e := New(Options{
		Links:   map[string]string{"self": "https://api.test/contacts"},
		Actions: map[string]any{"create": "https://api.test/contacts/create"},
		Options: map[string]string{"array": "https://api.test/contacts?array"},
	})

	DomainRewriter{}.Apply(e)

	assert.Equal(t, "https://contacts.api.test/", e.Links["self"])
	assert.Equal(t, "https://contacts.api.test/create", e.Actions["create"])
	assert.Equal(t, "https://contacts.api.test/?array", e.Options["array"])
}

func TestMapView(t *testing.T) {
	items := []CollectionItem{
		{URL: "http://api.test/contacts/contact_2abc9Z", ID: "contact_2abc9Z", Name: "Ada"},
		{URL: "http://api.test/contacts/contact_3def0A", ID: "contact_3def0A"},
	}

	view := MapView(items)
	assert.Equal(t, map[string]string{
		"Ada":            "http://api.test/contacts/contact_2abc9Z",
		"contact_3def0A": "http://api.test/contacts/contact_3def0A",
	}, view)
}

func TestViewOptions(t *testing.T) {
	t.Run("map view advertises array", func(t *testing.T) {
		opts := ViewOptions("http://api.test/contacts", false)
		assert.Equal(t, "http://api.test/contacts?array", opts["array"])
	})

	t.Run("existing query appends", func(t *testing.T) {
		opts := ViewOptions("http://api.test/contacts?limit=5", false)
		assert.Equal(t, "http://api.test/contacts?limit=5&array", opts["array"])
	})

	t.Run("array view links back to map", func(t *testing.T) {
		opts := ViewOptions("http://api.test/contacts?array", true)
		assert.Equal(t, "http://api.test/contacts", opts["map"])
	})
}
