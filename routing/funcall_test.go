package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseCall_ArgumentTyping tests classification of positional arguments
func TestParseCall_ArgumentTyping(t *testing.T) {
	call, err := ParseCall("enrich(contact_a1,42,-3.5,https://api.acme.com/x,hello)")
	require.NoError(t, err)

	assert.Equal(t, "enrich", call.Name)
	require.Len(t, call.Args, 5)

	assert.Equal(t, ArgEntity, call.Args[0].Kind)
	assert.Equal(t, "contact_a1", call.Args[0].Entity.ID)

	assert.Equal(t, ArgNumber, call.Args[1].Kind)
	assert.Equal(t, float64(42), call.Args[1].Number)

	assert.Equal(t, ArgNumber, call.Args[2].Kind)
	assert.Equal(t, -3.5, call.Args[2].Number)

	assert.Equal(t, ArgURL, call.Args[3].Kind)
	assert.Equal(t, "https://api.acme.com/x", call.Args[3].Value)

	assert.Equal(t, ArgString, call.Args[4].Kind)
	assert.Equal(t, "hello", call.Args[4].Value)
}

// TestParseCall_Kwargs tests named argument extraction
func TestParseCall_Kwargs(t *testing.T) {
	call, err := ParseCall("send(deal_b2,channel=email,retries=3)")
	require.NoError(t, err)

	require.Len(t, call.Args, 1)
	assert.Equal(t, ArgEntity, call.Args[0].Kind)

	require.Len(t, call.Kwargs, 2)
	assert.Equal(t, ArgString, call.Kwargs["channel"].Kind)
	assert.Equal(t, "email", call.Kwargs["channel"].Value)
	assert.Equal(t, ArgNumber, call.Kwargs["retries"].Kind)
	assert.Equal(t, float64(3), call.Kwargs["retries"].Number)
}

// TestParseCall_DottedNames tests namespaced function names
func TestParseCall_DottedNames(t *testing.T) {
	call, err := ParseCall("papa.parse(https://example.com/data.csv)")
	require.NoError(t, err)

	assert.Equal(t, "papa.parse", call.Name)
	require.Len(t, call.Args, 1)
	assert.Equal(t, ArgURL, call.Args[0].Kind)
}

// TestParseCall_EmptyArgs tests the zero-argument form
func TestParseCall_EmptyArgs(t *testing.T) {
	call, err := ParseCall("ping()")
	require.NoError(t, err)

	assert.Equal(t, "ping", call.Name)
	assert.Empty(t, call.Args)
	assert.Empty(t, call.Kwargs)
}

// TestParseCall_EncodedComma tests that %2C survives inside one argument
func TestParseCall_EncodedComma(t *testing.T) {
	call, err := ParseCall("tag(contact_a1,label=a%2Cb)")
	require.NoError(t, err)

	require.Len(t, call.Args, 1)
	assert.Equal(t, "a,b", call.Kwargs["label"].Value)
}

// TestParseCall_URLWithQueryNotKwarg tests that URLs keep their query part
func TestParseCall_URLWithQueryNotKwarg(t *testing.T) {
	call, err := ParseCall("fetch(https://api.acme.com/v1?mode=fast)")
	require.NoError(t, err)

	require.Len(t, call.Args, 1)
	assert.Empty(t, call.Kwargs)
	assert.Equal(t, ArgURL, call.Args[0].Kind)
	assert.Equal(t, "https://api.acme.com/v1?mode=fast", call.Args[0].Value)
}

// TestParseCall_Malformed tests rejection of malformed segments
func TestParseCall_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		segment string
	}{
		{name: "NoParens", segment: "score"},
		{name: "NoClose", segment: "score(a"},
		{name: "EmptyName", segment: "(a)"},
		{name: "BadName", segment: "9score(a)"},
		{name: "DashInName", segment: "sc-ore(a)"},
		{name: "TrailingText", segment: "score(a)/extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCall(tt.segment)
			assert.ErrorIs(t, err, ErrInvalidCall)
		})
	}
}

// BenchmarkParseCall benchmarks function-call parsing
func BenchmarkParseCall(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseCall("enrich(contact_a1,42,channel=email)")
	}
}
