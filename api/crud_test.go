package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dot-do/gateway/queue"
)

func TestCreateAndGet(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada Lovelace","email":"ada@example.com"}`)
	id, _ := doc["id"].(string)
	require.True(t, strings.HasPrefix(id, "contact_"), "id %q carries the type prefix", id)
	assert.Equal(t, float64(1), doc["_version"])
	assert.NotEmpty(t, doc["_createdAt"])

	rec := tg.do(http.MethodGet, "/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "contact", body["$type"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "Ada Lovelace", data["name"])

	links := body["links"].(map[string]any)
	assert.Equal(t, "http://api.test/"+id, links["self"])
	assert.Equal(t, "http://api.test/contacts", links["collection"])
	assert.Equal(t, "http://api.test/"+id+"/$history", links["history"])
	assert.Equal(t, "http://api.test/"+id+"/deals", links["deals"])

	actions := body["actions"].(map[string]any)
	assert.Equal(t, "http://api.test/"+id+"/update", actions["update"])
	assert.Equal(t, "http://api.test/"+id+"/delete", actions["delete"])
}

func TestCreateValidation(t *testing.T) {
	tg := newTestGateway(t)

	t.Run("missing required field", func(t *testing.T) {
		rec := tg.do(http.MethodPost, "/contacts", `{"email":"x@example.com"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeBody(t, rec)
		errObj := body["error"].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", errObj["code"])

		fields := errObj["fields"].([]any)
		require.Len(t, fields, 1)
		assert.Equal(t, "name", fields[0].(map[string]any)["field"])
	})

	t.Run("enum violation", func(t *testing.T) {
		rec := tg.do(http.MethodPost, "/contacts", `{"name":"Ada","stage":"bogus"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	})

	t.Run("wrong type", func(t *testing.T) {
		rec := tg.do(http.MethodPost, "/contacts", `{"name":"Ada","score":"high"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := tg.do(http.MethodPost, "/contacts", `{"name":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_JSON", errorCode(t, rec))
	})
}

func TestCreateStripsClientMeta(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada","id":"custom","_version":99}`)
	assert.NotEqual(t, "custom", doc["id"], "client-supplied ids are ignored")
	assert.Equal(t, float64(1), doc["_version"], "client-supplied meta is ignored")
}

func TestUpdateReplaceAndMerge(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada","email":"ada@example.com"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodPut, "/"+id, `{"name":"Ada King"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	replaced := decodeBody(t, rec)["contact"].(map[string]any)
	assert.Equal(t, "Ada King", replaced["name"])
	assert.NotContains(t, replaced, "email", "replace drops absent fields")
	assert.Equal(t, float64(2), replaced["_version"])
	assert.Equal(t, doc["_createdAt"], replaced["_createdAt"], "creation stamps survive a replace")

	rec = tg.do(http.MethodPatch, "/"+id, `{"company":"Analytical Engines"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	merged := decodeBody(t, rec)["contact"].(map[string]any)
	assert.Equal(t, "Ada King", merged["name"], "merge keeps unmentioned fields")
	assert.Equal(t, "Analytical Engines", merged["company"])
	assert.Equal(t, float64(3), merged["_version"])
}

func TestSoftDelete(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodDelete, "/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decodeBody(t, rec)["contact"].(map[string]any)
	assert.NotEmpty(t, deleted["_deletedAt"])

	rec = tg.do(http.MethodGet, "/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = tg.do(http.MethodGet, "/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"], "soft-deleted documents leave listings")
}

func TestRevert(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodPatch, "/"+id, `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(http.MethodPost, "/"+id+"/revert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reverted := decodeBody(t, rec)["contact"].(map[string]any)
	assert.Equal(t, "Ada", reverted["name"], "revert restores the pre-mutation state")
	assert.Equal(t, float64(3), reverted["_version"], "revert is itself a new version")
}

func TestRevertResurrectsDeleted(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodDelete, "/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tg.do(http.MethodPost, "/"+id+"/revert", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reverted := decodeBody(t, rec)["contact"].(map[string]any)
	assert.NotContains(t, reverted, "_deletedAt")

	rec = tg.do(http.MethodGet, "/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code, "reverting a delete resurrects the document")
}

func TestRevertWithoutEarlierVersion(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodPost, "/"+id+"/revert", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, rec))
}

func TestGenericVerbMergesUpdate(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada","stage":"lead"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodPost, "/"+id+"/qualify", `{"stage":"qualified"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)["contact"].(map[string]any)
	assert.Equal(t, "qualified", updated["stage"])
	assert.Equal(t, "Ada", updated["name"])

	// The verb's own name lands on the change feed.
	rec = tg.do(http.MethodGet, "/events?type=contact.qualify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])
}

func TestUnknownEntityAction(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodGet, "/"+id+"/Schema9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "mixed-case segments never become mutating verbs")

	rec = tg.do(http.MethodPost, "/"+id+"/Schema9", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tg.do(http.MethodGet, "/"+id+"/schema", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "collection reads are not entity verbs")
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestEntityMembership(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodGet, "/deals/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestRelationListing(t *testing.T) {
	tg := newTestGateway(t)

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)

	rec := tg.do(http.MethodPost, "/deals", fmt.Sprintf(`{"name":"Engine contract","contactId":%q}`, id))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = tg.do(http.MethodPost, "/deals", `{"name":"Unrelated deal"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, path := range []string{"/" + id + "/deals", "/contacts/" + id + "/deals"} {
		rec = tg.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)

		body := decodeBody(t, rec)
		assert.Equal(t, float64(1), body["total"], path)
		deals := body["deals"].(map[string]any)
		assert.Len(t, deals, 1)
		assert.Contains(t, deals, "Engine contract")
	}
}

func TestCollectionPagination(t *testing.T) {
	tg := newTestGateway(t)

	for _, name := range []string{"Alan", "Barbara", "Edsger"} {
		createContact(t, tg, fmt.Sprintf(`{"name":%q}`, name))
	}

	rec := tg.do(http.MethodGet, "/contacts?limit=2&sort=name", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["limit"])
	assert.Equal(t, float64(1), body["page"])
	assert.Equal(t, true, body["hasMore"])
	assert.Len(t, body["contacts"], 2)

	links := body["links"].(map[string]any)
	next, _ := links["next"].(string)
	require.Contains(t, next, "offset=2")
	assert.NotContains(t, links, "prev")

	rec = tg.do(http.MethodGet, "/contacts?limit=2&sort=name&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2), body["offset"], "page is sugar over offset")
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, false, body["hasMore"])
	contacts := body["contacts"].(map[string]any)
	assert.Contains(t, contacts, "Edsger")

	rec = tg.do(http.MethodGet, "/contacts?limit=2&sort=name&offset=0&page=9", "")
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["offset"], "explicit offset wins over page")
}

func TestCollectionFilterAndSort(t *testing.T) {
	tg := newTestGateway(t)

	createContact(t, tg, `{"name":"Ada","stage":"customer","score":90}`)
	createContact(t, tg, `{"name":"Grace","stage":"lead","score":70}`)
	createContact(t, tg, `{"name":"Edsger","stage":"lead","score":80}`)

	rec := tg.do(http.MethodGet, "/contacts?stage=lead&sort=-score&array", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])

	items := body["contacts"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Edsger", items[0].(map[string]any)["name"])
	assert.Equal(t, "Grace", items[1].(map[string]any)["name"])
}

func TestCollectionSearch(t *testing.T) {
	tg := newTestGateway(t)

	createContact(t, tg, `{"name":"Ada Lovelace","company":"Analytical"}`)
	createContact(t, tg, `{"name":"Charles Babbage","company":"Analytical"}`)

	rec := tg.do(http.MethodGet, "/contacts/search?q=lovelace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = tg.do(http.MethodGet, "/contacts/find?q=analytical", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["total"], "find is an alias for search")

	rec = tg.do(http.MethodGet, "/contacts/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGlobalSearch(t *testing.T) {
	tg := newTestGateway(t)

	createContact(t, tg, `{"name":"Ada Lovelace"}`)
	rec := tg.do(http.MethodPost, "/deals", `{"name":"Lovelace retainer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = tg.do(http.MethodGet, "/search?q=lovelace", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	results := body["results"].(map[string]any)
	assert.Contains(t, results, "contacts")
	assert.Contains(t, results, "deals")
	assert.NotContains(t, results, "tasks", "empty collections stay out of the result map")
	assert.Equal(t, "lovelace", body["meta"].(map[string]any)["q"])
}

func TestExport(t *testing.T) {
	tg := newTestGateway(t)

	createContact(t, tg, `{"name":"Ada"}`)
	createContact(t, tg, `{"name":"Grace"}`)

	rec := tg.do(http.MethodGet, "/contacts/export", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	docs := body["contacts"].([]any)
	require.Len(t, docs, 2)
	first := docs[0].(map[string]any)
	assert.Contains(t, first, "_version", "export returns full documents")
	assert.Contains(t, first, "id")
}

func TestTenantIsolation(t *testing.T) {
	tg := newTestGateway(t)

	rec := tg.do(http.MethodPost, "/~acme/contacts", `{"name":"Acme Person"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = tg.do(http.MethodGet, "/~acme/contacts", "")
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = tg.do(http.MethodGet, "/contacts", "")
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"], "tenants see only their own documents")
}

func TestChangeFeedPublishes(t *testing.T) {
	capture := &capturePublisher{}
	tg := newTestGatewayWith(t, Options{Publisher: capture})

	doc := createContact(t, tg, `{"name":"Ada"}`)
	id := doc["id"].(string)
	rec := tg.do(http.MethodDelete, "/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, capture.events, 2)
	assert.Equal(t, "contact.create", capture.events[0].RoutingKey())
	assert.Equal(t, "contact.delete", capture.events[1].RoutingKey())
	assert.Equal(t, id, capture.events[1].ID)
	assert.Equal(t, "default", capture.events[1].Tenant)

	// The same mutations land on the events surface as cdc.
	rec = tg.do(http.MethodGet, "/events?category=cdc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["total"])
}

type capturePublisher struct {
	events []queue.ChangeEvent
}

func (p *capturePublisher) Publish(event queue.ChangeEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }
