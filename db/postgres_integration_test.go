//go:build integration

package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// setupPostgresContainer starts a PostgreSQL container for testing
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return dsn, cleanup
}

func TestPGStore_Integration_CRUD(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := NewPGStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	doc := contactDoc("contact_1", "Ada Lovelace", 90, "customer")
	require.NoError(t, store.Create(ctx, "default", "contact", doc))

	err = store.Create(ctx, "default", "contact", doc)
	assert.ErrorIs(t, err, ErrExists)

	got, err := store.Get(ctx, "default", "contact", "contact_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got["name"])
	assert.Equal(t, float64(90), got["score"])

	doc["stage"] = "churned"
	require.NoError(t, store.Update(ctx, "default", "contact", "contact_1", doc))
	got, err = store.Get(ctx, "default", "contact", "contact_1")
	require.NoError(t, err)
	assert.Equal(t, "churned", got["stage"])

	err = store.Update(ctx, "default", "contact", "contact_missing", doc)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "default", "contact", "contact_1"))
	_, err = store.Get(ctx, "default", "contact", "contact_1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, "default", "contact", "contact_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore_Integration_ListAndSearch(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := NewPGStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "default", "contact", contactDoc("contact_1", "Ada", 90, "customer")))
	require.NoError(t, store.Create(ctx, "default", "contact", contactDoc("contact_2", "Grace", 70, "lead")))
	require.NoError(t, store.Create(ctx, "default", "contact", contactDoc("contact_3", "Edsger", 50, "lead")))
	require.NoError(t, store.Create(ctx, "acme", "contact", contactDoc("contact_1", "Acme Ada", 10, "lead")))

	page, err := store.List(ctx, "default", "contact", ListOptions{
		Filter: query.Filter{"stage": "lead"},
		Sort:   query.ParseSort("-score"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "Grace", page.Data[0]["name"])

	count, err := store.Count(ctx, "default", "contact", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "tenants do not leak into each other")

	search, err := store.Search(ctx, "default", "contact", "ada", []string{"name"}, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, search.Total)
}

func TestPGStore_Integration_History(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := NewPGStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	v1 := contactDoc("contact_1", "Ada", 90, "lead")
	v1[schema.MetaVersion] = float64(1)
	require.NoError(t, store.Snapshot(ctx, "default", "contact", "contact_1", v1))

	v2 := contactDoc("contact_1", "Ada", 95, "customer")
	v2[schema.MetaVersion] = float64(2)
	require.NoError(t, store.Snapshot(ctx, "default", "contact", "contact_1", v2))

	history, err := store.History(ctx, "default", "contact", "contact_1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, float64(1), history[0][schema.MetaVersion])
	assert.Equal(t, float64(2), history[1][schema.MetaVersion])
}
