package pgstore_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/datastore/pgstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) *pgstore.Store {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("records"),
		postgres.WithUsername("flowrun"),
		postgres.WithPassword("flowrun"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := pgstore.New(ctx, slog.Default(), connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	return store
}

func TestStore_Lifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "orders", map[string]any{"id": "o1", "total": 10, "status": "new"})
	require.NoError(t, err)
	assert.Equal(t, "o1", created["id"])
	assert.InDelta(t, 10, created["total"], 0)

	_, err = store.Create(ctx, "orders", map[string]any{"total": 20, "status": "paid"})
	require.NoError(t, err)

	found, err := store.Find(ctx, "orders", map[string]any{"status": "new"}, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "o1", found[0]["id"])

	updated, err := store.Update(ctx, "orders", "o1", map[string]any{"status": "paid"})
	require.NoError(t, err)
	assert.Equal(t, "paid", updated["status"])
	assert.InDelta(t, 10, updated["total"], 0)

	paid, err := store.Find(ctx, "orders", map[string]any{"status": "paid"}, 1)
	require.NoError(t, err)
	assert.Len(t, paid, 1)

	require.NoError(t, store.Delete(ctx, "orders", "o1"))
	assert.ErrorIs(t, store.Delete(ctx, "orders", "o1"), datastore.ErrRecordNotFound)

	_, err = store.Update(ctx, "orders", "o1", map[string]any{"x": 1})
	assert.ErrorIs(t, err, datastore.ErrRecordNotFound)
}
