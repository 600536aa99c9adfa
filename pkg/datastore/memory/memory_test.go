package memory_test

import (
	"context"
	"testing"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/datastore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	created, err := store.Create(ctx, "users", map[string]any{"name": "Ada", "age": 36})
	require.NoError(t, err)

	id, _ := created[datastore.IDField].(string)
	require.NotEmpty(t, id)

	_, err = store.Create(ctx, "users", map[string]any{"id": "u2", "name": "Grace", "age": 45})
	require.NoError(t, err)

	found, err := store.Find(ctx, "users", map[string]any{"age": float64(36)}, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ada", found[0]["name"])

	updated, err := store.Update(ctx, "users", id, map[string]any{"age": 37, "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, 37, updated["age"])
	assert.Equal(t, id, updated["id"])

	all, err := store.Find(ctx, "users", nil, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, "users", id))
	assert.ErrorIs(t, store.Delete(ctx, "users", id), datastore.ErrRecordNotFound)

	_, err = store.Update(ctx, "users", id, map[string]any{})
	assert.ErrorIs(t, err, datastore.ErrRecordNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	created, err := store.Create(ctx, "items", map[string]any{"id": "a", "tags": []any{"x"}})
	require.NoError(t, err)

	created["tags"] = []any{"mutated"}

	found, err := store.Find(ctx, "items", map[string]any{"id": "a"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, found[0]["tags"])
}

func TestStore_EmptyCollection(t *testing.T) {
	_, err := memory.New().Create(context.Background(), "", map[string]any{})
	assert.ErrorIs(t, err, datastore.ErrInvalidCollection)
}
