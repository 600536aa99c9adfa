package callbacks_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowrun/pkg/callbacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Invoke(t *testing.T) {
	registry := callbacks.NewRegistry()

	require.NoError(t, registry.RegisterCallback("approve", func(_ context.Context, payload map[string]any) (any, error) {
		return map[string]any{"approved": payload["order"]}, nil
	}))

	result, err := registry.Invoke(context.Background(), "approve", map[string]any{"order": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"approved": "o-1"}, result)

	registry.Unregister("approve")

	_, err = registry.Invoke(context.Background(), "approve", nil)
	assert.ErrorIs(t, err, callbacks.ErrCallbackNotFound)
}

func TestRegistry_RejectsEmptyID(t *testing.T) {
	err := callbacks.NewRegistry().RegisterCallback("", func(context.Context, map[string]any) (any, error) { return nil, nil })

	assert.ErrorIs(t, err, callbacks.ErrInvalidWebhookID)
}

func TestHTTPCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": payload["id"]})
	}))
	defer server.Close()

	callback := callbacks.HTTPCallback(server.Client(), server.URL)

	result, err := callback(context.Background(), map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "42"}, result)
}

func TestParseBinding(t *testing.T) {
	id, url, err := callbacks.ParseBinding("approve=https://hooks.example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "approve", id)
	assert.Equal(t, "https://hooks.example.com/a", url)

	_, _, err = callbacks.ParseBinding("nourl")
	assert.ErrorIs(t, err, callbacks.ErrInvalidWebhookID)
}
