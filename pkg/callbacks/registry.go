// Package callbacks keeps the handlers that webhook relay actions invoke by webhook id.
package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

var (
	// ErrCallbackNotFound is returned when no callback is registered for a webhook id.
	ErrCallbackNotFound = errors.New("callback not found")
	// ErrInvalidWebhookID is returned for an empty webhook id.
	ErrInvalidWebhookID = errors.New("invalid webhook id")
)

// Callback receives the execution context of the relaying workflow.
type Callback func(ctx context.Context, payload map[string]any) (any, error)

// Registry maps webhook ids to callbacks. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[string]Callback)}
}

// RegisterCallback binds handler to webhookID, replacing any previous binding.
func (r *Registry) RegisterCallback(webhookID string, handler Callback) error {
	if webhookID == "" || handler == nil {
		return ErrInvalidWebhookID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.callbacks[webhookID] = handler

	return nil
}

// Unregister removes the callback bound to webhookID.
func (r *Registry) Unregister(webhookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.callbacks, webhookID)
}

// Invoke calls the callback bound to webhookID.
func (r *Registry) Invoke(ctx context.Context, webhookID string, payload map[string]any) (any, error) {
	r.mu.RLock()
	handler, ok := r.callbacks[webhookID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, webhookID)
	}

	return handler(ctx, payload)
}

// HTTPCallback posts the payload as JSON to url and returns the decoded response.
func HTTPCallback(client *http.Client, url string) Callback {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, payload map[string]any) (any, error) {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode callback payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to create callback request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("callback request failed: %w", err)
		}

		defer func() {
			_ = resp.Body.Close()
		}()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read callback response: %w", err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("callback returned status %d", resp.StatusCode)
		}

		var decoded any
		if len(raw) == 0 || json.Unmarshal(raw, &decoded) != nil {
			return map[string]any{"status": resp.StatusCode, "body": string(raw)}, nil
		}

		return decoded, nil
	}
}

// ParseBinding splits an "id=url" flag value.
func ParseBinding(value string) (string, string, error) {
	id, url, found := strings.Cut(value, "=")
	if !found || id == "" || url == "" {
		return "", "", fmt.Errorf("%w: expected id=url, got %q", ErrInvalidWebhookID, value)
	}

	return id, url, nil
}
