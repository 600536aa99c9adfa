// Package dataop provides the data action: create, update, delete and find on the record store.
package dataop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

// Operation names.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
	OperationFind   = "find"
)

const defaultTimeoutSeconds = 10

var (
	// ErrMissingID is returned when update or delete resolve to an empty id.
	ErrMissingID = errors.New("record id is required")
	// ErrUnknownOperation is returned for unsupported operations.
	ErrUnknownOperation = errors.New("unknown data operation")
)

// Config is the configuration of a data action node.
type Config struct {
	Operation  string         `json:"operation"`
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Timeout    int            `json:"timeout,omitempty"`
}

// ActionType implements actions.Config.
func (Config) ActionType() actions.Type {
	return actions.TypeDataOperation
}

// Schema returns the JSON schema of the node configuration.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":       map[string]any{"const": string(actions.TypeDataOperation)},
			"operation":  map[string]any{"type": "string", "enum": []string{OperationCreate, OperationUpdate, OperationDelete, OperationFind}},
			"collection": map[string]any{"type": "string", "minLength": 1},
			"id":         map[string]any{"type": "string", "description": "Record id for update and delete. Supports {{placeholders}}."},
			"data":       map[string]any{"type": "object"},
			"filter":     map[string]any{"type": "object"},
			"limit":      map[string]any{"type": "integer", "minimum": 0},
			"timeout":    map[string]any{"type": "integer", "minimum": 1, "maximum": 300, "description": "Timeout in seconds"},
		},
		"required": []string{"operation", "collection"},
	}
}

// Handler runs data operations against a datastore.Store.
type Handler struct {
	store  datastore.Store
	logger *slog.Logger
}

// NewHandler creates a handler bound to store.
func NewHandler(store datastore.Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.With("module", "data_action"),
	}
}

// Execute resolves the parameters and performs the operation. The result is
// {operation, collection, record} or {operation, collection, records, count}.
func (h *Handler) Execute(ctx context.Context, cfg Config, execCtx *models.ExecutionContext) (map[string]any, error) {
	data := execCtx.Snapshot()

	collection := template.ResolveString(cfg.Collection, data)
	id := template.ResolveString(cfg.ID, data)
	values, _ := template.Resolve(cfg.Data, data).(map[string]any)
	filter, _ := template.Resolve(cfg.Filter, data).(map[string]any)

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.DebugContext(ctx, "running data operation", "operation", cfg.Operation, "collection", collection)

	result := map[string]any{
		"operation":  cfg.Operation,
		"collection": collection,
	}

	switch cfg.Operation {
	case OperationCreate:
		record, err := h.store.Create(ctx, collection, values)
		if err != nil {
			return nil, err
		}

		result["record"] = map[string]any(record)
	case OperationUpdate:
		if id == "" {
			return nil, ErrMissingID
		}

		record, err := h.store.Update(ctx, collection, id, values)
		if err != nil {
			return nil, err
		}

		result["record"] = map[string]any(record)
	case OperationDelete:
		if id == "" {
			return nil, ErrMissingID
		}

		if err := h.store.Delete(ctx, collection, id); err != nil {
			return nil, err
		}

		result["id"] = id
	case OperationFind:
		records, err := h.store.Find(ctx, collection, filter, cfg.Limit)
		if err != nil {
			return nil, err
		}

		items := make([]any, len(records))
		for i, record := range records {
			items[i] = map[string]any(record)
		}

		result["records"] = items
		result["count"] = len(items)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, cfg.Operation)
	}

	return result, nil
}
