// Package actions defines the typed action configurations executed by action nodes.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Type is the tag selecting an action kind in a node configuration.
type Type string

const (
	TypeHTTP          Type = "http"
	TypeDataOperation Type = "data"
	TypeNotification  Type = "notification"
	TypeScript        Type = "script"
	TypeWebhookRelay  Type = "webhook_relay"
)

// TypeKey is the node configuration key holding the action type.
const TypeKey = "type"

// NetworkBound reports whether actions of this type mostly wait on a remote system.
func (t Type) NetworkBound() bool {
	switch t {
	case TypeHTTP, TypeDataOperation, TypeWebhookRelay:
		return true
	case TypeNotification, TypeScript:
		return false
	default:
		return false
	}
}

var (
	// ErrUnknownActionType is returned when a node names an action type no handler serves.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrInvalidConfig is returned when a node configuration does not match its action schema.
	ErrInvalidConfig = errors.New("invalid action configuration")
)

// Config is implemented by every typed action configuration.
type Config interface {
	ActionType() Type
}

// ActionError is the failure of one action node. It terminates the execution.
type ActionError struct {
	NodeID string
	Type   Type
	Err    error
}

func (e *ActionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s action failed: %v", e.Type, e.Err)
	}

	return fmt.Sprintf("%s action %q failed: %v", e.Type, e.NodeID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// TypeOf reads the action type tag from a raw node configuration.
func TypeOf(raw map[string]any) (Type, error) {
	tag, _ := raw[TypeKey].(string)
	if tag == "" {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidConfig, TypeKey)
	}

	return Type(tag), nil
}

// Decode validates raw against a JSON schema and unmarshals it into dst.
func Decode(raw map[string]any, schema map[string]any, dst any) error {
	if schema != nil {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}

		if !result.Valid() {
			messages := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				messages = append(messages, desc.String())
			}

			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
		}
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := json.Unmarshal(encoded, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

type executionKey struct{}

// ExecutionRef identifies the execution an action runs for.
type ExecutionRef struct {
	WorkflowID  string
	ExecutionID string
	NodeID      string
}

// WithExecution attaches ref to ctx.
func WithExecution(ctx context.Context, ref ExecutionRef) context.Context {
	return context.WithValue(ctx, executionKey{}, ref)
}

// ExecutionFrom returns the ExecutionRef attached to ctx.
func ExecutionFrom(ctx context.Context) (ExecutionRef, bool) {
	ref, ok := ctx.Value(executionKey{}).(ExecutionRef)

	return ref, ok
}
