package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

// DefaultLoopVariable is the context key bound to the current item when a loop sets no "as".
const DefaultLoopVariable = "item"

// LoopKey holds {index, item} for the current loop iteration.
const LoopKey = "loop"

var (
	ErrMissingExpression = errors.New("condition requires an expression")
	ErrMissingItems      = errors.New("loop requires items")
	ErrItemsNotSequence  = errors.New("loop items did not resolve to a sequence")
	ErrInvalidDelay      = errors.New("delay requires a duration or seconds")
)

type conditionConfig struct {
	Expression string
	Language   string
}

func conditionConfigOf(node *models.Node) (conditionConfig, error) {
	expr, _ := node.Config["expression"].(string)
	if expr == "" {
		return conditionConfig{}, ErrMissingExpression
	}

	language, _ := node.Config["language"].(string)

	return conditionConfig{Expression: expr, Language: language}, nil
}

type loopConfig struct {
	Items any
	As    string
}

func loopConfigOf(node *models.Node) (loopConfig, error) {
	items, ok := node.Config["items"]
	if !ok || items == nil {
		return loopConfig{}, ErrMissingItems
	}

	as, _ := node.Config["as"].(string)
	if as == "" {
		as = DefaultLoopVariable
	}

	return loopConfig{Items: items, As: as}, nil
}

// resolveItems resolves the loop's items against data; the result must be a slice.
func (c loopConfig) resolveItems(data map[string]any) ([]any, error) {
	switch items := template.Resolve(c.Items, data).(type) {
	case []any:
		return items, nil
	case []string:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrItemsNotSequence, items)
	}
}

// delayConfigOf reads "duration" (a Go duration string) or "seconds". When data
// is nil, placeholder durations are accepted without being parsed.
func delayConfigOf(node *models.Node, data map[string]any) (time.Duration, error) {
	if raw, ok := node.Config["duration"].(string); ok && raw != "" {
		if data == nil && template.HasPlaceholders(raw) {
			return 0, nil
		}

		d, err := time.ParseDuration(template.ResolveString(raw, data))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}

		if d < 0 {
			return 0, fmt.Errorf("%w: negative duration", ErrInvalidDelay)
		}

		return d, nil
	}

	switch seconds := node.Config["seconds"].(type) {
	case float64:
		if seconds >= 0 {
			return time.Duration(seconds * float64(time.Second)), nil
		}
	case int:
		if seconds >= 0 {
			return time.Duration(seconds) * time.Second, nil
		}
	}

	return 0, ErrInvalidDelay
}
