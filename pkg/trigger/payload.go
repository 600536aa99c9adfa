package trigger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidPayload = errors.New("payload does not match the trigger schema")

// PayloadError lists the schema violations of a webhook payload.
type PayloadError struct {
	Problems []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPayload, strings.Join(e.Problems, "; "))
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// ValidatePayload checks payload against schema. A nil schema accepts anything.
func ValidatePayload(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("failed to validate payload: %w", err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return &PayloadError{Problems: problems}
}
