package datastore_test

import (
	"testing"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	t.Parallel()

	record := datastore.Record{"id": "1", "age": 36, "tags": []any{"a"}}

	tests := []struct {
		name     string
		filter   map[string]any
		expected bool
	}{
		{name: "empty filter", filter: nil, expected: true},
		{name: "numeric types compare by value", filter: map[string]any{"age": float64(36)}, expected: true},
		{name: "different value", filter: map[string]any{"age": 37}, expected: false},
		{name: "missing key", filter: map[string]any{"name": "x"}, expected: false},
		{name: "structured value", filter: map[string]any{"tags": []any{"a"}}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, datastore.Matches(record, tt.filter))
		})
	}
}
