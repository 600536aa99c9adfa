// Package datastore defines the record store targeted by data-operation actions.
package datastore

import (
	"context"
	"errors"
	"reflect"
)

// IDField is the record key holding the record identifier.
const IDField = "id"

var (
	// ErrRecordNotFound is returned when no record matches the identifier.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidCollection is returned for an empty collection name.
	ErrInvalidCollection = errors.New("invalid collection")
)

// Record is one stored document. It always carries an "id" key.
type Record map[string]any

// Store is a collection-oriented document store.
type Store interface {
	Create(ctx context.Context, collection string, data map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, data map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Find(ctx context.Context, collection string, filter map[string]any, limit int) ([]Record, error)
	Close(ctx context.Context) error
}

// Matches reports whether every key of filter is present in record with an equal value.
func Matches(record Record, filter map[string]any) bool {
	for key, expected := range filter {
		actual, ok := record[key]
		if !ok || !equal(actual, expected) {
			return false
		}
	}

	return true
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
