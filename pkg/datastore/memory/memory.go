// Package memory provides an in-process datastore.Store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/google/uuid"
)

// Store keeps records in memory, keyed by collection and id.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]datastore.Record
	order       map[string][]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]datastore.Record),
		order:       make(map[string][]string),
	}
}

// Create stores data as a new record, generating an id when none is given.
func (s *Store) Create(_ context.Context, collection string, data map[string]any) (datastore.Record, error) {
	if collection == "" {
		return nil, datastore.ErrInvalidCollection
	}

	record := copyRecord(data)

	id, _ := record[datastore.IDField].(string)
	if id == "" {
		id = uuid.NewString()
		record[datastore.IDField] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]datastore.Record)
		s.collections[collection] = records
	}

	if _, exists := records[id]; exists {
		return nil, fmt.Errorf("record %q already exists in %q", id, collection)
	}

	records[id] = record
	s.order[collection] = append(s.order[collection], id)

	return copyRecord(record), nil
}

// Update merges data into an existing record.
func (s *Store) Update(_ context.Context, collection, id string, data map[string]any) (datastore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.collections[collection][id]
	if !ok {
		return nil, datastore.ErrRecordNotFound
	}

	for key, value := range data {
		if key == datastore.IDField {
			continue
		}

		record[key] = models.DeepCopy(value)
	}

	return copyRecord(record), nil
}

// Delete removes a record.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return datastore.ErrRecordNotFound
	}

	delete(s.collections[collection], id)
	s.order[collection] = slices.DeleteFunc(s.order[collection], func(candidate string) bool {
		return candidate == id
	})

	return nil
}

// Find returns records matching filter in insertion order. A limit of zero means no limit.
func (s *Store) Find(_ context.Context, collection string, filter map[string]any, limit int) ([]datastore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]datastore.Record, 0)

	for _, id := range s.order[collection] {
		record := s.collections[collection][id]
		if !datastore.Matches(record, filter) {
			continue
		}

		results = append(results, copyRecord(record))

		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Close is a no-op.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func copyRecord(data map[string]any) datastore.Record {
	record := make(datastore.Record, len(data)+1)
	maps.Copy(record, data)

	for key, value := range record {
		record[key] = models.DeepCopy(value)
	}

	return record
}

var _ datastore.Store = (*Store)(nil)
