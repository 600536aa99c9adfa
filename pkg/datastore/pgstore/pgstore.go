// Package pgstore provides a PostgreSQL datastore.Store backed by a jsonb table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection VARCHAR(255) NOT NULL,
	id VARCHAR(255) NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_data ON records USING GIN (data);
`

// Store keeps records in the records table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to databaseURL and ensures the records table exists.
func New(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ping record store: %w", err)
	}

	store := NewWithPool(pool, logger)

	if err := store.Migrate(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return store, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("module", "pgstore"),
	}
}

// Migrate creates the records table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}

	return nil
}

// Create inserts data as a new record.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (datastore.Record, error) {
	if collection == "" {
		return nil, datastore.ErrInvalidCollection
	}

	record := make(datastore.Record, len(data)+1)
	for key, value := range data {
		record[key] = value
	}

	id, _ := record[datastore.IDField].(string)
	if id == "" {
		id = uuid.NewString()
		record[datastore.IDField] = id
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	var stored []byte

	err = s.pool.QueryRow(ctx,
		`INSERT INTO records (collection, id, data) VALUES ($1, $2, $3) RETURNING data`,
		collection, id, encoded,
	).Scan(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to create record in %q: %w", collection, err)
	}

	return decode(stored)
}

// Update merges data into the stored document.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any) (datastore.Record, error) {
	patch := make(map[string]any, len(data))
	for key, value := range data {
		if key != datastore.IDField {
			patch[key] = value
		}
	}

	encoded, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	var stored []byte

	err = s.pool.QueryRow(ctx,
		`UPDATE records SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2 RETURNING data`,
		collection, id, encoded,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datastore.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update record %q: %w", id, err)
	}

	return decode(stored)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %q: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return datastore.ErrRecordNotFound
	}

	return nil
}

// Find returns records containing every key/value of filter, oldest first.
func (s *Store) Find(ctx context.Context, collection string, filter map[string]any, limit int) ([]datastore.Record, error) {
	if filter == nil {
		filter = map[string]any{}
	}

	encoded, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}

	query := `SELECT data FROM records WHERE collection = $1 AND data @> $2::jsonb ORDER BY created_at, id`
	args := []any{collection, encoded}

	if limit > 0 {
		query += ` LIMIT $3`

		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", collection, err)
	}
	defer rows.Close()

	results := make([]datastore.Record, 0)

	for rows.Next() {
		var stored []byte
		if err := rows.Scan(&stored); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record, err := decode(stored)
		if err != nil {
			return nil, err
		}

		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return results, nil
}

// Close releases the pool.
func (s *Store) Close(_ context.Context) error {
	s.pool.Close()

	return nil
}

func decode(stored []byte) (datastore.Record, error) {
	var record datastore.Record
	if err := json.Unmarshal(stored, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return record, nil
}

var _ datastore.Store = (*Store)(nil)
