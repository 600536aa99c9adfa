package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/datastore"
	"github.com/dukex/flowrun/pkg/datastore/memory"
	"github.com/dukex/flowrun/pkg/datastore/pgstore"
)

// NewDatastore builds the record store used by data-operation actions. An empty
// URL keeps records in memory.
func NewDatastore(ctx context.Context, logger *slog.Logger, recordsURL string) (datastore.Store, error) {
	if recordsURL == "" || recordsURL == "memory" {
		return memory.New(), nil
	}

	return pgstore.New(ctx, logger, recordsURL)
}
