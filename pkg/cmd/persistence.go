// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/persistence/postgresql"
)

// NewPersistence selects the engine store from the URL scheme: postgres:// or
// postgresql:// for PostgreSQL, anything else is a file:// root directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch scheme(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	case "file", "":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence url scheme %q", scheme(databaseURL))
	}
}

func scheme(url string) string {
	before, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}

	return before
}
