package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/workflow"
)

// importWorkflows creates or replaces the workflows defined under path.
func importWorkflows(ctx context.Context, logger *slog.Logger, repository *workflow.Repository, path string) (int, error) {
	workflows, err := config.LoadWorkflows(path)
	if err != nil {
		return 0, err
	}

	for _, wf := range workflows {
		_, err := repository.FetchByID(ctx, wf.ID)

		switch {
		case err == nil:
			_, err = repository.Update(ctx, wf.ID, wf)
		case persistence.IsWorkflowNotFound(err) || wf.ID == "":
			_, err = repository.Create(ctx, wf)
		}

		if err != nil {
			return 0, fmt.Errorf("failed to import workflow %q: %w", wf.Name, err)
		}

		logger.InfoContext(ctx, "Imported workflow", "workflow_id", wf.ID, "name", wf.Name)
	}

	return len(workflows), nil
}
