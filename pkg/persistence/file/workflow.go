package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root  string
	locks locks
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// GetAll returns every stored workflow ordered by creation time.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(filepath.Join(wr.root, workflowsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflow, err := wr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath, err := recordPath(wr.root, workflowsDir, workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// GetBySlug returns the active or inactive workflow whose webhook trigger uses slug.
func (wr *WorkflowRepository) GetBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	workflows, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, workflow := range workflows {
		if workflow.Trigger.Kind == models.TriggerKindWebhook && workflow.Trigger.Slug == slug {
			return workflow, nil
		}
	}

	return nil, persistence.NewWorkflowError("GetBySlug", slug, persistence.ErrWorkflowNotFound)
}

func (wr *WorkflowRepository) GetScheduled(ctx context.Context) ([]*models.Workflow, error) {
	return wr.filter(ctx, func(w *models.Workflow) bool {
		return w.Active && w.IsScheduled()
	})
}

func (wr *WorkflowRepository) GetByEvent(ctx context.Context, event string) ([]*models.Workflow, error) {
	return wr.filter(ctx, func(w *models.Workflow) bool {
		return w.Active && w.Trigger.Kind == models.TriggerKindEvent && w.Trigger.Event == event
	})
}

func (wr *WorkflowRepository) filter(ctx context.Context, keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	workflows, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if keep(workflow) {
			out = append(out, workflow)
		}
	}

	return out, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	filePath, err := recordPath(wr.root, workflowsDir, workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	lock := wr.locks.get(workflow.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return wr.write(filePath, workflow)
}

// Delete removes a workflow from the file system.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	filePath, err := recordPath(wr.root, workflowsDir, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	return nil
}

func (wr *WorkflowRepository) MarkRun(ctx context.Context, workflowID string, at time.Time) error {
	filePath, err := recordPath(wr.root, workflowsDir, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("MarkRun", workflowID, err)
	}

	lock := wr.locks.get(workflowID)
	lock.Lock()
	defer lock.Unlock()

	workflow, err := wr.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	ranAt := at.UTC()
	workflow.LastRunAt = &ranAt

	return wr.write(filePath, workflow)
}

func (wr *WorkflowRepository) write(filePath string, workflow *models.Workflow) error {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	if err := writeFile(filePath, data); err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", workflow.ID, err)
	}

	return nil
}
