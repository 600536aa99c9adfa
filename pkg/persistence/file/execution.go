package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository stores one JSON file per execution.
type ExecutionRepository struct {
	root  string
	locks locks
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	return er.conditionalWrite("Save", execution)
}

func (er *ExecutionRepository) Finish(_ context.Context, execution *models.Execution) error {
	return er.conditionalWrite("Finish", execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.Execution, error) {
	filePath, err := recordPath(er.root, executionsDir, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", executionID, err)
	}

	return er.read(filePath, executionID)
}

func (er *ExecutionRepository) GetByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	root := os.DirFS(filepath.Join(er.root, executionsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0)

	for _, file := range jsonFiles {
		execution, err := er.read(filepath.Join(er.root, executionsDir, file), file)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// conditionalWrite refuses to overwrite a stored terminal record.
func (er *ExecutionRepository) conditionalWrite(op string, execution *models.Execution) error {
	filePath, err := recordPath(er.root, executionsDir, execution.ID)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	lock := er.locks.get(execution.ID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := er.read(filePath, execution.ID)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return err
	}

	if stored != nil && stored.Status.IsTerminal() {
		return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionTerminal)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	if err := writeFile(filePath, data); err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) read(filePath, executionID string) (*models.Execution, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	var execution models.Execution

	if err := json.Unmarshal(body, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}
