// Package file provides file-based persistence implementation for workflows and executions.
package file

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/dukex/flowrun/pkg/persistence"
)

const (
	dirPerm  = 0750
	filePerm = 0600
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// recordPath builds <root>/<dir>/<id>.json, rejecting identifiers that could escape the directory.
func recordPath(root, dir, id string) (string, error) {
	if !validID.MatchString(id) {
		return "", persistence.ErrInvalidID
	}

	return filepath.Join(root, dir, id+".json"), nil
}

// writeFile writes atomically through a temp file in the same directory.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// lockStripes bounds the number of mutexes regardless of how many records exist.
const lockStripes = 64

// locks serialises read-modify-write sequences per record. Records hash onto a
// fixed set of stripes; no caller holds two record locks at once.
type locks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *locks) get(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return &l.stripes[h.Sum32()%lockStripes]
}
