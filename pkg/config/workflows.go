// Package config loads workflow definitions from YAML or JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/flowrun/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrNoWorkflows = errors.New("no workflow definitions found")

var extensions = []string{".yaml", ".yml", ".json"}

// definitionFile holds either a single workflow or a "workflows" list.
type definitionFile struct {
	Workflows []any `yaml:"workflows"`
}

// LoadWorkflows reads every definition under path, a file or a directory.
// Directory entries are read in name order; other extensions are ignored.
// Edge labels such as true and false must be quoted in YAML.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definitions %s: %w", path, err)
	}

	files := []string{path}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflow definitions %s: %w", path, err)
		}

		files = files[:0]

		for _, entry := range entries {
			if !entry.IsDir() && slices.Contains(extensions, strings.ToLower(filepath.Ext(entry.Name()))) {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	}

	workflows := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		loaded, err := loadFile(file)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, loaded...)
	}

	if len(workflows) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoWorkflows, path)
	}

	return workflows, nil
}

func loadFile(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// YAML is a superset of JSON, so one decoder serves both formats
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	documents := file.Workflows
	if documents == nil {
		var single any
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if single != nil {
			documents = []any{single}
		}
	}

	workflows := make([]*models.Workflow, 0, len(documents))

	for i, document := range documents {
		wf, err := decode(document)
		if err != nil {
			return nil, fmt.Errorf("%s: workflow %d: %w", path, i, err)
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

// decode maps a generic document onto the model through its JSON field names.
func decode(document any) (*models.Workflow, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}

	var wf models.Workflow
	if err := json.Unmarshal(encoded, &wf); err != nil {
		return nil, err
	}

	return &wf, nil
}
