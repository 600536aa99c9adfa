package models

import (
	"encoding/json"
	"sync"
)

// NodesKey is the context key under which every visited node's result is namespaced.
const NodesKey = "nodes"

// Change records a single write to an ExecutionContext.
type Change struct {
	Version int64  `json:"version"`
	Key     string `json:"key"`
}

// ExecutionContext is the versioned key/value state accumulated while running
// one execution. It is passed by reference through the traversal; each write
// bumps the version and is appended to the change log.
type ExecutionContext struct {
	mu      sync.RWMutex
	values  map[string]any
	version int64
	changes []Change
}

// NewExecutionContext seeds a context with a deep copy of the given values.
func NewExecutionContext(seed map[string]any) *ExecutionContext {
	values, _ := DeepCopy(seed).(map[string]any)
	if values == nil {
		values = make(map[string]any)
	}

	return &ExecutionContext{values: values}
}

// Get returns the top-level value stored under key.
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.values[key]

	return v, ok
}

// Set stores value under a top-level key and returns the new version.
func (c *ExecutionContext) Set(key string, value any) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value

	return c.record(key)
}

// SetNodeResult stores a node's result under nodes.<nodeID>.
func (c *ExecutionContext) SetNodeResult(nodeID string, value any) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes, ok := c.values[NodesKey].(map[string]any)
	if !ok {
		nodes = make(map[string]any)
	} else {
		// copy-on-write so earlier snapshots keep their view
		copied := make(map[string]any, len(nodes)+1)
		for k, v := range nodes {
			copied[k] = v
		}

		nodes = copied
	}

	nodes[nodeID] = value
	c.values[NodesKey] = nodes

	return c.record(NodesKey + "." + nodeID)
}

// Merge writes every key of values at top level.
func (c *ExecutionContext) Merge(values map[string]any) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
		c.record(k)
	}

	return c.version
}

// Version returns the number of writes applied so far.
func (c *ExecutionContext) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.version
}

// Changes returns a copy of the change log.
func (c *ExecutionContext) Changes() []Change {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Change, len(c.changes))
	copy(out, c.changes)

	return out
}

// Snapshot returns a deep copy of the current values.
func (c *ExecutionContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out, _ := DeepCopy(c.values).(map[string]any)

	return out
}

// MarshalJSON encodes the current values.
func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

func (c *ExecutionContext) record(key string) int64 {
	c.version++
	c.changes = append(c.changes, Change{Version: c.version, Key: key})

	return c.version
}

// DeepCopy copies nested maps and slices; other values are returned as-is.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = DeepCopy(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = DeepCopy(item)
		}

		return out
	default:
		return v
	}
}
