// Package models defines the core domain models for graph-based workflow automation
package models

import "time"

// TriggerKind identifies how executions of a workflow are started.
type TriggerKind string

const (
	TriggerKindManual   TriggerKind = "manual"   // API or operator initiated
	TriggerKindSchedule TriggerKind = "schedule" // Five-field cron expression
	TriggerKindWebhook  TriggerKind = "webhook"  // Inbound HTTP call on a slug
	TriggerKindEvent    TriggerKind = "event"    // Named application event
)

// TriggerSpec describes the trigger of a workflow together with its kind-specific configuration.
type TriggerSpec struct {
	Kind TriggerKind `json:"kind"                  validate:"required,oneof=manual schedule webhook event"`

	// Cron is required for schedule triggers.
	Cron string `json:"cron,omitempty"        validate:"required_if=Kind schedule"`

	// Slug is required for webhook triggers.
	Slug string `json:"slug,omitempty"        validate:"required_if=Kind webhook"`

	// JSONSchema optionally constrains webhook payloads.
	JSONSchema map[string]any `json:"json_schema,omitempty"`

	// Event is required for event triggers.
	Event string `json:"event,omitempty"       validate:"required_if=Kind event"`
}

// Workflow is a stored directed graph of automation steps.
type Workflow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"                  validate:"required,min=3"`
	Description string      `json:"description"`
	Owner       string      `json:"owner"`
	Trigger     TriggerSpec `json:"trigger"`
	Nodes       []*Node     `json:"nodes"                 validate:"required,min=1,dive"`
	Edges       []*Edge     `json:"edges"                 validate:"dive"`
	Active      bool        `json:"active"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NodeByID returns the node with the given identifier.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// TriggerNode returns the first node of kind trigger.
func (w *Workflow) TriggerNode() (*Node, bool) {
	for _, node := range w.Nodes {
		if node.Kind == NodeKindTrigger {
			return node, true
		}
	}

	return nil, false
}

// OutgoingEdges returns the edges leaving the given node in declaration order.
func (w *Workflow) OutgoingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IsScheduled reports whether the workflow is started by the reconciliation pass.
func (w *Workflow) IsScheduled() bool {
	return w.Trigger.Kind == TriggerKindSchedule
}
