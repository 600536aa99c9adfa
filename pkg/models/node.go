package models

// NodeKind is the control-flow role of a node.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"   // Unique entry point of the graph
	NodeKindAction    NodeKind = "action"    // Delegates to the action dispatch layer
	NodeKindCondition NodeKind = "condition" // Routes through true/false edges
	NodeKindLoop      NodeKind = "loop"      // Runs the body edges once per item
	NodeKindDelay     NodeKind = "delay"     // Suspends the execution
)

// Edge labels understood by control-flow nodes.
const (
	EdgeLabelTrue  = "true"
	EdgeLabelFalse = "false"
	EdgeLabelBody  = "body"
	EdgeLabelExit  = "exit"
)

// Node is a single step in a workflow graph. Config is opaque to the engine and
// decoded only by the handler matching Kind.
type Node struct {
	ID     string         `json:"id"               validate:"required"`
	Name   string         `json:"name,omitempty"`
	Kind   NodeKind       `json:"kind"             validate:"required,oneof=trigger action condition loop delay"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. An empty Label means unconditional.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"          validate:"required"`
	Target string `json:"target"          validate:"required"`
	Label  string `json:"label,omitempty" validate:"omitempty,oneof=true false body exit"`
}
