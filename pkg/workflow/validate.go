package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/actions/dispatch"
	"github.com/dukex/flowrun/pkg/expression"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidWorkflow matches every *ValidationError.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ValidationError lists the structural problems of a workflow graph.
type ValidationError struct {
	WorkflowID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	return validate
}

// Validate checks that the workflow can be executed: exactly one trigger node,
// unique node IDs, edges between existing nodes with labels their source understands,
// decodable node configurations and a parseable trigger.
func Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return &ValidationError{Problems: []string{"workflow is nil"}}
	}

	v := &problems{}

	if err := structValidator().Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				v.addf("field %s failed on the '%s' tag", fieldErr.Namespace(), fieldErr.Tag())
			}
		} else {
			v.addf("%v", err)
		}
	}

	validateTrigger(v, workflow.Trigger)

	nodes := make(map[string]*models.Node, len(workflow.Nodes))
	triggers := 0

	for _, node := range workflow.Nodes {
		if node == nil {
			v.addf("nil node")

			continue
		}

		if _, dup := nodes[node.ID]; dup {
			v.addf("duplicate node id %q", node.ID)
		}

		nodes[node.ID] = node

		if node.Kind == models.NodeKindTrigger {
			triggers++
		}

		validateNode(v, node)
	}

	if triggers != 1 {
		v.addf("expected exactly one trigger node, found %d", triggers)
	}

	for _, edge := range workflow.Edges {
		if edge == nil {
			v.addf("nil edge")

			continue
		}

		source, ok := nodes[edge.Source]
		if !ok {
			v.addf("edge %q references unknown source node %q", edge.ID, edge.Source)

			continue
		}

		if _, ok := nodes[edge.Target]; !ok {
			v.addf("edge %q references unknown target node %q", edge.ID, edge.Target)
		}

		if !labelAllowed(source.Kind, edge.Label) {
			v.addf("edge %q label %q is not valid on a %s node", edge.ID, edge.Label, source.Kind)
		}
	}

	if len(v.list) > 0 {
		return &ValidationError{WorkflowID: workflow.ID, Problems: v.list}
	}

	return nil
}

type problems struct {
	list []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func labelAllowed(kind models.NodeKind, label string) bool {
	switch kind {
	case models.NodeKindCondition:
		return label == models.EdgeLabelTrue || label == models.EdgeLabelFalse
	case models.NodeKindLoop:
		return label == models.EdgeLabelBody || label == models.EdgeLabelExit
	case models.NodeKindTrigger, models.NodeKindAction, models.NodeKindDelay:
		return label == ""
	default:
		return false
	}
}

func validateTrigger(v *problems, trigger models.TriggerSpec) {
	switch trigger.Kind {
	case models.TriggerKindSchedule:
		if _, err := models.NextFireAfter(trigger.Cron, time.Now()); err != nil {
			v.addf("invalid cron expression %q: %v", trigger.Cron, err)
		}
	case models.TriggerKindWebhook:
		if trigger.JSONSchema != nil {
			if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(trigger.JSONSchema)); err != nil {
				v.addf("invalid webhook json schema: %v", err)
			}
		}
	case models.TriggerKindManual, models.TriggerKindEvent:
	}
}

func validateNode(v *problems, node *models.Node) {
	switch node.Kind {
	case models.NodeKindAction:
		if _, err := dispatch.Decode(node.Config); err != nil {
			v.addf("node %q: %v", node.ID, err)
		}
	case models.NodeKindCondition:
		cfg, err := conditionConfigOf(node)
		if err != nil {
			v.addf("node %q: %v", node.ID, err)
		} else if cfg.Language != "" && cfg.Language != expression.LanguageExpr && cfg.Language != expression.LanguageCEL {
			v.addf("node %q: unsupported condition language %q", node.ID, cfg.Language)
		}
	case models.NodeKindLoop:
		if _, err := loopConfigOf(node); err != nil {
			v.addf("node %q: %v", node.ID, err)
		}
	case models.NodeKindDelay:
		if _, err := delayConfigOf(node, nil); err != nil {
			v.addf("node %q: %v", node.ID, err)
		}
	case models.NodeKindTrigger:
	}
}
