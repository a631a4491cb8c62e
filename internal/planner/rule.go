package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// Rule is a deterministic planner for offline operation: it classifies
// the query vocabulary and emits one or two data-gathering steps. A
// diagnostic question ("X is wrong, what do I do?") gets both a sensor
// query and a manual lookup; a pure data or pure procedure question gets
// a single step.
type Rule struct{}

// NewRule creates the rule-based planner.
func NewRule() *Rule {
	return &Rule{}
}

// Plan derives steps from the query (or, on a replan, from the
// feedback) without calling any external capability.
func (r *Rule) Plan(_ context.Context, req Request) ([]plan.StepSpec, error) {
	subject := req.Query
	if req.Feedback != "" {
		subject = req.Feedback
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrAmbiguousRequest)
	}

	var specs []plan.StepSpec
	if plan.Classify(subject) == plan.ToolSensorQuery {
		specs = append(specs, plan.StepSpec{
			Description: "Retrieve sensor readings for: " + subject,
			Tool:        plan.ToolSensorQuery,
		})
		if looksDiagnostic(subject) {
			specs = append(specs, plan.StepSpec{
				Description: "Find troubleshooting procedures for: " + subject,
				Tool:        plan.ToolDocumentSearch,
			})
		}
	} else {
		specs = append(specs, plan.StepSpec{
			Description: "Search technical manuals for: " + subject,
			Tool:        plan.ToolDocumentSearch,
		})
	}
	return specs, nil
}

// Synthesize assembles a plain report from step results without an LLM.
func (r *Rule) Synthesize(_ context.Context, query, _ string, steps []plan.Step) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnostic summary for: %s\n\n", query)
	b.WriteString(FormatStepResults(steps))
	return b.String(), nil
}

// diagnosticMarkers signal a problem statement rather than a plain data
// question.
var diagnosticMarkers = []string{
	"high", "low", "help", "wrong", "problem", "issue", "fail",
	"error", "alarm", "leak", "overheat", "fault", "what should",
	"what do i do", "fix",
}

func looksDiagnostic(query string) bool {
	lower := strings.ToLower(query)
	for _, m := range diagnosticMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
