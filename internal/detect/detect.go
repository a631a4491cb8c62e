// Package detect prevents re-execution of equivalent diagnostic work.
//
// A step is a duplicate when its normalized description plus tool kind
// matches any step the session has already executed or started, across
// every iteration and plan replacement, not only the current plan. The
// package also owns the hard iteration cap that bounds the workflow.
package detect

import (
	"strings"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// DefaultIterationCap bounds the execute/decide loop when no explicit
// cap is configured.
const DefaultIterationCap = 3

type historyKey struct {
	tool       plan.ToolKind
	normalized string
}

// Detector tracks executed work for one session. Not safe for concurrent
// use; the owning orchestrator runs sequentially.
type Detector struct {
	iterationCap int
	seen         map[historyKey]struct{}
}

// New creates a detector with the given iteration cap. A non-positive
// cap falls back to DefaultIterationCap.
func New(iterationCap int) *Detector {
	if iterationCap <= 0 {
		iterationCap = DefaultIterationCap
	}
	return &Detector{
		iterationCap: iterationCap,
		seen:         make(map[historyKey]struct{}),
	}
}

// Observe records a step that has started or finished executing. Only
// executing and completed steps count as prior work; failed and skipped
// steps may legitimately be retried by a later plan.
func (d *Detector) Observe(step plan.Step) {
	switch step.Status {
	case plan.StatusExecuting, plan.StatusCompleted:
		d.seen[keyFor(step)] = struct{}{}
	}
}

// IsDuplicate reports whether the candidate step matches prior work.
func (d *Detector) IsDuplicate(step plan.Step) bool {
	_, ok := d.seen[keyFor(step)]
	return ok
}

// CapReached reports whether the given 1-based iteration count has hit
// the hard cap.
func (d *Detector) CapReached(iteration int) bool {
	return iteration >= d.iterationCap
}

// IterationCap returns the configured cap.
func (d *Detector) IterationCap() int {
	return d.iterationCap
}

func keyFor(step plan.Step) historyKey {
	return historyKey{tool: step.Tool, normalized: Normalize(step.Description)}
}

// toolPrefixes are planner-emitted tool tags that carry no semantic
// content for comparison.
var toolPrefixes = []string{"scada:", "manual:", "sensor:", "sensor_query:", "document_search:"}

// Normalize canonicalizes a step description for comparison: lower-case,
// tool prefix stripped, whitespace collapsed, trailing punctuation
// removed.
func Normalize(description string) string {
	s := strings.ToLower(strings.TrimSpace(description))
	for _, prefix := range toolPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!?,;:")
	return s
}
