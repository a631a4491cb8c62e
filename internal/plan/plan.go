package plan

import (
	"fmt"
	"strings"
	"time"
)

// Plan is an ordered sequence of steps for one query or one replan.
type Plan struct {
	Steps []Step `json:"steps"`
}

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// New creates a plan from the given specs, numbering steps from 1.
// An empty or invalid spec list is an error, not an empty plan.
func New(specs []StepSpec) (*Plan, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyPlan
	}
	p := &Plan{Steps: make([]Step, 0, len(specs))}
	if err := p.appendSpecs(specs); err != nil {
		return nil, err
	}
	return p, nil
}

// AppendSteps adds new steps to the tail of the plan, continuing the id
// sequence from the current maximum.
func (p *Plan) AppendSteps(specs []StepSpec) error {
	return p.appendSpecs(specs)
}

func (p *Plan) appendSpecs(specs []StepSpec) error {
	next := p.maxID() + 1
	now := timeNow()
	for i, spec := range specs {
		desc := strings.TrimSpace(spec.Description)
		if desc == "" {
			return fmt.Errorf("spec %d: %w", i, ErrEmptyDescription)
		}
		tool := spec.Tool
		if tool == "" {
			tool = Classify(desc)
		}
		p.Steps = append(p.Steps, Step{
			ID:          next,
			Description: desc,
			Tool:        tool,
			Status:      StatusPending,
			CreatedAt:   now,
		})
		next++
	}
	return nil
}

// ReplacePending discards the pending tail of the plan, appends the
// replacement specs, and renumbers the whole plan from 1. Steps that
// already ran keep their order and results.
func (p *Plan) ReplacePending(specs []StepSpec) error {
	if len(specs) == 0 {
		return ErrEmptyPlan
	}
	kept := p.Steps[:0]
	for _, s := range p.Steps {
		if s.Status != StatusPending {
			kept = append(kept, s)
		}
	}
	p.Steps = kept
	if err := p.appendSpecs(specs); err != nil {
		return err
	}
	p.renumber()
	return nil
}

// MergeFeedback appends feedback text to the description of the next
// pending step, separated by "; ". The step keeps its tool kind unless
// the feedback vocabulary clearly implies a different tool. Returns false
// when no pending step remains.
func (p *Plan) MergeFeedback(feedback string) bool {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return true
	}
	next := p.NextPending()
	if next == nil {
		return false
	}
	next.Description = next.Description + "; " + feedback
	if tool, ok := ClassifyStrict(feedback); ok {
		next.Tool = tool
	}
	return true
}

// NextPending returns the first pending step, or nil when none remain.
func (p *Plan) NextPending() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status == StatusPending {
			return &p.Steps[i]
		}
	}
	return nil
}

// PendingCount returns the number of steps not yet started.
func (p *Plan) PendingCount() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StatusPending {
			n++
		}
	}
	return n
}

// Completed returns the steps that finished with a result, in plan order.
func (p *Plan) Completed() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Status == StatusCompleted {
			out = append(out, s)
		}
	}
	return out
}

// AbandonPending marks every remaining pending step as skipped without
// execution. Used when the human forces synthesis.
func (p *Plan) AbandonPending() int {
	n := 0
	for i := range p.Steps {
		if p.Steps[i].Status == StatusPending {
			p.Steps[i].Status = StatusSkippedDuplicate
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out concurrently with mutation
// of the original.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	return &Plan{Steps: steps}
}

// Validate checks the id invariant: strictly increasing from 1, no gaps.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	for i, s := range p.Steps {
		if s.ID != i+1 {
			return fmt.Errorf("step %d has id %d, want %d", i, s.ID, i+1)
		}
	}
	return nil
}

func (p *Plan) maxID() int {
	max := 0
	for _, s := range p.Steps {
		if s.ID > max {
			max = s.ID
		}
	}
	return max
}

func (p *Plan) renumber() {
	for i := range p.Steps {
		p.Steps[i].ID = i + 1
	}
}
