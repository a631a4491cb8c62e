// Package planner defines the planning and synthesis capability
// boundary and its implementations.
//
// The orchestrator consumes the Planner and Synthesizer interfaces only;
// the LLM-backed implementation talks to any OpenAI-compatible endpoint
// via langchaingo, and the rule implementation provides deterministic
// planning for offline operation and tests.
package planner

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// Errors for planning and synthesis.
var (
	// ErrEmptyPlan means the capability produced no usable steps.
	ErrEmptyPlan = errors.New("planner returned no usable steps")

	// ErrAmbiguousRequest means a request carried both a fresh query
	// intent and edit feedback in a way the capability cannot resolve.
	ErrAmbiguousRequest = errors.New("planning request is ambiguous")
)

// Request carries the inputs for one planning invocation. Feedback is
// set only when replanning after a human edit; a fresh plan leaves it
// empty.
type Request struct {
	Query    string
	Context  string
	Feedback string
}

// Planner produces an ordered list of step specs for a request.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]plan.StepSpec, error)
}

// Synthesizer produces the final report from the executed steps. Failed
// steps are included as noted gaps.
type Synthesizer interface {
	Synthesize(ctx context.Context, query, convoContext string, steps []plan.Step) (string, error)
}
