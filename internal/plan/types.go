// Package plan defines the diagnostic step and plan data model.
//
// A Plan is an ordered sequence of Steps; insertion order is execution
// order. Step ids are assigned by the plan operations and form a strictly
// increasing sequence starting at 1 with no gaps after creation or
// replacement. The package is pure data plus invariants: no I/O, no
// locking, no tool calls.
package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors for plan operations and decision validation.
var (
	ErrEmptyPlan        = errors.New("plan has no steps")
	ErrEmptyDescription = errors.New("step description is empty")
	ErrFeedbackRequired = errors.New("edit decision requires feedback")
	ErrUnknownChoice    = errors.New("unknown decision choice")
)

// ToolKind identifies which external capability executes a step.
type ToolKind string

const (
	// ToolSensorQuery queries the time-series sensor data service.
	ToolSensorQuery ToolKind = "sensor_query"

	// ToolDocumentSearch searches the technical document index.
	ToolDocumentSearch ToolKind = "document_search"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StatusPending          StepStatus = "pending"
	StatusExecuting        StepStatus = "executing"
	StatusCompleted        StepStatus = "completed"
	StatusFailed           StepStatus = "failed"
	StatusSkippedDuplicate StepStatus = "skipped_duplicate"
)

// Terminal reports whether the status is a final state for the step.
func (s StepStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkippedDuplicate:
		return true
	}
	return false
}

// Step is a single unit of diagnostic work owned by its containing Plan.
type Step struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Tool        ToolKind   `json:"tool"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StepSpec is the planner-facing shape of a step before it is numbered
// into a plan.
type StepSpec struct {
	Description string   `json:"description"`
	Tool        ToolKind `json:"tool"`
}

// Choice is a human decision at the checkpoint.
type Choice string

const (
	ChoiceContinue   Choice = "continue"
	ChoiceEdit       Choice = "edit"
	ChoiceSynthesize Choice = "synthesize"
	ChoiceQuit       Choice = "quit"
)

// Decision is the human input resolving an awaiting checkpoint.
type Decision struct {
	Choice   Choice `json:"choice"`
	Feedback string `json:"feedback,omitempty"`
}

// Validate rejects malformed decisions before any state mutation occurs.
// An edit without feedback is a validation failure, never a silently
// accepted default.
func (d Decision) Validate() error {
	switch d.Choice {
	case ChoiceContinue, ChoiceSynthesize, ChoiceQuit:
		return nil
	case ChoiceEdit:
		if strings.TrimSpace(d.Feedback) == "" {
			return ErrFeedbackRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChoice, d.Choice)
	}
}
