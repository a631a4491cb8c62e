// Package orchestrator drives the diagnostic workflow state machine.
//
// One Session owns one conversation: its current plan, turn history,
// iteration audit trail, duplicate detector, and decision gate. The Run
// loop executes plan steps through the executor, pauses at the human
// checkpoint after every iteration, applies the decision, and terminates
// into synthesis. A hard iteration cap guarantees termination even when
// planning keeps producing new work.
package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/diagd/internal/convo"
	"github.com/fyrsmithlabs/diagd/internal/detect"
	"github.com/fyrsmithlabs/diagd/internal/gate"
	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// Phase is the workflow state of a session.
type Phase string

const (
	PhaseInit             Phase = "init"
	PhasePlanning         Phase = "planning"
	PhaseExecuting        Phase = "executing"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseSynthesizing     Phase = "synthesizing"
	PhaseDone             Phase = "done"
	PhaseError            Phase = "error"
)

var (
	// ErrPlanning means the planning capability produced an empty or
	// malformed plan. Fatal to the turn.
	ErrPlanning = errors.New("planning failed")

	// ErrSessionBusy means a query arrived while a turn is in flight.
	ErrSessionBusy = errors.New("session is already processing a query")

	// ErrTerminated means the session has been ended.
	ErrTerminated = errors.New("session is terminated")
)

// TimeoutPolicy selects the behavior when no human decision arrives
// within the gate's window.
type TimeoutPolicy string

const (
	// TimeoutFail terminates the turn with a decision-timeout report.
	TimeoutFail TimeoutPolicy = "fail"

	// TimeoutContinue treats the elapsed window as a bare continue.
	TimeoutContinue TimeoutPolicy = "continue"
)

// Config bounds one session's workflow.
type Config struct {
	// IterationCap forces synthesis after this many iterations.
	IterationCap int

	// DecisionTimeout is the human checkpoint wait window.
	DecisionTimeout time.Duration

	// OnDecisionTimeout selects the timeout fallback. Defaults to
	// TimeoutFail.
	OnDecisionTimeout TimeoutPolicy

	// ContextTurns is how many prior turns feed new planning context.
	ContextTurns int

	// Retention is how many completed turns the session keeps.
	Retention int
}

func (c Config) withDefaults() Config {
	if c.IterationCap <= 0 {
		c.IterationCap = detect.DefaultIterationCap
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = gate.DefaultWaitTimeout
	}
	if c.OnDecisionTimeout == "" {
		c.OnDecisionTimeout = TimeoutFail
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = convo.DefaultTopK
	}
	if c.Retention <= 0 {
		c.Retention = convo.DefaultRetention
	}
	return c
}

// IterationRecord is one append-only audit entry: the steps that ran in
// an iteration and the decision that followed it.
type IterationRecord struct {
	Iteration int            `json:"iteration"`
	Steps     []plan.Step    `json:"steps"`
	Decision  *plan.Decision `json:"decision,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	At        time.Time      `json:"at"`
}

// Outcome markers for iteration records that ended without a human
// decision.
const (
	OutcomeIterationCap    = "iteration_cap"
	OutcomeDecisionTimeout = "decision_timeout"
	OutcomeCancelled       = "cancelled"
	OutcomePlanExhausted   = "plan_exhausted"
)

// Snapshot is the read-only view served to concurrent status queries.
type Snapshot struct {
	SessionID        string            `json:"session_id"`
	Phase            Phase             `json:"phase"`
	Query            string            `json:"query,omitempty"`
	TurnNumber       int               `json:"turn_number"`
	Iteration        int               `json:"iteration"`
	AwaitingDecision bool              `json:"awaiting_decision"`
	Plan             *plan.Plan        `json:"plan,omitempty"`
	Records          []IterationRecord `json:"records,omitempty"`
	Report           string            `json:"report,omitempty"`
	Error            string            `json:"error,omitempty"`
}
