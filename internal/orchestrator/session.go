package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/convo"
	"github.com/fyrsmithlabs/diagd/internal/detect"
	"github.com/fyrsmithlabs/diagd/internal/executor"
	"github.com/fyrsmithlabs/diagd/internal/gate"
	"github.com/fyrsmithlabs/diagd/internal/plan"
	"github.com/fyrsmithlabs/diagd/internal/planner"
)

var timeNow = time.Now

// Session is one human-in-the-loop diagnostic conversation. A session
// processes one query at a time; concurrent queries are rejected with
// ErrSessionBusy. Status reads and decision submissions are safe from
// other goroutines while a turn runs.
type Session struct {
	id     string
	cfg    Config
	logger *zap.Logger

	planner planner.Planner
	synth   planner.Synthesizer
	runner  *executor.Runner

	gate     *gate.Gate
	detector *detect.Detector
	convo    *convo.Manager

	// ctx is cancelled by Terminate so a turn blocked at the gate or
	// inside a tool call is released immediately.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	phase      Phase
	query      string
	turnNumber int
	iteration  int
	plan       *plan.Plan
	records    []IterationRecord
	report     string
	lastErr    string
	running    bool
	terminated bool
}

// NewSession wires a session from its collaborators. A nil logger
// disables logging.
func NewSession(id string, cfg Config, p planner.Planner, s planner.Synthesizer, runner *executor.Runner, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:      ctx,
		cancel:   cancel,
		id:       id,
		cfg:      cfg,
		logger:   logger.With(zap.String("session_id", id)),
		planner:  p,
		synth:    s,
		runner:   runner,
		gate:     gate.New(cfg.DecisionTimeout),
		detector: detect.New(cfg.IterationCap),
		convo:    convo.NewManager(cfg.Retention, cfg.ContextTurns, logger),
		phase:    PhaseInit,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SubmitDecision validates and delivers a human decision to the
// checkpoint currently waiting. It fails with gate.ErrNoWaiter when the
// session is not paused at a checkpoint, and with a validation error
// from the decision itself without consuming the checkpoint.
func (s *Session) SubmitDecision(d plan.Decision) error {
	s.mu.Lock()
	terminated := s.terminated
	s.mu.Unlock()
	if terminated {
		return ErrTerminated
	}
	return s.gate.Submit(d)
}

// Terminate ends the session and cancels its context, releasing an
// in-flight turn even when it is paused at a checkpoint.
func (s *Session) Terminate() {
	s.mu.Lock()
	s.terminated = true
	s.mu.Unlock()
	s.cancel()
}

// Snapshot returns a consistent copy of the session state. The
// awaiting-decision flag comes from the gate itself, so a snapshot that
// reports it guarantees a waiter is registered and SubmitDecision will
// be delivered rather than rejected.
func (s *Session) Snapshot() Snapshot {
	awaiting := s.gate.Awaiting()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:        s.id,
		Phase:            s.phase,
		Query:            s.query,
		TurnNumber:       s.turnNumber,
		Iteration:        s.iteration,
		AwaitingDecision: awaiting,
		Report:           s.report,
		Error:            s.lastErr,
	}
	if s.plan != nil {
		snap.Plan = s.plan.Clone()
	}
	snap.Records = make([]IterationRecord, len(s.records))
	copy(snap.Records, s.records)
	return snap
}

// History returns the session's completed conversation turns.
func (s *Session) History() []convo.Turn {
	return s.convo.History()
}

// Report returns the report of the most recently completed turn.
func (s *Session) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.logger.Debug("phase transition", zap.String("phase", string(p)))
}

func (s *Session) appendRecord(r IterationRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// beginTurn reserves the session for one query and resets per-turn
// state. The audit trail and conversation history persist across turns.
func (s *Session) beginTurn(query string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return 0, ErrTerminated
	}
	if s.running {
		return 0, ErrSessionBusy
	}
	s.running = true
	s.query = query
	s.turnNumber = s.convo.NextTurnNumber()
	s.iteration = 0
	s.plan = nil
	s.report = ""
	s.lastErr = ""
	s.phase = PhaseInit
	return s.turnNumber, nil
}

func (s *Session) endTurn(report, errMsg string, phase Phase) {
	s.mu.Lock()
	s.running = false
	s.report = report
	s.lastErr = errMsg
	s.phase = phase
	s.mu.Unlock()
}

func (s *Session) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
