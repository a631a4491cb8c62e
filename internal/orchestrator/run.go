package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/gate"
	"github.com/fyrsmithlabs/diagd/internal/plan"
	"github.com/fyrsmithlabs/diagd/internal/planner"
)

// Run processes one query to completion: plan, execute, checkpoint,
// repeat, synthesize. It blocks until the turn reaches a terminal
// phase, so callers that serve concurrent traffic run it on its own
// goroutine and read progress through Snapshot.
func (s *Session) Run(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	turn, err := s.beginTurn(query)
	if err != nil {
		return "", err
	}
	return s.finishTurn(ctx, turn, query)
}

// Start reserves a turn and runs it on its own goroutine. It fails
// synchronously with ErrSessionBusy or ErrTerminated so callers can
// map those to client errors before the workflow begins.
func (s *Session) Start(ctx context.Context, query string) (int, error) {
	query = strings.TrimSpace(query)
	turn, err := s.beginTurn(query)
	if err != nil {
		return 0, err
	}
	go s.finishTurn(ctx, turn, query)
	return turn, nil
}

func (s *Session) finishTurn(ctx context.Context, turn int, query string) (string, error) {
	// The turn observes both the caller's context and the session's
	// own lifetime, so Terminate releases a blocked checkpoint.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(ErrTerminated) })
	defer stop()

	met().turnsStarted.Inc()
	s.logger.Info("turn started", zap.Int("turn", turn), zap.String("query", query))

	report, runErr := s.runTurn(ctx, query)
	if runErr != nil {
		met().turnsFailed.Inc()
		s.endTurn(report, runErr.Error(), PhaseError)
		s.logger.Warn("turn failed", zap.Int("turn", turn), zap.Error(runErr))
		return report, runErr
	}
	s.endTurn(report, "", PhaseDone)
	s.logger.Info("turn completed", zap.Int("turn", turn))
	return report, nil
}

func (s *Session) runTurn(ctx context.Context, query string) (string, error) {
	convoContext := s.convo.Context(query)

	s.setPhase(PhasePlanning)
	specs, err := s.planner.Plan(ctx, planner.Request{Query: query, Context: convoContext})
	if err != nil {
		met().planningFailures.Inc()
		return s.failureReport(PhasePlanning, err), fmt.Errorf("%w: %v", ErrPlanning, err)
	}
	p, err := plan.New(specs)
	if err != nil {
		met().planningFailures.Inc()
		return s.failureReport(PhasePlanning, err), fmt.Errorf("%w: %v", ErrPlanning, err)
	}
	s.mu.Lock()
	s.plan = p
	s.mu.Unlock()

	for {
		if s.cancelled(ctx) {
			return "", s.cancelCause(ctx)
		}
		s.mu.Lock()
		s.iteration++
		iteration := s.iteration
		s.mu.Unlock()

		s.setPhase(PhaseExecuting)
		executed := s.executeIteration(ctx, p)
		record := IterationRecord{Iteration: iteration, Steps: executed, At: timeNow()}

		if s.detector.CapReached(iteration) {
			record.Outcome = OutcomeIterationCap
			s.appendRecord(record)
			met().iterationCaps.Inc()
			s.logger.Warn("iteration cap reached, forcing synthesis",
				zap.Int("iteration", iteration),
				zap.Int("cap", s.detector.IterationCap()))
			s.mu.Lock()
			p.AbandonPending()
			s.mu.Unlock()
			return s.synthesize(ctx, query, convoContext, p)
		}

		s.setPhase(PhaseAwaitingDecision)
		waitStart := timeNow()
		decision, err := s.gate.Wait(ctx)
		met().decisionWait.Observe(timeNow().Sub(waitStart).Seconds())
		if err != nil {
			if errors.Is(err, gate.ErrTimeout) && s.cfg.OnDecisionTimeout == TimeoutContinue {
				s.logger.Warn("decision window elapsed, continuing",
					zap.Int("iteration", iteration))
				decision = plan.Decision{Choice: plan.ChoiceContinue}
			} else if errors.Is(err, gate.ErrTimeout) {
				record.Outcome = OutcomeDecisionTimeout
				s.appendRecord(record)
				return s.failureReport(PhaseAwaitingDecision, err), err
			} else {
				record.Outcome = OutcomeCancelled
				s.appendRecord(record)
				if errors.Is(err, context.Canceled) {
					err = s.cancelCause(ctx)
				}
				return "", err
			}
		}
		d := decision
		record.Decision = &d
		s.appendRecord(record)
		met().decisions.WithLabelValues(string(d.Choice)).Inc()
		s.logger.Info("decision received",
			zap.Int("iteration", iteration),
			zap.String("choice", string(d.Choice)),
			zap.Bool("feedback", d.Feedback != ""))

		switch d.Choice {
		case plan.ChoiceQuit:
			return "", nil

		case plan.ChoiceSynthesize:
			s.mu.Lock()
			p.AbandonPending()
			s.mu.Unlock()
			return s.synthesize(ctx, query, convoContext, p)

		case plan.ChoiceEdit:
			s.setPhase(PhasePlanning)
			specs, err := s.planner.Plan(ctx, planner.Request{
				Query:    query,
				Context:  convoContext,
				Feedback: d.Feedback,
			})
			if err != nil {
				met().planningFailures.Inc()
				return s.failureReport(PhasePlanning, err), fmt.Errorf("%w: %v", ErrPlanning, err)
			}
			s.mu.Lock()
			err = p.ReplacePending(specs)
			s.mu.Unlock()
			if err != nil {
				met().planningFailures.Inc()
				return s.failureReport(PhasePlanning, err), fmt.Errorf("%w: %v", ErrPlanning, err)
			}

		case plan.ChoiceContinue:
			if d.Feedback != "" {
				s.mu.Lock()
				merged := p.MergeFeedback(d.Feedback)
				s.mu.Unlock()
				if !merged {
					// Nothing pending to steer, so the feedback
					// becomes one new step.
					if err := s.appendFeedbackStep(ctx, query, convoContext, d.Feedback, p); err != nil {
						return s.failureReport(PhasePlanning, err), fmt.Errorf("%w: %v", ErrPlanning, err)
					}
				}
			} else if p.PendingCount() == 0 {
				return s.synthesize(ctx, query, convoContext, p)
			}
		}
	}
}

// executeIteration runs exactly one pass over the steps that were
// pending when the iteration started. Steps added or replanned during
// the pass wait for the next iteration.
func (s *Session) executeIteration(ctx context.Context, p *plan.Plan) []plan.Step {
	s.mu.Lock()
	var pendingIDs []int
	for _, st := range p.Steps {
		if st.Status == plan.StatusPending {
			pendingIDs = append(pendingIDs, st.ID)
		}
	}
	s.mu.Unlock()

	var executed []plan.Step
	for _, id := range pendingIDs {
		if s.cancelled(ctx) {
			break
		}
		step := s.stepByID(p, id)
		if step == nil || step.Status != plan.StatusPending {
			continue
		}

		if s.detector.IsDuplicate(*step) {
			s.setStepStatus(p, id, plan.StatusSkippedDuplicate, "")
			met().stepsExecuted.WithLabelValues(string(step.Tool), string(plan.StatusSkippedDuplicate)).Inc()
			s.logger.Info("duplicate step skipped",
				zap.Int("step", id),
				zap.String("description", step.Description))
			executed = append(executed, *s.stepByID(p, id))
			continue
		}

		s.setStepStatus(p, id, plan.StatusExecuting, "")
		s.detector.Observe(*s.stepByID(p, id))

		result, err := s.runner.Execute(ctx, *s.stepByID(p, id))
		if err != nil {
			s.setStepStatus(p, id, plan.StatusFailed, err.Error())
			met().stepsExecuted.WithLabelValues(string(step.Tool), string(plan.StatusFailed)).Inc()
			s.logger.Warn("step failed", zap.Int("step", id), zap.Error(err))
		} else {
			s.setStepStatus(p, id, plan.StatusCompleted, result)
			met().stepsExecuted.WithLabelValues(string(step.Tool), string(plan.StatusCompleted)).Inc()
		}
		executed = append(executed, *s.stepByID(p, id))
	}
	return executed
}

func (s *Session) appendFeedbackStep(ctx context.Context, query, convoContext, feedback string, p *plan.Plan) error {
	specs, err := s.planner.Plan(ctx, planner.Request{
		Query:    query,
		Context:  convoContext,
		Feedback: feedback,
	})
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return plan.ErrEmptyPlan
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.AppendSteps(specs[:1])
}

func (s *Session) synthesize(ctx context.Context, query, convoContext string, p *plan.Plan) (string, error) {
	s.setPhase(PhaseSynthesizing)
	s.mu.Lock()
	steps := make([]plan.Step, len(p.Steps))
	copy(steps, p.Steps)
	s.mu.Unlock()

	report, err := s.synth.Synthesize(ctx, query, convoContext, steps)
	if err != nil {
		met().synthesisFailures.Inc()
		return s.failureReport(PhaseSynthesizing, err), fmt.Errorf("synthesis failed: %w", err)
	}
	s.convo.Append(query, report)
	return report, nil
}

func (s *Session) cancelCause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return ErrTerminated
}

func (s *Session) stepByID(p *plan.Plan, id int) *plan.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

func (s *Session) setStepStatus(p *plan.Plan, id int, status plan.StepStatus, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			p.Steps[i].Status = status
			if result != "" || status == plan.StatusCompleted {
				p.Steps[i].Result = result
			}
			return
		}
	}
}

// failureReport is the terminal report for a turn that could not reach
// a clean synthesis. It names the phase that failed and everything that
// completed before it.
func (s *Session) failureReport(phase Phase, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The diagnostic workflow could not complete: %s failed (%v).\n", phase, cause)

	s.mu.Lock()
	p := s.plan
	if p != nil && len(p.Completed()) > 0 {
		b.WriteString("\nCompleted before the failure:\n")
		for _, st := range p.Completed() {
			fmt.Fprintf(&b, "  %d. [%s] %s\n", st.ID, st.Tool, st.Description)
		}
	} else {
		b.WriteString("\nNo steps completed before the failure.\n")
	}
	s.mu.Unlock()
	return strings.TrimSpace(b.String())
}
