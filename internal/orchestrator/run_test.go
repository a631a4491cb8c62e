package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/diagd/internal/executor"
	"github.com/fyrsmithlabs/diagd/internal/gate"
	"github.com/fyrsmithlabs/diagd/internal/plan"
	"github.com/fyrsmithlabs/diagd/internal/planner"
)

type fakeTool struct {
	kind plan.ToolKind
	name string
	out  string
	err  error
}

func (f *fakeTool) Kind() plan.ToolKind { return f.kind }
func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Execute(_ context.Context, _ string) (string, error) {
	return f.out, f.err
}

// scripted returns a fixed sequence of plans, one per Plan call, and a
// deterministic synthesis of whatever executed.
type scripted struct {
	mu    sync.Mutex
	plans [][]plan.StepSpec
	errs  []error
	reqs  []planner.Request
}

func (s *scripted) Plan(_ context.Context, req planner.Request) ([]plan.StepSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.reqs)
	s.reqs = append(s.reqs, req)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.plans) {
		idx = len(s.plans) - 1
	}
	specs := make([]plan.StepSpec, len(s.plans[idx]))
	copy(specs, s.plans[idx])
	return specs, nil
}

func (s *scripted) Synthesize(_ context.Context, query, _ string, steps []plan.Step) (string, error) {
	return fmt.Sprintf("Report for %q:\n%s", query, planner.FormatStepResults(steps)), nil
}

func (s *scripted) requests() []planner.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]planner.Request, len(s.reqs))
	copy(out, s.reqs)
	return out
}

func sensorSpec(desc string) plan.StepSpec {
	return plan.StepSpec{Description: desc, Tool: plan.ToolSensorQuery}
}

func docSpec(desc string) plan.StepSpec {
	return plan.StepSpec{Description: desc, Tool: plan.ToolDocumentSearch}
}

func newTestRunner() *executor.Runner {
	r := executor.NewRunner(time.Second, 0, nil)
	r.Register(&fakeTool{kind: plan.ToolSensorQuery, name: "scada", out: "pressure 91.4 psi, ERR_PRESSURE_HIGH_504"})
	r.Register(&fakeTool{kind: plan.ToolDocumentSearch, name: "manuals", out: "Relieve pressure per section 4.2\n(Source: filler_manual)"})
	return r
}

func newTestSession(t *testing.T, cfg Config, p *scripted) *Session {
	t.Helper()
	return NewSession("test-session", cfg, p, p, newTestRunner(), nil)
}

type runResult struct {
	report string
	err    error
}

func startRun(sess *Session, query string) chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		report, err := sess.Run(context.Background(), query)
		ch <- runResult{report, err}
	}()
	return ch
}

func waitForCheckpoint(t *testing.T, sess *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.Snapshot().AwaitingDecision
	}, 2*time.Second, 5*time.Millisecond, "session never reached a checkpoint")
}

func waitForResult(t *testing.T, ch chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish in time")
		return runResult{}
	}
}

func TestRun_CheckpointAfterFirstIteration(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{
		sensorSpec("Check pressure readings for Filler_01"),
		docSpec("Find overpressure procedures"),
	}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "Pressure is very high, what should I do?")

	waitForCheckpoint(t, sess)
	snap := sess.Snapshot()
	assert.Equal(t, PhaseAwaitingDecision, snap.Phase)
	assert.Equal(t, 1, snap.Iteration)
	require.NotNil(t, snap.Plan)
	require.Len(t, snap.Plan.Steps, 2)
	for _, st := range snap.Plan.Steps {
		assert.Equal(t, plan.StatusCompleted, st.Status)
		assert.NotEmpty(t, st.Result)
	}

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	res := waitForResult(t, ch)
	require.NoError(t, res.err)
	assert.Contains(t, res.report, "pressure 91.4 psi")
	assert.Contains(t, res.report, "section 4.2")

	snap = sess.Snapshot()
	assert.Equal(t, PhaseDone, snap.Phase)
	require.Len(t, snap.Records, 1)
	require.NotNil(t, snap.Records[0].Decision)
	assert.Equal(t, plan.ChoiceSynthesize, snap.Records[0].Decision.Choice)

	require.Len(t, sess.History(), 1)
	assert.Equal(t, res.report, sess.History()[0].Report)
}

func TestRun_DuplicateStepSkippedWithinIteration(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{
		sensorSpec("Check the pressure"),
		sensorSpec("SCADA: check THE pressure."),
	}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	snap := sess.Snapshot()
	require.Len(t, snap.Plan.Steps, 2)
	assert.Equal(t, plan.StatusCompleted, snap.Plan.Steps[0].Status)
	assert.Equal(t, plan.StatusSkippedDuplicate, snap.Plan.Steps[1].Status)

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceQuit}))
	waitForResult(t, ch)
}

func TestRun_DuplicateDetectedAcrossReplan(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{
		{sensorSpec("Check the pressure")},
		{sensorSpec("Check the pressure"), docSpec("Find the repair guide")},
	}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceEdit, Feedback: "also check the manual"}))

	waitForCheckpoint(t, sess)
	snap := sess.Snapshot()
	assert.Equal(t, 2, snap.Iteration)

	var statuses []plan.StepStatus
	for _, st := range snap.Plan.Steps {
		statuses = append(statuses, st.Status)
	}
	assert.Contains(t, statuses, plan.StatusSkippedDuplicate, "replanned copy of executed work must be skipped")

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	res := waitForResult(t, ch)
	require.NoError(t, res.err)
}

func TestSubmitDecision_WithoutCheckpoint(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("x")}}}
	sess := newTestSession(t, Config{}, p)

	err := sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceContinue})
	assert.ErrorIs(t, err, gate.ErrNoWaiter)
}

func TestRun_EditWithoutFeedbackRejectedWithoutMutation(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	before := sess.Snapshot()

	err := sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceEdit})
	assert.ErrorIs(t, err, plan.ErrFeedbackRequired)

	after := sess.Snapshot()
	assert.True(t, after.AwaitingDecision, "checkpoint must survive an invalid decision")
	assert.Equal(t, before.Iteration, after.Iteration)
	assert.Equal(t, before.Plan, after.Plan)
	assert.Len(t, p.requests(), 1, "no replan may happen on a rejected decision")

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceQuit}))
	waitForResult(t, ch)
}

func TestRun_EditReplacesPendingAndRenumbers(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{
		{sensorSpec("Check the pressure")},
		{sensorSpec("Check the vibration"), docSpec("Find vibration procedures")},
	}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "something is wrong with the filler")

	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceEdit, Feedback: "focus on vibration"}))

	waitForCheckpoint(t, sess)
	snap := sess.Snapshot()
	require.Len(t, snap.Plan.Steps, 3)
	for i, st := range snap.Plan.Steps {
		assert.Equal(t, i+1, st.ID, "ids must stay contiguous after replace")
	}
	assert.Equal(t, "Check the pressure", snap.Plan.Steps[0].Description)
	assert.Equal(t, "Check the vibration", snap.Plan.Steps[1].Description)

	reqs := p.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "focus on vibration", reqs[1].Feedback)

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	res := waitForResult(t, ch)
	require.NoError(t, res.err)
}

func TestRun_ContinueWithFeedbackAddsOneStep(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{
		{sensorSpec("Check the pressure")},
		{sensorSpec("Check the rpm"), docSpec("never appended")},
	}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceContinue, Feedback: "also check the rpm"}))

	waitForCheckpoint(t, sess)
	snap := sess.Snapshot()
	assert.Equal(t, 2, snap.Iteration)
	require.Len(t, snap.Plan.Steps, 2, "bare continue feedback adds exactly one step")
	assert.Equal(t, "Check the rpm", snap.Plan.Steps[1].Description)
	assert.Equal(t, plan.StatusCompleted, snap.Plan.Steps[1].Status)

	reqs := p.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "also check the rpm", reqs[1].Feedback)

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	waitForResult(t, ch)
}

func TestRun_ContinueWithoutFeedbackAndNoPendingSynthesizes(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceContinue}))

	res := waitForResult(t, ch)
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.report)
	assert.Equal(t, PhaseDone, sess.Snapshot().Phase)
}

func TestRun_IterationCapForcesSynthesis(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{IterationCap: 1}, p)
	ch := startRun(sess, "pressure check")

	res := waitForResult(t, ch)
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.report)

	snap := sess.Snapshot()
	assert.Equal(t, PhaseDone, snap.Phase)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, OutcomeIterationCap, snap.Records[0].Outcome)
	assert.Nil(t, snap.Records[0].Decision, "the cap bypasses the checkpoint")
}

func TestRun_QuitEndsTurnWithoutReport(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceQuit}))

	res := waitForResult(t, ch)
	require.NoError(t, res.err)
	assert.Empty(t, res.report)

	snap := sess.Snapshot()
	assert.Equal(t, PhaseDone, snap.Phase)
	require.Len(t, snap.Records, 1)
	require.NotNil(t, snap.Records[0].Decision)
	assert.Equal(t, plan.ChoiceQuit, snap.Records[0].Decision.Choice)
	assert.Empty(t, sess.History(), "a quit turn produces no conversation turn")
}

func TestRun_DecisionTimeoutFailPolicy(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{DecisionTimeout: 30 * time.Millisecond}, p)
	ch := startRun(sess, "pressure check")

	res := waitForResult(t, ch)
	require.ErrorIs(t, res.err, gate.ErrTimeout)
	assert.Contains(t, res.report, "could not complete")

	snap := sess.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, OutcomeDecisionTimeout, snap.Records[0].Outcome)
}

func TestRun_DecisionTimeoutContinuePolicy(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{
		DecisionTimeout:   30 * time.Millisecond,
		OnDecisionTimeout: TimeoutContinue,
	}, p)
	ch := startRun(sess, "pressure check")

	res := waitForResult(t, ch)
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.report)
	assert.Equal(t, PhaseDone, sess.Snapshot().Phase)
}

func TestRun_PlanningFailure(t *testing.T) {
	p := &scripted{
		plans: [][]plan.StepSpec{{sensorSpec("unused")}},
		errs:  []error{errors.New("model unavailable")},
	}
	sess := newTestSession(t, Config{}, p)

	report, err := sess.Run(context.Background(), "pressure check")
	require.ErrorIs(t, err, ErrPlanning)
	assert.Contains(t, report, "planning failed")
	assert.Equal(t, PhaseError, sess.Snapshot().Phase)
}

func TestRun_SessionBusy(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	_, err := sess.Run(context.Background(), "second query")
	assert.ErrorIs(t, err, ErrSessionBusy)

	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceQuit}))
	waitForResult(t, ch)
}

func TestRun_TerminatedSessionRejectsQueries(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("x")}}}
	sess := newTestSession(t, Config{}, p)
	sess.Terminate()

	_, err := sess.Run(context.Background(), "pressure check")
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceContinue}), ErrTerminated)
}

func TestRun_StatusPollingDuringReplans(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{
		{sensorSpec("Check the pressure")},
		{sensorSpec("Check the vibration"), docSpec("Find vibration procedures")},
		{sensorSpec("Check the rpm")},
	}}
	sess := newTestSession(t, Config{IterationCap: 10}, p)
	ch := startRun(sess, "something is wrong with the filler")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := sess.Snapshot()
					if snap.Plan != nil {
						_ = snap.Plan.PendingCount()
					}
				}
			}
		}()
	}

	for i := 0; i < 3; i++ {
		waitForCheckpoint(t, sess)
		require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceEdit, Feedback: "look elsewhere"}))
	}
	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))

	res := waitForResult(t, ch)
	close(stop)
	wg.Wait()
	require.NoError(t, res.err)
}

func TestSnapshot_AwaitingImpliesSubmitAccepted(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{
		{sensorSpec("Check the pressure")},
		{docSpec("Find the repair guide")},
	}}
	sess := newTestSession(t, Config{IterationCap: 40}, p)
	ch := startRun(sess, "pressure check")

	// Every replan reopens the checkpoint; a status that reports
	// awaiting_decision must always accept the decision that follows.
	for i := 0; i < 25; i++ {
		waitForCheckpoint(t, sess)
		require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceEdit, Feedback: "keep digging"}),
			"status reported awaiting but the decision was rejected")
	}
	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceQuit}))
	waitForResult(t, ch)
}

func TestTerminate_ReleasesCheckpointWait(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)
	ch := startRun(sess, "pressure check")

	waitForCheckpoint(t, sess)
	sess.Terminate()

	res := waitForResult(t, ch)
	require.ErrorIs(t, res.err, ErrTerminated)
	assert.Equal(t, PhaseError, sess.Snapshot().Phase)
}

func TestRun_FollowUpTurnCarriesContext(t *testing.T) {
	p := &scripted{plans: [][]plan.StepSpec{{sensorSpec("Check the pressure")}}}
	sess := newTestSession(t, Config{}, p)

	ch := startRun(sess, "Filler_01 pressure is very high")
	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	res := waitForResult(t, ch)
	require.NoError(t, res.err)

	ch = startRun(sess, "What about the temperature data from my last query?")
	waitForCheckpoint(t, sess)
	require.NoError(t, sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceSynthesize}))
	res = waitForResult(t, ch)
	require.NoError(t, res.err)

	reqs := p.requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Context, "first turn has no history")
	assert.Contains(t, reqs[1].Context, "Filler_01 pressure is very high")
}
