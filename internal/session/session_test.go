package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/diagd/internal/executor"
	"github.com/fyrsmithlabs/diagd/internal/orchestrator"
	"github.com/fyrsmithlabs/diagd/internal/plan"
	"github.com/fyrsmithlabs/diagd/internal/planner"
)

func testFactory() Factory {
	return func(id string) *orchestrator.Session {
		runner := executor.NewRunner(time.Second, 0, nil)
		rule := planner.NewRule()
		return orchestrator.NewSession(id, orchestrator.Config{}, rule, rule, runner, nil)
	}
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(testFactory(), nil)

	sess, err := r.Create()
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID())

	got, err := r.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, r.Len())
}

func TestGet_NotFound(t *testing.T) {
	r := NewRegistry(testFactory(), nil)
	_, err := r.Get("no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnd_TerminatesAndRemoves(t *testing.T) {
	r := NewRegistry(testFactory(), nil)
	sess, err := r.Create()
	require.NoError(t, err)

	require.NoError(t, r.End(sess.ID()))
	_, err = r.Get(sess.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	// The session itself is terminated, not just unlisted.
	_, err = sess.Run(context.Background(), "pressure check")
	assert.ErrorIs(t, err, orchestrator.ErrTerminated)

	assert.ErrorIs(t, r.End(sess.ID()), ErrNotFound)
}

func TestList_OldestFirst(t *testing.T) {
	r := NewRegistry(testFactory(), nil)
	a, err := r.Create()
	require.NoError(t, err)
	b, err := r.Create()
	require.NoError(t, err)

	ids := r.List()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, a.ID())
	assert.Contains(t, ids, b.ID())
}

func TestClose_RejectsFurtherCreates(t *testing.T) {
	r := NewRegistry(testFactory(), nil)
	sess, err := r.Create()
	require.NoError(t, err)

	r.Close()
	assert.Equal(t, 0, r.Len())

	_, err = r.Create()
	assert.ErrorIs(t, err, ErrClosed)

	err = sess.SubmitDecision(plan.Decision{Choice: plan.ChoiceContinue})
	assert.ErrorIs(t, err, orchestrator.ErrTerminated)
}
