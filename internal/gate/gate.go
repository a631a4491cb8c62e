// Package gate implements the per-session human decision checkpoint.
//
// The orchestrator suspends on Wait; an external actor resolves it via
// Submit from a different goroutine, typically an HTTP handler. The gate
// replaces polling of shared mutable state with an explicit mailbox: one
// mutex protects the awaiting flag and the delivery channel, so a
// decision can never be lost to a race between registration and
// submission, and a decision with no waiter is rejected rather than
// queued.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// DefaultWaitTimeout matches the original operator workflow: five
// minutes for a human to respond before the session is marked timed out.
const DefaultWaitTimeout = 5 * time.Minute

// Errors for gate operations.
var (
	// ErrNoWaiter means a decision arrived while nothing was awaiting it.
	ErrNoWaiter = errors.New("no decision is currently awaited")

	// ErrWaitInProgress means a second Wait was attempted on the same gate.
	ErrWaitInProgress = errors.New("a wait is already outstanding")

	// ErrTimeout means no decision arrived within the configured window.
	ErrTimeout = errors.New("timed out waiting for decision")
)

// Gate is a per-session synchronization point for human decisions.
type Gate struct {
	mu      sync.Mutex
	waiting bool
	ch      chan plan.Decision
	timeout time.Duration
}

// New creates a gate with the given wait timeout. A non-positive timeout
// falls back to DefaultWaitTimeout.
func New(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &Gate{timeout: timeout}
}

// Awaiting reports whether a wait is currently outstanding.
func (g *Gate) Awaiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

// Wait blocks until a decision is submitted, the timeout elapses, or ctx
// is cancelled. At most one wait may be outstanding at a time.
func (g *Gate) Wait(ctx context.Context) (plan.Decision, error) {
	g.mu.Lock()
	if g.waiting {
		g.mu.Unlock()
		return plan.Decision{}, ErrWaitInProgress
	}
	g.waiting = true
	ch := make(chan plan.Decision, 1)
	g.ch = ch
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return d, nil
	case <-timer.C:
		return g.abort(ch, ErrTimeout)
	case <-ctx.Done():
		return g.abort(ch, ctx.Err())
	}
}

// abort withdraws the wait, accepting a decision that raced in between
// the trigger and the lock.
func (g *Gate) abort(ch chan plan.Decision, cause error) (plan.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case d := <-ch:
		return d, nil
	default:
	}
	g.waiting = false
	g.ch = nil
	return plan.Decision{}, cause
}

// Submit delivers a decision to the outstanding wait. Validation happens
// before delivery so an invalid decision leaves both the gate and the
// session untouched.
func (g *Gate) Submit(d plan.Decision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.waiting || g.ch == nil {
		return ErrNoWaiter
	}
	g.waiting = false
	g.ch <- d
	g.ch = nil
	return nil
}
