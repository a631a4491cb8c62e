// Package executor routes diagnostic steps to registered tool
// capabilities and normalizes their results and failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

const (
	// DefaultCallTimeout bounds a single tool invocation.
	DefaultCallTimeout = 30 * time.Second

	// DefaultRetries is the number of immediate re-attempts after a
	// failed tool call.
	DefaultRetries = 2
)

// ErrNoTool means no capability is registered for a step's tool kind.
var ErrNoTool = errors.New("no capability registered for tool kind")

// Tool is a single external capability the executor can dispatch to.
type Tool interface {
	// Kind identifies which steps this tool serves.
	Kind() plan.ToolKind

	// Name is a short identifier for logs and reports.
	Name() string

	// Execute runs the tool against a step description and returns the
	// result text.
	Execute(ctx context.Context, query string) (string, error)
}

// Runner dispatches steps by tool kind with a per-call timeout and a
// fixed immediate-retry budget. Failures are returned to the caller to
// record on the step; they never abort the plan.
type Runner struct {
	tools   map[plan.ToolKind]Tool
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

// NewRunner creates a runner. Non-positive timeout or negative retries
// fall back to defaults.
func NewRunner(timeout time.Duration, retries int, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		tools:   make(map[plan.ToolKind]Tool),
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}
}

// Register adds a capability, replacing any previous tool of the same
// kind.
func (r *Runner) Register(t Tool) {
	r.tools[t.Kind()] = t
}

// Execute runs one step and returns its result text. The returned error
// is the normalized failure after all retries are exhausted.
func (r *Runner) Execute(ctx context.Context, step plan.Step) (string, error) {
	tool, ok := r.tools[step.Tool]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTool, step.Tool)
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		result, err := tool.Execute(callCtx, step.Description)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err
		r.logger.Warn("tool call failed",
			zap.String("tool", tool.Name()),
			zap.Int("step", step.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("%s failed after %d attempts: %w", tool.Name(), r.retries+1, lastErr)
}
