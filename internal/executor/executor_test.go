package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/diagd/internal/plan"
)

type fakeTool struct {
	kind     plan.ToolKind
	name     string
	failures int
	calls    int
	result   string
}

func (f *fakeTool) Kind() plan.ToolKind { return f.kind }
func (f *fakeTool) Name() string        { return f.name }

func (f *fakeTool) Execute(_ context.Context, query string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient backend error")
	}
	return f.result, nil
}

func sensorStep(desc string) plan.Step {
	return plan.Step{ID: 1, Description: desc, Tool: plan.ToolSensorQuery, Status: plan.StatusPending}
}

func TestExecute_NoToolRegistered(t *testing.T) {
	r := NewRunner(time.Second, 1, nil)
	_, err := r.Execute(context.Background(), sensorStep("check pressure"))
	assert.ErrorIs(t, err, ErrNoTool)
}

func TestExecute_Success(t *testing.T) {
	r := NewRunner(time.Second, 1, nil)
	tool := &fakeTool{kind: plan.ToolSensorQuery, name: "scada", result: "pressure is 61.2 psi"}
	r.Register(tool)

	out, err := r.Execute(context.Background(), sensorStep("check pressure"))
	require.NoError(t, err)
	assert.Equal(t, "pressure is 61.2 psi", out)
	assert.Equal(t, 1, tool.calls)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	r := NewRunner(time.Second, 2, nil)
	tool := &fakeTool{kind: plan.ToolSensorQuery, name: "scada", failures: 1, result: "ok"}
	r.Register(tool)

	out, err := r.Execute(context.Background(), sensorStep("check pressure"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, tool.calls)
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	r := NewRunner(time.Second, 2, nil)
	tool := &fakeTool{kind: plan.ToolSensorQuery, name: "scada", failures: 10}
	r.Register(tool)

	_, err := r.Execute(context.Background(), sensorStep("check pressure"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, tool.calls)
}

func TestExecute_CancelledContext(t *testing.T) {
	r := NewRunner(time.Second, 3, nil)
	tool := &fakeTool{kind: plan.ToolSensorQuery, name: "scada", failures: 10}
	r.Register(tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx, sensorStep("check pressure"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tool.calls)
}
