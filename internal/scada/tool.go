package scada

import (
	"context"

	"github.com/fyrsmithlabs/diagd/internal/executor"
	"github.com/fyrsmithlabs/diagd/internal/plan"
)

// Tool adapts the store to the executor's tool interface.
type Tool struct {
	store *Store
}

var _ executor.Tool = (*Tool)(nil)

// NewTool wraps a store as an executable sensor-query tool.
func NewTool(store *Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Kind() plan.ToolKind { return plan.ToolSensorQuery }

func (t *Tool) Name() string { return "scada" }

func (t *Tool) Execute(ctx context.Context, query string) (string, error) {
	return t.store.Query(ctx, query)
}
