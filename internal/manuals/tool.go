package manuals

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

// NewTool wraps a store as an executable document-search tool.
func NewTool(store *Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Kind() plan.ToolKind { return plan.ToolDocumentSearch }

func (t *Tool) Name() string { return "manuals" }

func (t *Tool) Execute(ctx context.Context, query string) (string, error) {
	return t.store.Search(ctx, query)
}
