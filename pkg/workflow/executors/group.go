package executors

import (
	"context"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

// GroupExecutor completes group nodes without doing any work. Groups are
// containers; registering this executor keeps them from failing when the
// engine reaches them as entry nodes.
type GroupExecutor struct{}

func (GroupExecutor) Execute(_ context.Context, _ workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	return succeeded(workflow.Output{}), nil
}
