package workflow

import "context"

// ExecutionInput is everything an executor sees of a node.
type ExecutionInput struct {
	NodeID string
	Type   NodeType
	// Inputs maps each upstream node id to its current output. Upstream
	// nodes without output are present with a nil Output.
	Inputs     map[string]Output
	ActionData ActionData
}

// Executor performs the generation work for one node type.
// Implementations live in the executors sub-package or are supplied by the
// caller; this interface is defined here so that Engine can use it without
// creating an import cycle.
type Executor interface {
	// Execute runs the node. A returned error and a result with Success
	// false are both recorded as a node failure.
	Execute(ctx context.Context, in ExecutionInput) (ExecutionResult, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, in ExecutionInput) (ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, in ExecutionInput) (ExecutionResult, error) {
	return f(ctx, in)
}

// Registry looks up Executor implementations by node type. Get returns an
// *UnregisteredTypeError when nothing is registered for t.
type Registry interface {
	Get(t NodeType) (Executor, error)
}

// OutputFunc is called with a node's merged output every time the node
// completes successfully.
type OutputFunc func(nodeID string, output Output)
