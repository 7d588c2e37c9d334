// Package executors provides the built-in node executors: LLM text, OpenAI
// images and speech, remote video/music jobs, and the no-op group.
package executors

import (
	"slices"
	"sync"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

// Registry maps node types to Executor implementations.
// It implements the workflow.Registry interface.
type Registry struct {
	mu        sync.RWMutex
	executors map[workflow.NodeType]workflow.Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[workflow.NodeType]workflow.Executor)}
}

// Register associates an executor with a node type, replacing any previous
// registration.
func (r *Registry) Register(nodeType workflow.NodeType, e workflow.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = e
}

// Get returns the executor for a node type, or a
// *workflow.UnregisteredTypeError if none is registered.
func (r *Registry) Get(nodeType workflow.NodeType) (workflow.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[nodeType]
	if !ok {
		return nil, &workflow.UnregisteredTypeError{Type: nodeType}
	}
	return e, nil
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []workflow.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
