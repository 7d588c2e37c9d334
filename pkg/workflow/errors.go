package workflow

import "fmt"

// unknownNodeID is reported for run errors that are not attributable to a
// single node.
const unknownNodeID = "unknown"

// UnregisteredTypeError is returned when no executor is registered for a
// node type.
type UnregisteredTypeError struct {
	Type NodeType
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q", e.Type)
}

// NotExecutableError is returned by TriggerNode when the node has already
// started or one of its dependencies has not completed.
type NotExecutableError struct {
	NodeID string
	Status NodeStatus
}

func (e *NotExecutableError) Error() string {
	if e.Status.Started() {
		return fmt.Sprintf("node %q cannot execute: status is %s", e.NodeID, e.Status)
	}
	return fmt.Sprintf("node %q cannot execute: dependencies not completed", e.NodeID)
}

// UnknownNodeError is returned when an operation names a node id that is not
// part of the graph.
type UnknownNodeError struct {
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q not found in graph", e.NodeID)
}
