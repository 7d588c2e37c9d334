package workflow

import (
	"sort"
	"time"
)

// NodeType identifies the kind of content a node produces.
type NodeType string

const (
	NodeTypeText  NodeType = "text"
	NodeTypeImage NodeType = "image"
	NodeTypeVideo NodeType = "video"
	NodeTypeAudio NodeType = "audio"
	NodeTypeMusic NodeType = "music"
	NodeTypeGroup NodeType = "group"
)

// ActionData holds the per-node parameters handed to an executor.
// The scheduler never interprets it.
type ActionData map[string]string

// Output is the result payload a node exposes to its dependents.
type Output map[string]any

// Node represents a single vertex in the workflow graph.
type Node struct {
	ID         string
	Type       NodeType
	AutoRun    bool
	ActionData ActionData
	Output     Output

	// ParentID is the id of the group node this node belongs to, if any.
	ParentID string

	// Pinned marks a boundary input provider in a subgraph run. Pinned nodes
	// are treated as already completed and never executed.
	Pinned bool
}

// Edge declares that Target depends on Source.
type Edge struct {
	Source string
	Target string
}

// Graph is the node and edge list of a workflow document.
type Graph struct {
	Name       string
	Nodes      map[string]*Node
	Edges      []Edge
	Stylesheet *Stylesheet
}

// NewGraph creates a Graph from a node list and an edge list.
// Later nodes with a duplicate id replace earlier ones.
func NewGraph(nodes []*Node, edges []Edge) *Graph {
	g := &Graph{Nodes: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	g.Edges = append(g.Edges, edges...)
	return g
}

// NodeIDs returns all node ids in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID, in definition order.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Members returns the ids of the nodes whose ParentID is groupID, sorted.
func (g *Graph) Members(groupID string) []string {
	var out []string
	for id, n := range g.Nodes {
		if n.ParentID == groupID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

const (
	StatusIdle NodeStatus = "idle"
	// StatusPending is informational: an idle node whose dependencies are
	// not yet completed. The engine itself only stores StatusIdle.
	StatusPending NodeStatus = "pending"
	// StatusPaused is informational: an idle node with auto-run disabled
	// whose dependencies are completed.
	StatusPaused     NodeStatus = "paused"
	StatusProcessing NodeStatus = "processing"
	StatusCompleted  NodeStatus = "completed"
	StatusFailed     NodeStatus = "failed"
)

// Started reports whether the node has left idle and can no longer be
// selected for execution in the current run.
func (s NodeStatus) Started() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ExecutionResult is what an executor returns for one node.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	Timestamp     time.Time     `json:"timestamp"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	Error         string        `json:"error,omitempty"`
	Data          Output        `json:"data,omitempty"`
}

// StatusRecord is the status store's view of one node.
type StatusRecord struct {
	Status        NodeStatus       `json:"status"`
	Auto          bool             `json:"auto"`
	LastUpdated   time.Time        `json:"last_updated"`
	ExecutionTime time.Duration    `json:"execution_time,omitempty"`
	Error         string           `json:"error,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// RunError names a node that ended a run in the failed state.
type RunError struct {
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

// RunResult is the aggregate outcome of one run.
type RunResult struct {
	RunID      string                  `json:"run_id"`
	Success    bool                    `json:"success"`
	NodeStates map[string]StatusRecord `json:"node_states"`
	Errors     []RunError              `json:"errors"`
}
