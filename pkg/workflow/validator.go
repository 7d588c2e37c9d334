package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// LintError describes a structural problem in a graph.
type LintError struct {
	NodeID  string
	Message string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// promptTypes are the node types that need a prompt, either their own or
// text arriving from upstream.
var promptTypes = map[NodeType]bool{
	NodeTypeImage: true,
	NodeTypeAudio: true,
	NodeTypeVideo: true,
	NodeTypeMusic: true,
}

// Lint checks a graph for structural problems and returns all of them,
// sorted by node id. The engine runs graphs regardless of lint findings;
// cycles in particular only leave their nodes idle.
//
// When reg is non-nil, node types it cannot resolve are reported too.
func Lint(g *Graph, reg Registry) []LintError {
	var errs []LintError

	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge references unknown source node %q", e.Source)})
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge references unknown target node %q", e.Target)})
		}
		if e.Source == e.Target {
			errs = append(errs, LintError{NodeID: e.Source, Message: "node depends on itself"})
		}
	}

	for _, id := range g.NodeIDs() {
		errs = append(errs, LintNode(g, g.Nodes[id], reg)...)
	}

	if cyc := cycleMembers(g); len(cyc) > 0 {
		errs = append(errs, LintError{Message: fmt.Sprintf("dependency cycle through %s; these nodes can never run", strings.Join(cyc, ", "))})
	}

	slices.SortStableFunc(errs, func(a, b LintError) int { return strings.Compare(a.NodeID, b.NodeID) })
	return errs
}

// LintNode checks a single node's type, group membership and required
// action data.
func LintNode(g *Graph, n *Node, reg Registry) []LintError {
	var errs []LintError
	if reg != nil {
		if _, err := reg.Get(n.Type); err != nil {
			var unreg *UnregisteredTypeError
			msg := err.Error()
			if errors.As(err, &unreg) {
				msg = fmt.Sprintf("unknown node type %q", n.Type)
			}
			errs = append(errs, LintError{NodeID: n.ID, Message: msg})
		}
	}
	if n.ParentID != "" {
		parent, ok := g.Nodes[n.ParentID]
		switch {
		case !ok:
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("parent group %q does not exist", n.ParentID)})
		case parent.Type != NodeTypeGroup:
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("parent %q is not a group", n.ParentID)})
		}
	}
	if promptTypes[n.Type] && n.ActionData["prompt"] == "" && len(g.IncomingEdges(n.ID)) == 0 {
		errs = append(errs, LintError{
			NodeID:  n.ID,
			Message: fmt.Sprintf("node type %q needs a prompt attribute or an upstream node", n.Type),
		})
	}
	return errs
}

// LintErr calls Lint and returns nil if there are no findings, or a combined
// error listing all of them.
func LintErr(g *Graph, reg Registry) error {
	errs := Lint(g, reg)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("graph validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// cycleMembers returns the sorted ids of nodes that can never become ready
// because they sit on, or downstream of, a dependency cycle.
func cycleMembers(g *Graph) []string {
	deps := BuildDependencies(g.Nodes, g.Edges, slog.New(slog.DiscardHandler))
	pending := make(map[string]int, len(deps))
	var queue []string
	for id, ups := range deps {
		pending[id] = len(ups)
		if len(ups) == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(pending, id)
		for _, down := range deps.Dependents(id) {
			pending[down]--
			if pending[down] == 0 {
				queue = append(queue, down)
			}
		}
	}

	out := make([]string, 0, len(pending))
	for id := range pending {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
