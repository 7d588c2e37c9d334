package workflow

import (
	"context"
	"log/slog"
	"maps"
)

// Subgraph returns the part of g needed to re-run selected. Group ids expand
// to their members. Direct upstream nodes of the selection are kept as pinned
// boundary nodes: they provide their current output as input but are never
// executed, so their action data is dropped. Edges survive only when both
// endpoints are in the result.
//
// Nodes in the result are copies; g is not modified.
func Subgraph(g *Graph, selected []string) (*Graph, error) {
	sel := make(map[string]bool, len(selected))
	for _, id := range selected {
		n, ok := g.Nodes[id]
		if !ok {
			return nil, &UnknownNodeError{NodeID: id}
		}
		if n.Type == NodeTypeGroup {
			for _, m := range g.Members(id) {
				sel[m] = true
			}
			continue
		}
		sel[id] = true
	}

	deps := BuildDependencies(g.Nodes, g.Edges, slog.New(slog.DiscardHandler))
	keep := maps.Clone(sel)
	for id := range sel {
		for _, up := range deps[id] {
			keep[up] = true
		}
	}

	sub := &Graph{
		Name:       g.Name,
		Nodes:      make(map[string]*Node, len(keep)),
		Stylesheet: g.Stylesheet,
	}
	for id := range keep {
		n := *g.Nodes[id]
		n.Output = maps.Clone(n.Output)
		if sel[id] {
			n.ActionData = maps.Clone(n.ActionData)
		} else {
			n.ActionData = nil
			n.Pinned = true
		}
		sub.Nodes[id] = &n
	}
	for _, e := range g.Edges {
		if keep[e.Source] && keep[e.Target] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub, nil
}

// RunSelection re-runs only the selected nodes (and the members of any
// selected group) against the engine's status store. Selected nodes are
// reset to idle first; their upstream nodes keep their current output and
// status. Auto-run gating still applies inside the selection. The new
// outputs are written back to the engine's graph.
func (e *Engine) RunSelection(ctx context.Context, selected []string) (*RunResult, error) {
	e.mu.RLock()
	sub, err := Subgraph(e.graph, selected)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	child, err := NewEngine(sub, e.registry,
		WithStatusStore(e.store),
		WithOutputCallback(e.onOutput),
		WithLogger(e.baseLogger),
	)
	if err != nil {
		return nil, err
	}
	// Share the parent's bound so a selection cannot exceed it.
	child.sem = e.sem
	child.logger.Info("running selection", "parent_run_id", e.runID, "selected", len(selected), "nodes", len(sub.Nodes))

	var pinned []string
	for _, id := range sub.NodeIDs() {
		if sub.Nodes[id].Pinned {
			pinned = append(pinned, id)
			continue
		}
		e.store.Reset(id)
	}

	child.resetInternal()
	child.Initialize()
	child.runFrom(ctx, child.entryNodes(), pinned)
	res := child.collect()

	e.mu.Lock()
	for id, n := range sub.Nodes {
		if !n.Pinned {
			e.graph.Nodes[id].Output = n.Output
		}
	}
	e.mu.Unlock()
	return res, nil
}
