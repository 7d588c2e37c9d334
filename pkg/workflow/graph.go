package workflow

import (
	"log/slog"
	"slices"
	"sort"
)

// DependencyGraph maps a node id to the ids of its upstream nodes.
type DependencyGraph map[string][]string

// BuildDependencies derives the dependency graph of nodes from edges.
//
// Every node gets an entry, so isolated nodes are representable. Edges whose
// source or target is not in nodes are dropped with a warning; they never
// cause an error. A nil logger uses slog.Default().
func BuildDependencies(nodes map[string]*Node, edges []Edge, logger *slog.Logger) DependencyGraph {
	if logger == nil {
		logger = slog.Default()
	}
	deps := make(DependencyGraph, len(nodes))
	for id := range nodes {
		deps[id] = []string{}
	}

	for _, e := range edges {
		_, srcOK := nodes[e.Source]
		_, dstOK := nodes[e.Target]
		if !srcOK || !dstOK {
			var missing []string
			if !srcOK {
				missing = append(missing, e.Source)
			}
			if !dstOK {
				missing = append(missing, e.Target)
			}
			logger.Warn("dropping dangling edge",
				"source", e.Source, "target", e.Target, "missing", missing)
			continue
		}
		if slices.Contains(deps[e.Target], e.Source) {
			continue
		}
		deps[e.Target] = append(deps[e.Target], e.Source)
	}
	return deps
}

// Dependents returns, in sorted order, the ids of nodes that list id as a
// dependency.
func (d DependencyGraph) Dependents(id string) []string {
	var out []string
	for nodeID, ups := range d {
		if slices.Contains(ups, id) {
			out = append(out, nodeID)
		}
	}
	sort.Strings(out)
	return out
}

// EntryNodes returns, in sorted order, the ids of nodes without dependencies.
func (d DependencyGraph) EntryNodes() []string {
	var out []string
	for id, ups := range d {
		if len(ups) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
