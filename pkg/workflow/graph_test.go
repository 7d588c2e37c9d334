package workflow_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

func TestBuildDependencies(t *testing.T) {
	t.Parallel()
	nodes := map[string]*workflow.Node{
		"a": textNode("a"),
		"b": textNode("b"),
		"c": textNode("c"),
	}
	clean := []workflow.Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "b", Target: "c"},
	}
	dirty := append([]workflow.Edge{
		{Source: "a", Target: "ghost"},
		{Source: "phantom", Target: "b"},
		{Source: "a", Target: "b"},
	}, clean...)

	want := workflow.DependencyGraph{
		"a": {},
		"b": {"a"},
		"c": {"a", "b"},
	}
	if diff := cmp.Diff(want, workflow.BuildDependencies(nodes, clean, quietLogger())); diff != "" {
		t.Errorf("clean graph mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, workflow.BuildDependencies(nodes, dirty, quietLogger())); diff != "" {
		t.Errorf("dangling/duplicate edges changed the graph (-want +got):\n%s", diff)
	}
}

func TestDependencyGraph_Queries(t *testing.T) {
	t.Parallel()
	deps := workflow.DependencyGraph{
		"a": {},
		"x": {},
		"b": {"a"},
		"c": {"a", "b"},
	}
	if diff := cmp.Diff([]string{"b", "c"}, deps.Dependents("a")); diff != "" {
		t.Errorf("Dependents mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "x"}, deps.EntryNodes()); diff != "" {
		t.Errorf("EntryNodes mismatch (-want +got):\n%s", diff)
	}
}
