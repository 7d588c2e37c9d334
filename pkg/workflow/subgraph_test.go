package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

// galleryExecutor returns one new image per call.
type galleryExecutor struct {
	mu    sync.Mutex
	calls map[string]int
}

func (g *galleryExecutor) Execute(_ context.Context, in workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[in.NodeID]++
	return workflow.ExecutionResult{
		Success: true,
		Data:    workflow.Output{"images": []string{fmt.Sprintf("%s-%d.png", in.NodeID, g.calls[in.NodeID])}},
	}, nil
}

func (g *galleryExecutor) count(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func chainGraph() *workflow.Graph {
	return workflow.NewGraph(
		[]*workflow.Node{textNode("a"), textNode("b"), textNode("c")},
		[]workflow.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	)
}

func TestSubgraph_PinsUpstream(t *testing.T) {
	t.Parallel()
	g := chainGraph()
	g.Nodes["a"].Output = workflow.Output{"text": "hello"}
	g.Nodes["a"].ActionData = workflow.ActionData{"prompt": "write a poem"}
	g.Nodes["b"].ActionData = workflow.ActionData{"prompt": "translate"}

	sub, err := workflow.Subgraph(g, []string{"b"})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}
	if len(sub.Nodes) != 2 {
		t.Fatalf("nodes = %v, want a and b", sub.NodeIDs())
	}
	if !sub.Nodes["a"].Pinned || sub.Nodes["b"].Pinned {
		t.Errorf("pinned a=%v b=%v, want a only", sub.Nodes["a"].Pinned, sub.Nodes["b"].Pinned)
	}
	if diff := cmp.Diff([]workflow.Edge{{Source: "a", Target: "b"}}, sub.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if sub.Nodes["a"].Output["text"] != "hello" {
		t.Error("pinned node lost its output")
	}
	if sub.Nodes["a"].ActionData != nil {
		t.Errorf("pinned node kept action data %v", sub.Nodes["a"].ActionData)
	}
	if sub.Nodes["b"].ActionData["prompt"] != "translate" {
		t.Errorf("selected node action data = %v", sub.Nodes["b"].ActionData)
	}
	if g.Nodes["a"].Pinned || g.Nodes["a"].ActionData["prompt"] != "write a poem" {
		t.Error("Subgraph modified the source graph")
	}
}

func TestSubgraph_ExpandsGroups(t *testing.T) {
	t.Parallel()
	g := workflow.NewGraph([]*workflow.Node{
		{ID: "shots", Type: workflow.NodeTypeGroup, AutoRun: true},
		{ID: "x", Type: workflow.NodeTypeText, AutoRun: true, ParentID: "shots"},
		{ID: "y", Type: workflow.NodeTypeText, AutoRun: true, ParentID: "shots"},
		textNode("z"),
	}, nil)
	sub, err := workflow.Subgraph(g, []string{"shots"})
	if err != nil {
		t.Fatalf("Subgraph: %v", err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, sub.NodeIDs()); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestSubgraph_UnknownNode(t *testing.T) {
	t.Parallel()
	_, err := workflow.Subgraph(chainGraph(), []string{"missing"})
	var unknown *workflow.UnknownNodeError
	if !errors.As(err, &unknown) || unknown.NodeID != "missing" {
		t.Errorf("err = %v, want UnknownNodeError for missing", err)
	}
}

func TestRunSelection_RerunsOnlySelected(t *testing.T) {
	t.Parallel()
	g := chainGraph()
	exec := &galleryExecutor{}
	eng := newEngine(t, g, textReg(exec))

	if res := eng.Run(t.Context(), ""); !res.Success {
		t.Fatalf("run failed: %v", res.Errors)
	}

	res, err := eng.RunSelection(t.Context(), []string{"b"})
	if err != nil {
		t.Fatalf("RunSelection: %v", err)
	}
	if !res.Success {
		t.Fatalf("selection failed: %v", res.Errors)
	}
	if _, ok := res.NodeStates["a"]; ok {
		t.Error("boundary node reported in selection result")
	}

	want := map[string]int{"a": 1, "b": 2, "c": 1}
	for id, n := range want {
		if got := exec.count(id); got != n {
			t.Errorf("%s executed %d times, want %d", id, got, n)
		}
	}

	// The second generation is prepended and selected.
	out := eng.Output("b")
	if diff := cmp.Diff([]any{"b-2.png", "b-1.png"}, out["images"]); diff != "" {
		t.Errorf("gallery mismatch (-want +got):\n%s", diff)
	}
	if out["images_selected"] != "b-2.png" {
		t.Errorf("images_selected = %v, want b-2.png", out["images_selected"])
	}
	if r, _ := eng.Store().Get("a"); r.Status != workflow.StatusCompleted {
		t.Errorf("a = %s, want completed", r.Status)
	}
}

func TestRunSelection_BoundaryNotCompleted(t *testing.T) {
	t.Parallel()
	g := chainGraph()
	exec := &galleryExecutor{}
	eng := newEngine(t, g, textReg(exec))

	// Nothing has run yet; a is pinned and treated as an input provider.
	res, err := eng.RunSelection(t.Context(), []string{"b", "c"})
	if err != nil {
		t.Fatalf("RunSelection: %v", err)
	}
	if !res.Success {
		t.Fatalf("selection failed: %v", res.Errors)
	}
	if exec.count("a") != 0 {
		t.Error("boundary node was executed")
	}
	if exec.count("b") != 1 || exec.count("c") != 1 {
		t.Errorf("b=%d c=%d, want 1 each", exec.count("b"), exec.count("c"))
	}
}

func TestRunSelection_KeepsAutoGating(t *testing.T) {
	t.Parallel()
	g := chainGraph()
	g.Nodes["c"].AutoRun = false
	exec := &galleryExecutor{}
	eng := newEngine(t, g, textReg(exec))

	res, err := eng.RunSelection(t.Context(), []string{"b", "c"})
	if err != nil {
		t.Fatalf("RunSelection: %v", err)
	}
	if got := res.NodeStates["c"].Status; got != workflow.StatusIdle {
		t.Errorf("c = %s, want idle", got)
	}
}
