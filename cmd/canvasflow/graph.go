package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <canvas.dot>",
		Short: "Print a human-readable summary of a canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			return renderGraph(cmd.OutOrStdout(), g, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

func renderGraph(w io.Writer, g *workflow.Graph, format string) error {
	switch strings.ToLower(format) {
	case "dot":
		_, err := io.WriteString(w, renderDOT(g))
		return err
	case "text", "":
		_, err := io.WriteString(w, renderText(g))
		return err
	default:
		return fmt.Errorf("unknown format %q: use text or dot", format)
	}
}

// executionOrder returns node IDs in dependency order, entry nodes first.
// Nodes on a cycle are appended in sorted order at the end.
func executionOrder(g *workflow.Graph) []string {
	deps := workflow.BuildDependencies(g.Nodes, g.Edges, slog.New(slog.DiscardHandler))
	remaining := make(map[string]int, len(deps))
	for id, ups := range deps {
		remaining[id] = len(ups)
	}

	var order []string
	queue := deps.EntryNodes()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		delete(remaining, cur)
		for _, down := range deps.Dependents(cur) {
			remaining[down]--
			if remaining[down] == 0 {
				queue = append(queue, down)
			}
		}
	}

	rest := make([]string, 0, len(remaining))
	for id := range remaining {
		rest = append(rest, id)
	}
	slices.Sort(rest)
	return append(order, rest...)
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

func sortedAttrs(data workflow.ActionData, quote func(string) string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quote(data[k]))
	}
	return parts
}

// renderText produces the human-readable text summary.
func renderText(g *workflow.Graph) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Canvas: %s  (%d nodes, %d edges)\n", g.Name, len(g.Nodes), len(g.Edges))

	maxIDLen := 4 // minimum "node"
	for id := range g.Nodes {
		maxIDLen = max(maxIDLen, len(id))
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range executionOrder(g) {
		n := g.Nodes[id]
		flags := ""
		if !n.AutoRun {
			flags = " (manual)"
		}
		if n.ParentID != "" {
			flags += " in " + n.ParentID
		}
		attrs := sortedAttrs(n.ActionData, func(v string) string { return truncate(v, 60) })
		fmt.Fprintf(&sb, "  %-*s  %-6s%s  %s\n", maxIDLen, id, string(n.Type), flags, strings.Join(attrs, " "))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range g.Edges {
		maxFromLen = max(maxFromLen, len(e.Source))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, e.Source, e.Target)
	}

	return sb.String()
}

var dotKeywords = map[string]bool{
	"node": true, "edge": true, "graph": true, "digraph": true, "subgraph": true, "strict": true,
}

// dotQuote returns s unchanged when it is a plain DOT identifier and as a
// quoted string otherwise.
func dotQuote(s string) string {
	if isDOTIdent(s) && !dotKeywords[strings.ToLower(s)] {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func isDOTIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func nodeLine(n *workflow.Node, indent string) string {
	parts := []string{"type=" + dotQuote(string(n.Type))}
	if !n.AutoRun {
		parts = append(parts, "auto=false")
	}
	parts = append(parts, sortedAttrs(n.ActionData, dotQuote)...)
	return fmt.Sprintf("%s%s [%s]\n", indent, dotQuote(n.ID), strings.Join(parts, " "))
}

// renderDOT produces a canonical DOT digraph that ParseDOT reads back into
// the same graph. Groups become cluster subgraphs holding their members.
func renderDOT(g *workflow.Graph) string {
	var sb strings.Builder

	name := g.Name
	if name == "" {
		name = "canvas"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))
	writeMembers(&sb, g, "", "    ")
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %s -> %s\n", dotQuote(e.Source), dotQuote(e.Target))
	}
	fmt.Fprintf(&sb, "}\n")
	return sb.String()
}

func writeMembers(sb *strings.Builder, g *workflow.Graph, parent, indent string) {
	for _, id := range g.Members(parent) {
		n := g.Nodes[id]
		if n.Type != workflow.NodeTypeGroup {
			sb.WriteString(nodeLine(n, indent))
			continue
		}
		fmt.Fprintf(sb, "%ssubgraph %s {\n", indent, dotQuote(n.ID))
		for _, attr := range sortedAttrs(n.ActionData, dotQuote) {
			fmt.Fprintf(sb, "%s    %s\n", indent, attr)
		}
		writeMembers(sb, g, n.ID, indent+"    ")
		fmt.Fprintf(sb, "%s}\n", indent)
	}
}
