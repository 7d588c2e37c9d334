package workflow

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Attributes with scheduling meaning; everything else on a node becomes
// ActionData.
const (
	attrType = "type"
	attrAuto = "auto"

	groupPrefix = "cluster"
)

// ParseDOT parses a Graphviz DOT document into a Graph.
//
//	digraph storyboard {
//	    model_stylesheet="type[text] { model: \"openai:gpt-4o\" }"
//	    script [prompt="Write a two-line scene"]
//	    subgraph cluster_shots {
//	        label="Shots"
//	        still [type=image]
//	        voice [type=audio, auto=false]
//	    }
//	    script -> still
//	    script -> voice
//	}
//
// Nodes default to type text with auto-run enabled. Each subgraph whose name
// starts with "cluster" becomes a group node, and nodes first declared inside
// it get that group as ParentID.
func ParseDOT(src string) (*Graph, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// gographviz.Graph rejects attribute names outside the Graphviz set, so
	// collect through a permissive implementation of its Interface instead.
	c := newDOTCollector()
	if err := gographviz.Analyse(graphAst, c); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	g := &Graph{
		Name:  c.name,
		Nodes: make(map[string]*Node, len(c.nodes)+len(c.groups)),
	}

	for _, grp := range c.groups {
		g.Nodes[grp.id] = &Node{
			ID:         grp.id,
			Type:       NodeTypeGroup,
			AutoRun:    true,
			ActionData: ActionData(maps.Clone(c.attrs[grp.id])),
			ParentID:   c.groupParent(grp.parent),
		}
	}

	for _, raw := range c.nodes {
		if _, clash := g.Nodes[raw.id]; clash {
			return nil, fmt.Errorf("node %q: id is already used by a group", raw.id)
		}
		n, err := buildNode(raw.id, raw.attrs)
		if err != nil {
			return nil, err
		}
		n.ParentID = c.groupParent(raw.parent)
		g.Nodes[raw.id] = n
	}

	for _, e := range c.edges {
		g.Edges = append(g.Edges, Edge{Source: e.from, Target: e.to})
	}

	if raw, ok := c.attrs[c.name]["model_stylesheet"]; ok {
		g.Stylesheet = parseStylesheet(raw)
	}
	return g, nil
}

func buildNode(id string, attrs map[string]string) (*Node, error) {
	n := &Node{
		ID:         id,
		Type:       NodeTypeText,
		AutoRun:    true,
		ActionData: make(ActionData, len(attrs)),
	}
	for k, v := range attrs {
		switch k {
		case attrType:
			if v != "" {
				n.Type = NodeType(v)
			}
		case attrAuto:
			auto, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("node %q: invalid auto value %q", id, v)
			}
			n.AutoRun = auto
		default:
			n.ActionData[k] = v
		}
	}
	return n, nil
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawNode struct {
	id     string
	parent string // name of the (sub)graph the node was first declared in
	attrs  map[string]string
}

type rawGroup struct {
	id     string
	parent string
}

type rawEdge struct {
	from, to string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name   string
	nodes  []*rawNode
	index  map[string]*rawNode
	groups []rawGroup
	edges  []rawEdge
	// attrs holds graph-level attributes per (sub)graph name.
	attrs map[string]map[string]string
}

func newDOTCollector() *dotCollector {
	return &dotCollector{
		index: make(map[string]*rawNode),
		attrs: make(map[string]map[string]string),
	}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(parent string, name string, attrs map[string]string) error {
	id := unquote(name)
	n, ok := c.index[id]
	if !ok {
		n = &rawNode{id: id, parent: unquote(parent), attrs: make(map[string]string, len(attrs))}
		c.index[id] = n
		c.nodes = append(c.nodes, n)
	}
	for k, v := range attrs {
		n.attrs[k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{from: unquote(src), to: unquote(dst)})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(parent string, field, value string) error {
	parent = unquote(parent)
	if c.attrs[parent] == nil {
		c.attrs[parent] = make(map[string]string)
	}
	c.attrs[parent][field] = unquote(value)
	return nil
}

func (c *dotCollector) AddSubGraph(parent, name string, _ map[string]string) error {
	id := unquote(name)
	if !strings.HasPrefix(id, groupPrefix) {
		return nil
	}
	for _, g := range c.groups {
		if g.id == id {
			return nil
		}
	}
	c.groups = append(c.groups, rawGroup{id: id, parent: unquote(parent)})
	return nil
}

// groupParent maps a declaring (sub)graph name to a group id, or "" when the
// name is the root graph or a plain subgraph.
func (c *dotCollector) groupParent(name string) string {
	for _, g := range c.groups {
		if g.id == name {
			return name
		}
	}
	return ""
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}

// parseStylesheet parses a simple CSS-like model stylesheet.
// Example: `type[text] { model: "anthropic:claude-sonnet-4-5" }`
func parseStylesheet(src string) *Stylesheet {
	ss := &Stylesheet{}
	for _, part := range strings.Split(strings.TrimSpace(src), "}") {
		part = strings.TrimSpace(part)
		braceIdx := strings.Index(part, "{")
		if braceIdx < 0 {
			continue
		}
		rule := StyleRule{Selector: strings.TrimSpace(part[:braceIdx])}
		for _, line := range strings.Split(part[braceIdx+1:], ";") {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			if strings.TrimSpace(k) == "model" {
				rule.Model = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}
		ss.Rules = append(ss.Rules, rule)
	}
	return ss
}
