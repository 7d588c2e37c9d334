package workflow

import "strings"

// Stylesheet assigns default models to nodes by selector.
type Stylesheet struct {
	Rules []StyleRule
}

// StyleRule is one `selector { model: "..." }` block.
type StyleRule struct {
	Selector string
	Model    string
}

// ApplyStylesheet sets ActionData["model"] on every node matched by a rule,
// unless the node already names a model of its own. Later rules win over
// earlier ones for the same node. Group nodes are skipped.
func ApplyStylesheet(g *Graph) {
	if g.Stylesheet == nil {
		return
	}
	for _, node := range g.Nodes {
		if node.Type == NodeTypeGroup || node.ActionData["model"] != "" {
			continue
		}
		model := ""
		for _, rule := range g.Stylesheet.Rules {
			if rule.Model != "" && matchesSelector(rule.Selector, node) {
				model = rule.Model
			}
		}
		if model == "" {
			continue
		}
		if node.ActionData == nil {
			node.ActionData = make(ActionData)
		}
		node.ActionData["model"] = model
	}
}

// matchesSelector returns true if the node matches the given selector.
// Supported selectors:
//   - "*"              all nodes
//   - "type[image]"    nodes with type == image
//   - "id[my_node]"    node with id == my_node
//   - "group[shots]"   members of group shots
func matchesSelector(selector string, node *Node) bool {
	selector = strings.TrimSpace(selector)
	if selector == "*" {
		return true
	}
	if want, ok := bracketed(selector, "type"); ok {
		return string(node.Type) == want
	}
	if want, ok := bracketed(selector, "id"); ok {
		return node.ID == want
	}
	if want, ok := bracketed(selector, "group"); ok {
		return node.ParentID == want
	}
	return false
}

func bracketed(selector, kind string) (string, bool) {
	rest, ok := strings.CutPrefix(selector, kind+"[")
	if !ok || !strings.HasSuffix(rest, "]") {
		return "", false
	}
	return rest[:len(rest)-1], true
}
