package workflow

import (
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// Plan is an executable form of a definition. Compilation is pure: it never
// touches the store.
type Plan struct {
	// Entry is the id of the node execution starts from. Empty for an empty
	// definition, which compiles to a trivial plan that completes
	// immediately.
	Entry string

	nodes map[string]models.Node
	out   map[string][]models.Edge // outgoing edges in declaration order
}

// Compile validates a definition and produces an executable plan. It fails
// with a ValidationError on a duplicate node id or an edge endpoint that
// references an undeclared node. A definition without a START node is not an
// error: the first declared node becomes the entry point.
func Compile(def models.Definition) (*Plan, error) {
	plan := &Plan{
		nodes: make(map[string]models.Node, len(def.Nodes)),
		out:   map[string][]models.Edge{},
	}

	for _, node := range def.Nodes {
		if node.ID == "" {
			return nil, validationErrorf("node with empty id")
		}
		if _, ok := plan.nodes[node.ID]; ok {
			return nil, validationErrorf("duplicate node id %q", node.ID)
		}
		if node.Type == models.NodeTypeCondition && node.Condition == nil {
			return nil, validationErrorf("condition node %q has no expression", node.ID)
		}
		plan.nodes[node.ID] = node
	}

	for _, edge := range def.Edges {
		if _, ok := plan.nodes[edge.Source]; !ok {
			return nil, validationErrorf("edge source %q is not a declared node", edge.Source)
		}
		if _, ok := plan.nodes[edge.Target]; !ok {
			return nil, validationErrorf("edge target %q is not a declared node", edge.Target)
		}
		plan.out[edge.Source] = append(plan.out[edge.Source], edge)
	}

	for _, node := range def.Nodes {
		if node.Type == models.NodeTypeStart {
			plan.Entry = node.ID
			break
		}
	}
	if plan.Entry == "" && len(def.Nodes) > 0 {
		plan.Entry = def.Nodes[0].ID
	}

	return plan, nil
}

// Node returns the declared node for an id.
func (p *Plan) Node(id string) (models.Node, bool) {
	node, ok := p.nodes[id]
	return node, ok
}

// Next returns the id of the successor to follow from a node. For CONDITION
// nodes branch is "true" or "false" and selects the edge whose When label
// matches; for every other node the first unconditional edge wins. The second
// return value is false when the walk ends here.
func (p *Plan) Next(id, branch string) (string, bool) {
	for _, edge := range p.out[id] {
		if branch == "" {
			if edge.When == "" {
				return edge.Target, true
			}
			continue
		}
		if edge.When == branch {
			return edge.Target, true
		}
	}
	return "", false
}
