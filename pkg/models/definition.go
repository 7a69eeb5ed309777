package models

// Definition is the declarative node/edge graph of a FlowVersion. It is
// persisted as JSON and may also be authored as YAML.
type Definition struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is a single step in a definition graph. PYTHON nodes carry a CodeRef
// resolved through the node registry at dispatch time plus static Args;
// CONDITION nodes carry a boolean expression tree evaluated against the run
// data.
type Node struct {
	ID        string         `json:"id" yaml:"id"`
	Type      NodeType       `json:"type" yaml:"type"`
	CodeRef   string         `json:"code_ref,omitempty" yaml:"code_ref,omitempty"`
	Args      map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Condition *Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Edge connects two nodes. When is only meaningful on edges leaving a
// CONDITION node, where it names the branch ("true" or "false") the edge
// serves.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	When   string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Condition is a tagged-variant boolean expression tree. Leaf variants "var"
// and "const" produce values; "eq", "neq", "gt", "gte", "lt" and "lte"
// compare their two arguments; "and", "or" and "not" combine boolean
// sub-expressions.
type Condition struct {
	Op    string       `json:"op" yaml:"op"`
	Var   string       `json:"var,omitempty" yaml:"var,omitempty"`
	Value any          `json:"value,omitempty" yaml:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty" yaml:"args,omitempty"`
}
