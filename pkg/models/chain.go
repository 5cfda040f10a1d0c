package models

// PlanRule maps question features onto a chain. Rules are data, loaded at
// startup and live-editable; the planner picks the highest-scoring rule.
type PlanRule struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Scene    Scene    `json:"scene,omitempty" yaml:"scene,omitempty"`
	LoanType string   `json:"loan_type,omitempty" yaml:"loan_type,omitempty"`
	ChainID  string   `json:"chain_id" yaml:"chain_id"`
	Priority int      `json:"priority" yaml:"priority"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// ChainNode is one task template of a chain.
type ChainNode struct {
	TaskID        string   `json:"task_id" yaml:"task_id"`
	Title         string   `json:"title" yaml:"title"`
	AssignedAgent string   `json:"assigned_agent" yaml:"assigned_agent"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Skippable     bool     `json:"skippable,omitempty" yaml:"skippable,omitempty"`
}

// ChainTemplate is a declarative DAG template the planner instantiates
// into a Plan.
type ChainTemplate struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []ChainNode `json:"nodes" yaml:"nodes"`
}

// Edges derives the dependency edges of the template.
func (c *ChainTemplate) Edges() []Edge {
	var edges []Edge
	for _, node := range c.Nodes {
		for _, dep := range node.DependsOn {
			edges = append(edges, Edge{From: dep, To: node.TaskID})
		}
	}
	return edges
}
