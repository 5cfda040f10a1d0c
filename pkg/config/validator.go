package config

import (
	"fmt"

	"github.com/smartbi/analyst/pkg/models"
)

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateDatasources()
	v.validateLLMBindings()
	v.validateAgentProfiles()
	v.validateScenes()
	v.validateChains()
	v.validatePlanRules()
	v.validateMonitorRules()
	v.validateNotifications()
	return v.result()
}

type validator struct {
	cfg  *Config
	errs []error
}

func (v *validator) add(err error) {
	v.errs = append(v.errs, err)
}

func (v *validator) result() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d error(s), first: %v", ErrValidationFailed, len(v.errs), v.errs[0])
}

var validDatasourceTypes = map[models.DatasourceType]bool{
	models.DatasourcePostgres:   true,
	models.DatasourceMySQL:      true,
	models.DatasourceMSSQL:      true,
	models.DatasourceClickHouse: true,
	models.DatasourceDuckDB:     true,
	models.DatasourceSQLite:     true,
	models.DatasourceSnowflake:  true,
	models.DatasourceBigQuery:   true,
	models.DatasourceTrino:      true,
}

var validScenes = map[models.Scene]bool{
	models.SceneDashboard:   true,
	models.SceneDataDiscuss: true,
	models.SceneLoanOps:     true,
	models.SceneMarketWatch: true,
}

var validOperators = map[models.RuleOperator]bool{
	models.OpGreater:      true,
	models.OpGreaterEqual: true,
	models.OpLess:         true,
	models.OpLessEqual:    true,
	models.OpEqual:        true,
}

func (v *validator) validateDatasources() {
	seenID := make(map[string]bool)
	seenName := make(map[string]bool)
	defaults := 0
	for _, ds := range v.cfg.Datasources {
		if ds.ID == "" {
			v.add(NewValidationError("datasource", ds.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seenID[ds.ID] {
			v.add(NewValidationError("datasource", ds.ID, "id", ErrDuplicateID))
		}
		seenID[ds.ID] = true
		if ds.Name == "" {
			v.add(NewValidationError("datasource", ds.ID, "name", ErrMissingRequiredField))
		} else if seenName[ds.Name] {
			v.add(NewValidationError("datasource", ds.ID, "name", ErrDuplicateID))
		}
		seenName[ds.Name] = true
		if !validDatasourceTypes[ds.Type] {
			v.add(NewValidationError("datasource", ds.ID, "type", ErrInvalidValue))
		}
		if ds.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		v.add(NewValidationError("datasource", "", "is_default",
			fmt.Errorf("%w: at most one datasource may be the default, got %d", ErrInvalidValue, defaults)))
	}
}

func (v *validator) validateLLMBindings() {
	seen := make(map[string]bool)
	for _, b := range v.cfg.LLMBindings {
		if b.ID == "" {
			v.add(NewValidationError("llm_binding", b.Model, "id", ErrMissingRequiredField))
			continue
		}
		if seen[b.ID] {
			v.add(NewValidationError("llm_binding", b.ID, "id", ErrDuplicateID))
		}
		seen[b.ID] = true
		if b.Provider == "" {
			v.add(NewValidationError("llm_binding", b.ID, "provider", ErrMissingRequiredField))
		}
		if b.Model == "" {
			v.add(NewValidationError("llm_binding", b.ID, "model", ErrMissingRequiredField))
		}
	}
	if v.cfg.DefaultLLM != "" && !seen[v.cfg.DefaultLLM] {
		v.add(NewValidationError("llm_binding", v.cfg.DefaultLLM, "default_llm_binding", ErrInvalidReference))
	}
}

func (v *validator) validateAgentProfiles() {
	bindings := v.bindingIDs()
	seen := make(map[string]bool)
	for _, p := range v.cfg.AgentProfiles {
		if p.ID == "" {
			v.add(NewValidationError("agent_profile", p.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seen[p.ID] {
			v.add(NewValidationError("agent_profile", p.ID, "id", ErrDuplicateID))
		}
		seen[p.ID] = true
		if p.LLMBindingID != "" && !bindings[p.LLMBindingID] {
			v.add(NewValidationError("agent_profile", p.ID, "llm_binding_id", ErrInvalidReference))
		}
	}
}

func (v *validator) validateScenes() {
	bindings := v.bindingIDs()
	for scene, d := range v.cfg.Scenes {
		if !validScenes[scene] {
			v.add(NewValidationError("scene", string(scene), "", ErrInvalidValue))
		}
		if d.LLMBindingID != "" && !bindings[d.LLMBindingID] {
			v.add(NewValidationError("scene", string(scene), "llm_binding_id", ErrInvalidReference))
		}
	}
}

func (v *validator) validateChains() {
	seen := make(map[string]bool)
	for i := range v.cfg.Chains {
		chain := &v.cfg.Chains[i]
		if chain.ID == "" {
			v.add(NewValidationError("chain", chain.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seen[chain.ID] {
			v.add(NewValidationError("chain", chain.ID, "id", ErrDuplicateID))
		}
		seen[chain.ID] = true
		v.validateChainNodes(chain)
	}
}

// validateChainNodes checks node uniqueness, dependency references, and
// acyclicity of one chain template.
func (v *validator) validateChainNodes(chain *models.ChainTemplate) {
	if len(chain.Nodes) == 0 {
		v.add(NewValidationError("chain", chain.ID, "nodes", ErrMissingRequiredField))
		return
	}
	nodes := make(map[string]bool, len(chain.Nodes))
	for _, n := range chain.Nodes {
		if n.TaskID == "" {
			v.add(NewValidationError("chain", chain.ID, "task_id", ErrMissingRequiredField))
			continue
		}
		if nodes[n.TaskID] {
			v.add(NewValidationError("chain", chain.ID, "task_id",
				fmt.Errorf("%w: %s", ErrDuplicateID, n.TaskID)))
		}
		nodes[n.TaskID] = true
		if n.AssignedAgent == "" {
			v.add(NewValidationError("chain", chain.ID, "assigned_agent",
				fmt.Errorf("%w: node %s", ErrMissingRequiredField, n.TaskID)))
		}
	}
	for _, n := range chain.Nodes {
		for _, dep := range n.DependsOn {
			if !nodes[dep] {
				v.add(NewValidationError("chain", chain.ID, "depends_on",
					fmt.Errorf("%w: node %s depends on unknown node %s", ErrInvalidReference, n.TaskID, dep)))
			}
		}
	}
	if cyclic(chain) {
		v.add(NewValidationError("chain", chain.ID, "nodes",
			fmt.Errorf("%w: dependency cycle", ErrInvalidValue)))
	}
}

// cyclic reports whether the chain's dependency graph has a cycle, via
// iterative three-color DFS.
func cyclic(chain *models.ChainTemplate) bool {
	deps := make(map[string][]string, len(chain.Nodes))
	for _, n := range chain.Nodes {
		deps[n.TaskID] = n.DependsOn
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range deps {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

func (v *validator) validatePlanRules() {
	chains := make(map[string]bool, len(v.cfg.Chains))
	for _, c := range v.cfg.Chains {
		chains[c.ID] = true
	}
	seen := make(map[string]bool)
	for _, r := range v.cfg.PlanRules {
		if r.ID == "" {
			v.add(NewValidationError("plan_rule", r.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seen[r.ID] {
			v.add(NewValidationError("plan_rule", r.ID, "id", ErrDuplicateID))
		}
		seen[r.ID] = true
		if r.ChainID == "" {
			v.add(NewValidationError("plan_rule", r.ID, "chain_id", ErrMissingRequiredField))
		} else if !chains[r.ChainID] {
			v.add(NewValidationError("plan_rule", r.ID, "chain_id", ErrInvalidReference))
		}
		if r.Scene != "" && !validScenes[r.Scene] {
			v.add(NewValidationError("plan_rule", r.ID, "scene", ErrInvalidValue))
		}
	}
}

func (v *validator) validateMonitorRules() {
	seen := make(map[string]bool)
	for _, r := range v.cfg.MonitorRules {
		if r.ID == "" {
			v.add(NewValidationError("monitor_rule", r.Name, "id", ErrMissingRequiredField))
			continue
		}
		if seen[r.ID] {
			v.add(NewValidationError("monitor_rule", r.ID, "id", ErrDuplicateID))
		}
		seen[r.ID] = true
		if r.MetricKey == "" {
			v.add(NewValidationError("monitor_rule", r.ID, "metric_key", ErrMissingRequiredField))
		}
		if !validOperators[r.Operator] {
			v.add(NewValidationError("monitor_rule", r.ID, "operator", ErrInvalidValue))
		}
	}
}

func (v *validator) validateNotifications() {
	if v.cfg.Email.Enabled {
		if v.cfg.Email.SMTPHost == "" {
			v.add(NewValidationError("email", "", "smtp_host", ErrMissingRequiredField))
		}
		if v.cfg.Email.From == "" {
			v.add(NewValidationError("email", "", "from", ErrMissingRequiredField))
		}
		if len(v.cfg.Email.To) == 0 {
			v.add(NewValidationError("email", "", "to", ErrMissingRequiredField))
		}
	}
	if v.cfg.Slack.Enabled && v.cfg.Slack.Channel == "" {
		v.add(NewValidationError("slack", "", "channel", ErrMissingRequiredField))
	}
}

func (v *validator) bindingIDs() map[string]bool {
	ids := make(map[string]bool, len(v.cfg.LLMBindings))
	for _, b := range v.cfg.LLMBindings {
		ids[b.ID] = true
	}
	return ids
}
