// Package planning maps questions onto chain templates via data-driven
// rules and instantiates the winning template into a Plan.
package planning

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// Loan types inferred from question text.
const (
	LoanBusiness = "business"
	LoanConsumer = "consumer"
	LoanMixed    = "mixed"
)

// Request is the planner input.
type Request struct {
	Question string
	Scene    models.Scene
	// LoanType overrides inference when set.
	LoanType string
}

// Planner scores the rule set against a question and instantiates the
// winning chain. Rules and chains live in registries, so operators can
// edit them while the engine runs.
type Planner struct {
	rules  *store.Registry[models.PlanRule]
	chains *store.Registry[models.ChainTemplate]
	log    *slog.Logger
}

// NewPlanner creates the planner over live rule and chain registries.
func NewPlanner(rules *store.Registry[models.PlanRule], chains *store.Registry[models.ChainTemplate]) *Planner {
	return &Planner{rules: rules, chains: chains, log: slog.With("component", "planner")}
}

// Build picks the best-scoring rule's chain and instantiates it. When no
// rule scores, the first enabled rule is used; with no usable rules the
// first chain is taken directly. PLAN_INFEASIBLE when nothing applies.
func (p *Planner) Build(req Request) (models.Plan, error) {
	loanType := req.LoanType
	if loanType == "" {
		loanType = InferLoanType(req.Question)
	}

	rule, score := p.bestRule(req, loanType)
	var chain models.ChainTemplate
	switch {
	case rule != nil:
		c, err := p.chains.Get(rule.ChainID)
		if err != nil {
			return models.Plan{}, enginerr.New(enginerr.KindPlanInfeasible,
				"rule %s references unknown chain %s", rule.ID, rule.ChainID)
		}
		chain = c
	default:
		chains := p.chains.List()
		if len(chains) == 0 {
			return models.Plan{}, enginerr.New(enginerr.KindPlanInfeasible,
				"no planning rules or chains configured")
		}
		chain = chains[0]
	}

	plan := instantiate(chain, req, loanType)
	p.log.Info("Plan built",
		"plan_id", plan.ID,
		"chain_id", chain.ID,
		"score", score,
		"loan_type", loanType,
		"tasks", len(plan.Tasks))
	return plan, nil
}

// bestRule returns the highest-scoring eligible rule. A rule naming a
// scene or loan type it does not match is ineligible outright. Ties
// break by priority, then by registry insertion order (the iteration
// order here, so strict-greater comparisons keep the earlier rule).
func (p *Planner) bestRule(req Request, loanType string) (*models.PlanRule, int) {
	var (
		best      *models.PlanRule
		bestScore int
		firstEn   *models.PlanRule
	)
	for _, rule := range p.rules.List() {
		rule := rule
		if !rule.Enabled {
			continue
		}
		if firstEn == nil {
			firstEn = &rule
		}
		score, ok := scoreRule(rule, req, loanType)
		if !ok || score == 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && rule.Priority > best.Priority) {
			best = &rule
			bestScore = score
		}
	}
	if best != nil {
		return best, bestScore
	}
	return firstEn, 0
}

// scoreRule counts keyword hits plus bonuses for exact scene and loan
// type matches. A declared-but-mismatched scene or loan type
// disqualifies the rule.
func scoreRule(rule models.PlanRule, req Request, loanType string) (int, bool) {
	if rule.Scene != "" && rule.Scene != req.Scene {
		return 0, false
	}
	if rule.LoanType != "" && rule.LoanType != loanType {
		return 0, false
	}

	q := strings.ToLower(req.Question)
	score := 0
	for _, kw := range rule.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(q, kw) {
			score++
		}
	}
	if score == 0 {
		return 0, true
	}
	if rule.Scene != "" {
		score += 2
	}
	if rule.LoanType != "" {
		score += 2
	}
	return score, true
}

func instantiate(chain models.ChainTemplate, req Request, loanType string) models.Plan {
	tasks := make([]models.Task, len(chain.Nodes))
	for i, node := range chain.Nodes {
		tasks[i] = models.Task{
			TaskID:        node.TaskID,
			Title:         node.Title,
			AssignedAgent: node.AssignedAgent,
			DependsOn:     append([]string(nil), node.DependsOn...),
			Skippable:     node.Skippable,
			Status:        models.TaskPending,
		}
	}
	return models.Plan{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Scene:     req.Scene,
		LoanType:  loanType,
		Tasks:     tasks,
		Edges:     chain.Edges(),
		CreatedAt: time.Now().UTC(),
	}
}

// InferLoanType guesses the loan segment from question wording.
func InferLoanType(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(question, "经营贷") || strings.Contains(q, "business"):
		return LoanBusiness
	case strings.Contains(question, "消费贷") || strings.Contains(q, "consumer"):
		return LoanConsumer
	default:
		return LoanMixed
	}
}
