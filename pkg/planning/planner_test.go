package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

func ruleRegistry(t *testing.T, rules ...models.PlanRule) *store.Registry[models.PlanRule] {
	t.Helper()
	reg := store.NewRegistry("plan_rule", func(r models.PlanRule) string { return r.ID })
	require.NoError(t, reg.Seed(rules))
	return reg
}

func chainRegistry(t *testing.T, chains ...models.ChainTemplate) *store.Registry[models.ChainTemplate] {
	t.Helper()
	reg := store.NewRegistry("chain", func(c models.ChainTemplate) string { return c.ID })
	require.NoError(t, reg.Seed(chains))
	return reg
}

var riskChain = models.ChainTemplate{
	ID:   "risk_review",
	Name: "Risk review",
	Nodes: []models.ChainNode{
		{TaskID: "metrics", Title: "Break down metrics", AssignedAgent: "analyst"},
		{TaskID: "risk", Title: "Assess risk", AssignedAgent: "risk", DependsOn: []string{"metrics"}},
		{TaskID: "advice", Title: "Draft advice", AssignedAgent: "strategist", DependsOn: []string{"risk"}, Skippable: true},
	},
}

var basicChain = models.ChainTemplate{
	ID:    "basic",
	Name:  "Basic analysis",
	Nodes: []models.ChainNode{{TaskID: "answer", Title: "Answer", AssignedAgent: "analyst"}},
}

func TestBuildPicksKeywordMatch(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_basic", Keywords: []string{"count"}, ChainID: "basic", Enabled: true},
			models.PlanRule{ID: "r_risk", Keywords: []string{"risk", "overdue"}, ChainID: "risk_review", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)

	plan, err := p.Build(Request{Question: "overdue risk by region", Scene: models.SceneLoanOps})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, "metrics", plan.Tasks[0].TaskID)
	assert.Equal(t, models.TaskPending, plan.Tasks[0].Status)
	assert.Equal(t, []models.Edge{
		{From: "metrics", To: "risk"},
		{From: "risk", To: "advice"},
	}, plan.Edges)
	assert.Equal(t, models.SceneLoanOps, plan.Scene)
	assert.NotEmpty(t, plan.ID)
}

func TestBuildSceneMismatchDisqualifies(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_dash", Keywords: []string{"risk"}, Scene: models.SceneDashboard, ChainID: "risk_review", Enabled: true},
			models.PlanRule{ID: "r_any", Keywords: []string{"risk"}, ChainID: "basic", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)

	plan, err := p.Build(Request{Question: "risk summary", Scene: models.SceneLoanOps})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)
}

func TestBuildSceneBonusWins(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_any", Keywords: []string{"risk"}, ChainID: "basic", Enabled: true},
			models.PlanRule{ID: "r_scene", Keywords: []string{"risk"}, Scene: models.SceneLoanOps, ChainID: "risk_review", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)

	plan, err := p.Build(Request{Question: "risk summary", Scene: models.SceneLoanOps})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)
}

func TestBuildTieBreaksByPriorityThenOrder(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_low", Keywords: []string{"trend"}, Priority: 1, ChainID: "basic", Enabled: true},
			models.PlanRule{ID: "r_high", Keywords: []string{"trend"}, Priority: 5, ChainID: "risk_review", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)
	plan, err := p.Build(Request{Question: "trend please"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)

	// Equal priority: first-inserted rule wins.
	p = NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_first", Keywords: []string{"trend"}, Priority: 5, ChainID: "basic", Enabled: true},
			models.PlanRule{ID: "r_second", Keywords: []string{"trend"}, Priority: 5, ChainID: "risk_review", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)
	plan, err = p.Build(Request{Question: "trend please"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)
}

func TestBuildFallsBackToFirstEnabledRule(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_off", Keywords: []string{"nothing"}, ChainID: "risk_review", Enabled: false},
			models.PlanRule{ID: "r_on", Keywords: []string{"nothing"}, ChainID: "basic", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)

	plan, err := p.Build(Request{Question: "completely unrelated"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)
}

func TestBuildNoRulesUsesFirstChain(t *testing.T) {
	p := NewPlanner(ruleRegistry(t), chainRegistry(t, riskChain, basicChain))
	plan, err := p.Build(Request{Question: "anything"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)
}

func TestBuildInfeasible(t *testing.T) {
	p := NewPlanner(ruleRegistry(t), chainRegistry(t))
	_, err := p.Build(Request{Question: "anything"})
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindPlanInfeasible))
}

func TestBuildDanglingChainReference(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t, models.PlanRule{ID: "r", Keywords: []string{"risk"}, ChainID: "missing", Enabled: true}),
		chainRegistry(t, basicChain),
	)
	_, err := p.Build(Request{Question: "risk report"})
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindPlanInfeasible))
}

func TestBuildLiveRuleEdit(t *testing.T) {
	rules := ruleRegistry(t,
		models.PlanRule{ID: "r", Keywords: []string{"risk"}, ChainID: "basic", Enabled: true})
	p := NewPlanner(rules, chainRegistry(t, basicChain, riskChain))

	plan, err := p.Build(Request{Question: "risk report"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)

	require.NoError(t, rules.Put(models.PlanRule{
		ID: "r", Keywords: []string{"risk"}, ChainID: "risk_review", Enabled: true}))
	plan, err = p.Build(Request{Question: "risk report"})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)
}

func TestInferLoanType(t *testing.T) {
	assert.Equal(t, LoanBusiness, InferLoanType("经营贷余额趋势"))
	assert.Equal(t, LoanBusiness, InferLoanType("Business loan balances"))
	assert.Equal(t, LoanConsumer, InferLoanType("消费贷逾期率"))
	assert.Equal(t, LoanConsumer, InferLoanType("consumer overdue rate"))
	assert.Equal(t, LoanMixed, InferLoanType("overall portfolio"))
}

func TestBuildLoanTypeMatch(t *testing.T) {
	p := NewPlanner(
		ruleRegistry(t,
			models.PlanRule{ID: "r_any", Keywords: []string{"overdue"}, ChainID: "basic", Enabled: true},
			models.PlanRule{ID: "r_biz", Keywords: []string{"overdue"}, LoanType: LoanBusiness, ChainID: "risk_review", Enabled: true},
		),
		chainRegistry(t, basicChain, riskChain),
	)

	plan, err := p.Build(Request{Question: "business loans overdue"})
	require.NoError(t, err)
	assert.Equal(t, LoanBusiness, plan.LoanType)
	assert.Len(t, plan.Tasks, 3)

	plan, err = p.Build(Request{Question: "consumer loans overdue"})
	require.NoError(t, err)
	assert.Equal(t, LoanConsumer, plan.LoanType)
	assert.Len(t, plan.Tasks, 1)
}
