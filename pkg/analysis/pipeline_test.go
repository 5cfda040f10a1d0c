package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/llm"
	"github.com/smartbi/analyst/pkg/memory"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

type fixture struct {
	pipeline    *Pipeline
	adapter     *dbadapter.FakeAdapter
	mock        *llm.MockProvider
	queries     *store.QueryHistory
	corrections *store.CorrectionLog
	ring        *memory.Ring
}

func newFixture(t *testing.T, mock *llm.MockProvider) *fixture {
	t.Helper()

	adapter := dbadapter.NewFakeAdapter("sqlite")
	adapter.Schema = &models.SchemaDescriptor{
		Dialect: "sqlite",
		Tables: []models.Table{{
			Name: "orders",
			Columns: []models.Column{
				{Name: "month", Type: "text"},
				{Name: "amount", Type: "real"},
			},
		}},
	}

	manager := pool.NewManager(pool.DefaultConfig(),
		pool.WithFactory(func(*models.Datasource) (dbadapter.Adapter, error) { return adapter, nil }))
	t.Cleanup(manager.Close)

	datasources := store.NewDatasourceStore()
	require.NoError(t, datasources.Seed([]models.Datasource{
		{ID: "ds1", Name: "sales", Type: models.DatasourceSQLite, IsDefault: true},
	}))

	bindings := []models.LLMBinding{{ID: "primary", Provider: "mock", Model: "test", TimeoutMS: 5_000}}
	registry := llm.NewBindingRegistry(bindings, "primary",
		func(*models.LLMBinding) (llm.Provider, error) { return mock, nil })
	runtime := agent.NewRuntime(registry, nil, nil)

	schemaAgent := agent.NewSchemaAgent(manager, 0)
	t.Cleanup(schemaAgent.Close)

	queries := store.NewQueryHistory(0)
	corrections := store.NewCorrectionLog(0)
	ring := memory.NewRing(100)

	p := NewPipeline(Deps{
		Datasources: datasources,
		Pool:        manager,
		Schema:      schemaAgent,
		SQL:         agent.NewSqlAgent(runtime),
		Visualize:   agent.NewVisualizeAgent(runtime),
		Queries:     queries,
		Corrections: corrections,
		Memory:      ring,
	})
	return &fixture{
		pipeline:    p,
		adapter:     adapter,
		mock:        mock,
		queries:     queries,
		corrections: corrections,
		ring:        ring,
	}
}

func answerReply(sql string) string {
	return fmt.Sprintf(`{"sql": %q, "intent": "answer"}`, sql)
}

func TestAnalyzeHappyPath(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockRule{
		Reply: answerReply("SELECT month, SUM(amount) AS total FROM orders GROUP BY month"),
	})
	f := newFixture(t, mock)
	f.adapter.Responses["SELECT month, SUM(amount) AS total FROM orders GROUP BY month"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "month", Type: "text"}, {Name: "total", Type: "real"}},
		Rows:    [][]any{{"2024-01", 10.0}, {"2024-02", 12.5}},
	}

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "monthly order totals"})
	require.NoError(t, err)

	assert.Equal(t, models.IntentAnswer, result.Intent)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "2 rows", result.Answer)

	recent := f.queries.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, models.QuerySuccess, recent[0].Status)
	assert.Equal(t, "ds1", recent[0].DatasourceID)

	events := f.ring.Recent(1)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAnalysisResult, events[0].EventType)
	assert.Equal(t, "monthly order totals", events[0].UserText)
}

func TestAnalyzeClarificationReturnsEarly(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockRule{
		Reply: `{"intent": "clarification", "clarification": {"question": "Which period?", "options": ["month", "quarter"]}}`,
	})
	f := newFixture(t, mock)

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "show order numbers"})
	require.NoError(t, err)

	assert.Equal(t, models.IntentClarification, result.Intent)
	require.NotNil(t, result.Clarification)
	assert.Equal(t, "Which period?", result.Clarification.Question)
	assert.Empty(t, result.SQL)
	assert.Empty(t, f.adapter.Executed)
	assert.Equal(t, 0, f.queries.Len())
}

func TestAnalyzeGreetingSkipsSQLPath(t *testing.T) {
	mock := llm.NewMockProvider()
	f := newFixture(t, mock)

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "Hello!"})
	require.NoError(t, err)

	assert.Equal(t, models.IntentAnswer, result.Intent)
	assert.NotEmpty(t, result.Answer)
	assert.Empty(t, result.SQL)
	assert.Empty(t, f.adapter.Executed)
	assert.Equal(t, 0, f.queries.Len())
}

func TestConversationalReply(t *testing.T) {
	cases := []struct {
		question string
		want     bool
	}{
		{"hi", true},
		{"Hello there", true},
		{"good morning", true},
		{"help", true},
		{"what can you do", true},
		{"", false},
		{"hello, what is the overdue rate by region this month", false},
		{"show monthly order totals", false},
		{"help me compute RAROC by segment", false},
	}
	for _, tc := range cases {
		_, ok := conversationalReply(tc.question)
		assert.Equal(t, tc.want, ok, "question %q", tc.question)
	}
}

func TestAnalyzeCorrectionLoopRecovers(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Contains: "no such column", Reply: answerReply("SELECT amount FROM orders")},
		llm.MockRule{Reply: answerReply("SELECT amout FROM orders")},
	)
	f := newFixture(t, mock)
	f.adapter.Errors["SELECT amout FROM orders"] =
		enginerr.New(enginerr.KindSQLError, "no such column: amout")
	f.adapter.Responses["SELECT amount FROM orders"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "amount", Type: "real"}},
		Rows:    [][]any{{10.0}},
	}

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "order amounts"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "SELECT amount FROM orders", result.SQL)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no such column")

	trail := f.corrections.Recent(10)
	require.Len(t, trail, 1)
	assert.Equal(t, 1, trail[0].Attempt.Attempt)
	assert.Equal(t, "SELECT amout FROM orders", trail[0].Attempt.SQL)
	assert.Equal(t, "SELECT amount FROM orders", trail[0].Attempt.Corrected)
}

func TestAnalyzeFixedPointStopsLoop(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Reply: answerReply("SELECT amout FROM orders")},
	)
	f := newFixture(t, mock)
	f.adapter.Errors["SELECT amout FROM orders"] =
		enginerr.New(enginerr.KindSQLError, "no such column: amout")

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "order amounts"})
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindSQLError))

	// Partial result survives the failure.
	require.NotNil(t, result)
	assert.Equal(t, "SELECT amout FROM orders", result.SQL)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, f.corrections.Recent(10), 1)
	// One generate call plus one correction; no third round after the
	// agent repeated itself.
	assert.Equal(t, 2, mock.CallCount())
}

func TestAnalyzeExhaustsCorrectionBudget(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Contains: "SELECT step3", Reply: answerReply("SELECT step4 FROM orders")},
		llm.MockRule{Contains: "SELECT step2", Reply: answerReply("SELECT step3 FROM orders")},
		llm.MockRule{Contains: "SELECT step1", Reply: answerReply("SELECT step2 FROM orders")},
		llm.MockRule{Contains: "SELECT step0", Reply: answerReply("SELECT step1 FROM orders")},
		llm.MockRule{Reply: answerReply("SELECT step0 FROM orders")},
	)
	f := newFixture(t, mock)
	f.adapter.FallbackErr = enginerr.New(enginerr.KindSQLError, "syntax error")

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "step sales"})
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindSQLError))

	assert.Equal(t, DefaultMaxCorrectionAttempts+1, result.Attempts)
	assert.Len(t, f.corrections.Recent(10), DefaultMaxCorrectionAttempts)
	assert.Len(t, result.Errors, DefaultMaxCorrectionAttempts+1)
}

func TestAnalyzeWriteRejectedThenCorrected(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Contains: "write statement", Reply: answerReply("SELECT COUNT(*) AS n FROM orders")},
		llm.MockRule{Reply: answerReply("DELETE FROM orders")},
	)
	f := newFixture(t, mock)
	f.adapter.Responses["SELECT COUNT(*) AS n FROM orders"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "n", Type: "integer"}},
		Rows:    [][]any{{42}},
	}

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "purge old orders"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM orders", result.SQL)
	// The rejected DELETE never reached the adapter.
	assert.Equal(t, []string{"SELECT COUNT(*) AS n FROM orders"}, f.adapter.Executed)
}

func TestAnalyzeVisualizes(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Contains: "sample rows", Reply: `{"chart_type": "bar", "spec": {"x": "month", "y": "total"}, "insight": "steady growth"}`},
		llm.MockRule{Reply: `{"sql": "SELECT month, total FROM monthly", "should_visualize": true, "intent": "answer"}`},
	)
	f := newFixture(t, mock)
	f.adapter.Responses["SELECT month, total FROM monthly"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "month", Type: "text"}, {Name: "total", Type: "real"}},
		Rows:    [][]any{{"2024-01", 10.0}},
	}

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "monthly totals"})
	require.NoError(t, err)

	require.NotNil(t, result.Chart)
	assert.Equal(t, agent.ChartBar, result.Chart.ChartType)
	assert.Equal(t, "steady growth", result.Insight)
}

func TestAnalyzeSkipsChartWithoutCategoricalColumn(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockRule{
		Reply: `{"sql": "SELECT COUNT(*) AS n FROM orders", "should_visualize": true, "intent": "answer"}`,
	})
	f := newFixture(t, mock)
	f.adapter.Responses["SELECT COUNT(*) AS n FROM orders"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "n", Type: "integer"}},
		Rows:    [][]any{{7}},
	}

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "how many orders", Visualize: true})
	require.NoError(t, err)
	assert.Nil(t, result.Chart)
	// Only the generate call: no visualize round for an unchartable shape.
	assert.Equal(t, 1, mock.CallCount())
}

func TestAnalyzeNoDatasourceConfigured(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider())
	empty := store.NewDatasourceStore()
	f.pipeline.deps.Datasources = empty

	result, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "anything"})
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindValidation))
	require.NotNil(t, result)
	require.Len(t, result.Errors, 1)
}

func TestAnalyzeRecordsFailedQuery(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockRule{Reply: answerReply("SELECT amout FROM orders")},
	)
	f := newFixture(t, mock)
	f.adapter.FallbackErr = enginerr.New(enginerr.KindSQLError, "no such column: amout")

	_, err := f.pipeline.Analyze(context.Background(),
		models.AnalysisRequest{Question: "order amounts"})
	require.Error(t, err)

	recent := f.queries.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, models.QueryError, recent[0].Status)
	assert.Contains(t, recent[0].Error, "no such column")

	events := f.ring.Recent(1)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].ResultSummary, "failed")
}
