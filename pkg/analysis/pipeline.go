// Package analysis orchestrates the question-to-answer pipeline: schema
// resolution, SQL drafting, validation, pooled execution, the bounded
// correction loop, and optional visualization.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/memory"
	"github.com/smartbi/analyst/pkg/metrics"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// Pipeline bounds.
const (
	DefaultMaxCorrectionAttempts = 3
	DefaultEndToEndTimeout       = 2 * time.Minute

	memoryContextSize = 5
)

// Deps wires the pipeline's collaborators. SceneDefaults, timeouts and
// the correction cap fall back to built-in values when zero.
type Deps struct {
	Datasources *store.DatasourceStore
	Pool        *pool.Manager
	Schema      *agent.SchemaAgent
	SQL         *agent.SqlAgent
	Visualize   *agent.VisualizeAgent

	Queries     *store.QueryHistory
	Corrections *store.CorrectionLog
	Memory      *memory.Ring
	Chat        *store.ChatHistory

	SceneDefaults         func(models.Scene) models.SceneDefaults
	MaxCorrectionAttempts int
	EndToEndTimeout       time.Duration
}

// Pipeline is the analysis orchestrator. Safe for concurrent use;
// requests share nothing beyond the injected stores and pool.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

// NewPipeline creates the pipeline.
func NewPipeline(deps Deps) *Pipeline {
	if deps.MaxCorrectionAttempts <= 0 {
		deps.MaxCorrectionAttempts = DefaultMaxCorrectionAttempts
	}
	if deps.EndToEndTimeout <= 0 {
		deps.EndToEndTimeout = DefaultEndToEndTimeout
	}
	if deps.SceneDefaults == nil {
		deps.SceneDefaults = func(models.Scene) models.SceneDefaults {
			return models.SceneDefaults{QueryTimeoutMS: 30_000, MaxRows: 1_000, ReadOnly: true}
		}
	}
	return &Pipeline{deps: deps, log: slog.With("component", "analysis")}
}

// Analyze runs one question end to end. On failure the returned result
// still carries the last SQL, the attempt count and the error chain, so
// the correction trail stays inspectable alongside the error.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, p.deps.EndToEndTimeout)
	defer cancel()

	result := &models.AnalysisResult{}
	finish := func(err error) (*models.AnalysisResult, error) {
		result.DurationMS = time.Since(start).Milliseconds()
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metrics.AnalysisRequests.WithLabelValues(outcome).Inc()
		p.recordChat(req, result, err)
		return result, err
	}

	if reply, ok := conversationalReply(req.Question); ok {
		result.Intent = models.IntentAnswer
		result.Answer = reply
		return finish(nil)
	}

	ds, err := p.resolveDatasource(req.DatasourceID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return finish(err)
	}
	defaults := p.deps.SceneDefaults(req.Scene)

	schema, err := p.deps.Schema.Descriptor(ctx, &ds, req.Question)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return finish(err)
	}

	dialect := schema.Dialect
	if dialect == "" {
		dialect = string(ds.Type)
	}
	sqlReq := agent.SQLRequest{
		Question:      req.Question,
		Schema:        schema,
		Dialect:       dialect,
		MemoryContext: p.memoryContext(req),
		ProfileID:     req.AgentProfileID,
		BindingID:     bindingFor(req, defaults),
		ExecutionID:   requestID,
	}

	draft, err := p.deps.SQL.Generate(ctx, sqlReq)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return finish(err)
	}
	if draft.Intent == models.IntentClarification {
		result.Intent = models.IntentClarification
		result.Clarification = draft.Clarification
		return finish(nil)
	}

	result.Intent = models.IntentAnswer
	queryResult, finalSQL, attempts, errs, execErr :=
		p.runWithCorrections(ctx, sqlReq, ds, defaults, draft.SQL, requestID)
	result.SQL = finalSQL
	result.Attempts = attempts
	result.Errors = errs

	if execErr != nil {
		p.recordQuery(ds.ID, finalSQL, start, nil, execErr)
		p.remember(req, finalSQL, requestID, attempts, "failed: "+execErr.Error())
		return finish(execErr)
	}

	result.Columns = queryResult.Columns
	result.Rows = queryResult.Rows
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	result.RowCount = queryResult.RowCount
	result.Truncated = queryResult.Truncated
	result.Answer = summarize(queryResult)

	p.recordQuery(ds.ID, finalSQL, start, queryResult, nil)
	p.deps.Datasources.TouchLastUsed(ds.ID)

	if (req.Visualize || draft.ShouldVisualize) && agent.Chartable(result.Columns) {
		chart, insight, _ := p.deps.Visualize.Visualize(ctx, agent.VisualizeRequest{
			Question:    req.Question,
			Columns:     result.Columns,
			Rows:        result.Rows,
			ProfileID:   req.AgentProfileID,
			BindingID:   sqlReq.BindingID,
			ExecutionID: requestID,
		})
		result.Chart = chart
		result.Insight = insight
	}

	p.remember(req, finalSQL, requestID, attempts, result.Answer)
	return finish(nil)
}

// runWithCorrections executes the draft and, on correctable failures,
// loops through SqlAgent repairs. It returns the executed (or last
// attempted) SQL, the number of execution attempts, and every error
// gathered along the way.
func (p *Pipeline) runWithCorrections(
	ctx context.Context,
	sqlReq agent.SQLRequest,
	ds models.Datasource,
	defaults models.SceneDefaults,
	firstSQL, requestID string,
) (*models.QueryResult, string, int, []string, error) {
	sqlText := strings.TrimSpace(firstSQL)
	var errs []string
	attempts := 0

	for {
		attempts++
		res, err := p.execute(ctx, ds, sqlText, defaults)
		if err == nil {
			return res, sqlText, attempts, errs, nil
		}
		errs = append(errs, err.Error())

		if !correctable(err) || attempts > p.deps.MaxCorrectionAttempts {
			return nil, sqlText, attempts, errs, err
		}

		metrics.CorrectionAttempts.Inc()
		draft, cerr := p.deps.SQL.Correct(ctx, sqlReq, sqlText, err.Error())
		if cerr != nil {
			errs = append(errs, cerr.Error())
			return nil, sqlText, attempts, errs, err
		}
		corrected := strings.TrimSpace(draft.SQL)

		if p.deps.Corrections != nil {
			p.deps.Corrections.Append(store.CorrectionRecord{
				RequestID:    requestID,
				DatasourceID: ds.ID,
				Question:     sqlReq.Question,
				Attempt: models.CorrectionAttempt{
					Attempt:     attempts,
					SQL:         sqlText,
					EngineError: err.Error(),
					Corrected:   corrected,
					At:          time.Now().UTC(),
				},
			})
		}

		// Fixed point: the agent returned the same statement, so another
		// round cannot succeed either.
		if corrected == sqlText || corrected == "" {
			p.log.Warn("Correction loop reached a fixed point",
				"request_id", requestID, "attempts", attempts)
			return nil, sqlText, attempts, errs, err
		}
		sqlText = corrected
	}
}

// execute validates one statement and runs it on a pooled connection.
func (p *Pipeline) execute(ctx context.Context, ds models.Datasource, sqlText string, defaults models.SceneDefaults) (*models.QueryResult, error) {
	if err := agent.CheckSQL(sqlText, defaults.ReadOnly); err != nil {
		return nil, err
	}

	lease, err := p.deps.Pool.Acquire(ctx, &ds)
	if err != nil {
		return nil, err
	}
	res, err := lease.Adapter().Execute(ctx, sqlText, dbadapter.ExecOptions{
		Timeout: defaults.QueryTimeout(),
		MaxRows: defaults.MaxRows,
	})
	if err != nil {
		if enginerr.Is(err, enginerr.KindDBTransient) {
			lease.Discard()
		} else {
			lease.Release()
		}
		return nil, err
	}
	lease.Release()
	return res, nil
}

func (p *Pipeline) resolveDatasource(id string) (models.Datasource, error) {
	if id != "" {
		return p.deps.Datasources.Get(id)
	}
	ds, err := p.deps.Datasources.Default()
	if err != nil {
		return models.Datasource{}, enginerr.New(enginerr.KindValidation,
			"no datasource specified and no default configured")
	}
	return ds, nil
}

func (p *Pipeline) memoryContext(req models.AnalysisRequest) []models.MemoryEvent {
	if p.deps.Memory == nil {
		return nil
	}
	return p.deps.Memory.Search(req.Question, req.Scene, memoryContextSize)
}

func (p *Pipeline) recordQuery(dsID, sqlText string, start time.Time, res *models.QueryResult, execErr error) {
	if p.deps.Queries == nil {
		return
	}
	rec := models.QueryRecord{
		ID:           uuid.NewString(),
		DatasourceID: dsID,
		SQL:          sqlText,
		ExecutedAt:   start.UTC(),
		DurationMS:   time.Since(start).Milliseconds(),
		Status:       models.QuerySuccess,
	}
	if res != nil {
		rec.RowCount = res.RowCount
	}
	if execErr != nil {
		rec.Status = models.QueryError
		rec.Error = execErr.Error()
	}
	p.deps.Queries.Append(rec)
}

// recordChat appends the user turn and the engine's reply to the
// session transcript. One-shot requests carry no session and skip it.
func (p *Pipeline) recordChat(req models.AnalysisRequest, result *models.AnalysisResult, err error) {
	if p.deps.Chat == nil || req.SessionID == "" {
		return
	}
	p.deps.Chat.Append(req.SessionID, models.AgentMessage{
		Role:    models.RoleUser,
		Content: req.Question,
	})

	reply := models.AgentMessage{Role: models.RoleAssistant, Intent: result.Intent}
	switch {
	case err != nil:
		reply.Intent = models.IntentError
		reply.Content = err.Error()
	case result.Intent == models.IntentClarification && result.Clarification != nil:
		reply.Content = result.Clarification.Question
		reply.Data = result.Clarification
	default:
		reply.Content = result.Answer
	}
	p.deps.Chat.Append(req.SessionID, reply)
}

func (p *Pipeline) remember(req models.AnalysisRequest, sqlText, requestID string, attempts int, summary string) {
	if p.deps.Memory == nil {
		return
	}
	p.deps.Memory.Append(models.MemoryEvent{
		EventType:     models.EventAnalysisResult,
		Scene:         req.Scene,
		UserText:      req.Question,
		SQL:           sqlText,
		ResultSummary: summary,
		Metadata:      map[string]any{"request_id": requestID, "attempts": attempts},
	})
}

// correctable reports whether the correction loop may repair the error:
// engine-rejected SQL and pre-check failures, nothing else.
func correctable(err error) bool {
	return enginerr.Is(err, enginerr.KindSQLError) || enginerr.Is(err, enginerr.KindValidation)
}

func bindingFor(req models.AnalysisRequest, defaults models.SceneDefaults) string {
	if req.LLMBindingID != "" {
		return req.LLMBindingID
	}
	return defaults.LLMBindingID
}

func summarize(res *models.QueryResult) string {
	if res.Truncated {
		return fmt.Sprintf("%d rows (truncated)", res.RowCount)
	}
	switch res.RowCount {
	case 1:
		return "1 row"
	default:
		return fmt.Sprintf("%d rows", res.RowCount)
	}
}
