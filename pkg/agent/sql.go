package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smartbi/analyst/pkg/llm"
	"github.com/smartbi/analyst/pkg/models"
)

// MaxClarificationOptions caps the options of a clarification reply.
const MaxClarificationOptions = 4

// SQLRequest is the SqlAgent input.
type SQLRequest struct {
	Question      string
	Schema        models.SchemaDescriptor
	Dialect       string
	History       []models.AgentMessage
	MemoryContext []models.MemoryEvent

	ProfileID   string
	BindingID   string
	ExecutionID string
}

// SQLDraft is the SqlAgent output: either a statement to run or a
// clarification to surface.
type SQLDraft struct {
	SQL             string
	ShouldVisualize bool
	Intent          models.Intent
	Clarification   *models.Clarification
}

const sqlSystemPrompt = `You are a senior data analyst writing SQL.
Reply with a single JSON object, no prose, shaped as:
{"sql": "...", "should_visualize": true|false, "intent": "answer"}
or, when the question is too vague to answer:
{"intent": "clarification", "clarification": {"question": "...", "options": ["...", "..."]}}
Rules: one statement only, {dialect} dialect, read-only unless told otherwise.`

const correctionInstruction = `The previous statement failed. Fix it and reply in the same JSON shape.
Previous SQL:
{previous_sql}
Engine error:
{engine_error}`

// SqlAgent turns questions into dialect-checked SQL drafts via the
// runtime, and repairs failed statements in the correction loop.
type SqlAgent struct {
	runtime *Runtime
	log     *slog.Logger
}

// NewSqlAgent creates the agent.
func NewSqlAgent(runtime *Runtime) *SqlAgent {
	return &SqlAgent{runtime: runtime, log: slog.With("component", "sql_agent")}
}

// Generate produces the first SQL draft for a question. Under-specified
// questions short-circuit to a clarification without a provider call.
func (a *SqlAgent) Generate(ctx context.Context, req SQLRequest) (SQLDraft, error) {
	if clarification := underSpecified(req.Question); clarification != nil {
		return SQLDraft{Intent: models.IntentClarification, Clarification: clarification}, nil
	}
	return a.invoke(ctx, req, "sql_generate", a.userPrompt(req, ""))
}

// Correct asks for a repaired statement after an engine error.
func (a *SqlAgent) Correct(ctx context.Context, req SQLRequest, previousSQL, engineError string) (SQLDraft, error) {
	correction := substitute(correctionInstruction, map[string]string{
		"previous_sql": previousSQL,
		"engine_error": engineError,
	})
	return a.invoke(ctx, req, "sql_correct", a.userPrompt(req, correction))
}

func (a *SqlAgent) invoke(ctx context.Context, req SQLRequest, step, user string) (SQLDraft, error) {
	msg, err := a.runtime.Invoke(ctx, InvokeRequest{
		ProfileID:   req.ProfileID,
		BindingID:   req.BindingID,
		ExecutionID: req.ExecutionID,
		Step:        step,
		System:      substitute(sqlSystemPrompt, map[string]string{"dialect": req.Dialect}),
		User:        user,
	})
	if err != nil {
		return SQLDraft{}, err
	}
	return a.parseReply(msg.Content)
}

func (a *SqlAgent) userPrompt(req SQLRequest, correction string) string {
	var b promptBuilder
	b.section("Question", req.Question)
	b.section("Schema", renderSchema(req.Schema))
	b.section("Conversation", renderHistory(req.History, 6))
	b.section("Related history", renderMemory(req.MemoryContext, 5))
	b.section("", correction)
	return b.String()
}

// sqlReply is the JSON wire shape the prompt demands.
type sqlReply struct {
	SQL             string `json:"sql"`
	ShouldVisualize bool   `json:"should_visualize"`
	Intent          string `json:"intent"`
	Clarification   *struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	} `json:"clarification"`
}

// parseReply decodes the provider text into a draft. Markdown fences are
// stripped first; a bare SELECT/WITH statement is accepted as a
// fallback for providers that ignore the JSON instruction.
func (a *SqlAgent) parseReply(text string) (SQLDraft, error) {
	cleaned := StripFences(text)

	var reply sqlReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		if opener := firstKeyword(cleaned); readKeywords[opener] {
			return SQLDraft{SQL: cleaned, Intent: models.IntentAnswer}, nil
		}
		return SQLDraft{}, llm.ProtocolError(err, "sql reply is neither JSON nor a statement")
	}

	if reply.Intent == string(models.IntentClarification) {
		if reply.Clarification == nil || reply.Clarification.Question == "" {
			return SQLDraft{}, llm.ProtocolError(nil, "clarification reply without a question")
		}
		options := reply.Clarification.Options
		if len(options) > MaxClarificationOptions {
			options = options[:MaxClarificationOptions]
		}
		return SQLDraft{
			Intent: models.IntentClarification,
			Clarification: &models.Clarification{
				Question: reply.Clarification.Question,
				Options:  options,
			},
		}, nil
	}

	if strings.TrimSpace(reply.SQL) == "" {
		return SQLDraft{}, llm.ProtocolError(nil, "answer reply without sql")
	}
	return SQLDraft{
		SQL:             strings.TrimSpace(reply.SQL),
		ShouldVisualize: reply.ShouldVisualize,
		Intent:          models.IntentAnswer,
	}, nil
}

// StripFences removes a surrounding markdown code fence, with or
// without a language tag.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (```json, ```sql).
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}(") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// underSpecified returns a clarification for questions with no usable
// content. It is deliberately conservative: only near-empty questions
// short-circuit here; everything else is the provider's judgement.
func underSpecified(question string) *models.Clarification {
	terms := questionTerms(question)
	if len(terms) > 0 {
		return nil
	}
	return &models.Clarification{
		Question: fmt.Sprintf("What would you like to analyze%s?", questionHint(question)),
		Options: []string{
			"A metric over time (e.g. monthly totals)",
			"A breakdown by category",
			"A top-N ranking",
			"A single aggregate number",
		},
	}
}

func questionHint(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return ""
	}
	return fmt.Sprintf(" about %q", q)
}
