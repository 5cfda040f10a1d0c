package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smartbi/analyst/pkg/models"
)

// Chart types the engine renders.
const (
	ChartBar   = "bar"
	ChartLine  = "line"
	ChartPie   = "pie"
	ChartTable = "table"
)

var validChartTypes = map[string]bool{
	ChartBar: true, ChartLine: true, ChartPie: true, ChartTable: true,
}

// sampleRows caps how many rows are embedded in the prompt.
const sampleRows = 20

// VisualizeRequest is the VisualizeAgent input.
type VisualizeRequest struct {
	Question string
	Columns  []models.ColumnMeta
	Rows     [][]any

	ProfileID   string
	BindingID   string
	ExecutionID string
}

const visualizeSystemPrompt = `You choose a chart for a SQL result and write one short insight.
Reply with a single JSON object, no prose:
{"chart_type": "bar"|"line"|"pie"|"table", "spec": {"x": "<column>", "y": "<column>", "series"?: "<column>"}, "insight": "..."}`

// VisualizeAgent picks a chart spec and an optional insight for a query
// result. Apart from the provider call it is a pure function of its
// inputs; provider failures degrade to a heuristic chart.
type VisualizeAgent struct {
	runtime *Runtime
	log     *slog.Logger
}

// NewVisualizeAgent creates the agent.
func NewVisualizeAgent(runtime *Runtime) *VisualizeAgent {
	return &VisualizeAgent{runtime: runtime, log: slog.With("component", "visualize_agent")}
}

// Visualize returns a chart spec and insight for the result set.
func (a *VisualizeAgent) Visualize(ctx context.Context, req VisualizeRequest) (*models.ChartSpec, string, error) {
	msg, err := a.runtime.Invoke(ctx, InvokeRequest{
		ProfileID:   req.ProfileID,
		BindingID:   req.BindingID,
		ExecutionID: req.ExecutionID,
		Step:        "visualize",
		System:      visualizeSystemPrompt,
		User:        a.userPrompt(req),
	})
	if err != nil {
		a.log.Warn("Visualize provider call failed, using heuristic chart", "error", err)
		return HeuristicChart(req.Columns, req.Rows), "", nil
	}

	spec, insight, perr := a.parseReply(msg.Content, req.Columns)
	if perr != nil {
		a.log.Warn("Malformed visualize reply, using heuristic chart", "error", perr)
		return HeuristicChart(req.Columns, req.Rows), "", nil
	}
	return spec, insight, nil
}

func (a *VisualizeAgent) userPrompt(req VisualizeRequest) string {
	var b promptBuilder
	b.section("Question", req.Question)

	names := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		names[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
	}
	b.section("Columns", strings.Join(names, ", "))

	rows := req.Rows
	if len(rows) > sampleRows {
		rows = rows[:sampleRows]
	}
	var sb strings.Builder
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprint(cell)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	b.section("Sample rows", sb.String())
	return b.String()
}

type visualizeReply struct {
	ChartType string         `json:"chart_type"`
	Spec      map[string]any `json:"spec"`
	Insight   string         `json:"insight"`
}

func (a *VisualizeAgent) parseReply(text string, columns []models.ColumnMeta) (*models.ChartSpec, string, error) {
	var reply visualizeReply
	if err := json.Unmarshal([]byte(StripFences(text)), &reply); err != nil {
		return nil, "", err
	}
	if !validChartTypes[reply.ChartType] {
		return nil, "", fmt.Errorf("unknown chart type %q", reply.ChartType)
	}
	if reply.Spec == nil {
		reply.Spec = defaultSpec(columns)
	}
	return &models.ChartSpec{ChartType: reply.ChartType, Spec: reply.Spec}, strings.TrimSpace(reply.Insight), nil
}

// HeuristicChart picks a chart from column shapes alone: time-like
// first column makes a line, few categories over one numeric column
// make a pie, categorical + numeric make a bar, everything else a table.
func HeuristicChart(columns []models.ColumnMeta, rows [][]any) *models.ChartSpec {
	catIdx, numIdx := -1, -1
	for i, col := range columns {
		switch {
		case numericType(col.Type):
			if numIdx < 0 {
				numIdx = i
			}
		default:
			if catIdx < 0 {
				catIdx = i
			}
		}
	}
	if catIdx < 0 || numIdx < 0 {
		return &models.ChartSpec{ChartType: ChartTable, Spec: defaultSpec(columns)}
	}

	spec := map[string]any{"x": columns[catIdx].Name, "y": columns[numIdx].Name}
	switch {
	case timeLikeColumn(columns[catIdx].Name, columns[catIdx].Type):
		return &models.ChartSpec{ChartType: ChartLine, Spec: spec}
	case len(rows) > 0 && len(rows) <= 8:
		return &models.ChartSpec{ChartType: ChartPie, Spec: spec}
	default:
		return &models.ChartSpec{ChartType: ChartBar, Spec: spec}
	}
}

// Chartable reports whether the column set carries the categorical +
// numeric pair a chart needs.
func Chartable(columns []models.ColumnMeta) bool {
	hasNum, hasCat := false, false
	for _, c := range columns {
		if numericType(c.Type) {
			hasNum = true
		} else {
			hasCat = true
		}
	}
	return hasNum && hasCat
}

func defaultSpec(columns []models.ColumnMeta) map[string]any {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return map[string]any{"columns": names}
}

func numericType(t string) bool {
	t = strings.ToLower(t)
	for _, marker := range []string{"int", "float", "double", "decimal", "numeric", "real", "number"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func timeLikeColumn(name, typ string) bool {
	name = strings.ToLower(name)
	typ = strings.ToLower(typ)
	for _, marker := range []string{"date", "time", "month", "day", "year", "week"} {
		if strings.Contains(name, marker) || strings.Contains(typ, marker) {
			return true
		}
	}
	return false
}
