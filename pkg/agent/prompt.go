package agent

import (
	"fmt"
	"strings"

	"github.com/smartbi/analyst/pkg/models"
)

// promptBuilder assembles prompts from titled sections, skipping empty
// ones. Substitution is an explicit placeholder map so user text can
// never be interpreted as template syntax.
type promptBuilder struct {
	sections []string
}

func (b *promptBuilder) section(title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if title == "" {
		b.sections = append(b.sections, body)
		return
	}
	b.sections = append(b.sections, "## "+title+"\n"+body)
}

func (b *promptBuilder) String() string {
	return strings.Join(b.sections, "\n\n")
}

// substitute replaces {name} placeholders with their values. Unknown
// placeholders are left intact.
func substitute(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// renderSchema flattens a schema descriptor into the compact table/
// column listing the prompts embed.
func renderSchema(schema models.SchemaDescriptor) string {
	var sb strings.Builder
	for _, table := range schema.Tables {
		sb.WriteString(table.Name)
		sb.WriteString("(")
		for i, col := range table.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(col.Name)
			sb.WriteString(" ")
			sb.WriteString(col.Type)
			if col.PrimaryKey {
				sb.WriteString(" PK")
			}
			if col.ForeignKey != nil {
				fmt.Fprintf(&sb, " FK->%s.%s", col.ForeignKey.Table, col.ForeignKey.Column)
			}
			if !col.Nullable {
				sb.WriteString(" NOT NULL")
			}
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// renderHistory flattens recent messages for prompt context.
func renderHistory(history []models.AgentMessage, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var sb strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return sb.String()
}

// renderMemory flattens memory events for prompt context.
func renderMemory(events []models.MemoryEvent, limit int) string {
	if len(events) > limit {
		events = events[:limit]
	}
	var sb strings.Builder
	for _, ev := range events {
		switch {
		case ev.UserText != "":
			fmt.Fprintf(&sb, "- %s\n", ev.UserText)
		case ev.ResultSummary != "":
			fmt.Fprintf(&sb, "- %s\n", ev.ResultSummary)
		}
	}
	return sb.String()
}
