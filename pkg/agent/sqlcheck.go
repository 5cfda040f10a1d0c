package agent

import (
	"strings"

	"github.com/smartbi/analyst/pkg/enginerr"
)

// writeKeywords are statement openers rejected on read-only scenes.
var writeKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"create": true, "alter": true, "truncate": true, "merge": true,
	"replace": true, "grant": true, "revoke": true, "attach": true,
	"vacuum": true, "copy": true,
}

// readKeywords are statement openers the engine will execute at all.
var readKeywords = map[string]bool{
	"select": true, "with": true, "show": true, "describe": true,
	"explain": true, "pragma": true,
}

// CheckSQL performs the dialect-level pre-check on a draft statement:
// non-empty, single statement, balanced quoting, and an executable
// opener. readOnly additionally rejects write statements.
func CheckSQL(sqlText string, readOnly bool) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return enginerr.New(enginerr.KindValidation, "empty SQL statement")
	}
	if !balancedQuotes(trimmed) {
		return enginerr.New(enginerr.KindValidation, "unbalanced quotes in SQL statement")
	}
	statements := SplitStatements(trimmed)
	if len(statements) > 1 {
		return enginerr.New(enginerr.KindValidation, "multi-statement SQL is not allowed")
	}

	opener := firstKeyword(trimmed)
	if readOnly && writeKeywords[opener] {
		return enginerr.New(enginerr.KindValidation, "write statement %q rejected on read-only scene", opener)
	}
	if !readKeywords[opener] && !writeKeywords[opener] {
		return enginerr.New(enginerr.KindValidation, "unsupported statement opener %q", opener)
	}
	return nil
}

// SplitStatements splits on semicolons outside quoted strings, dropping
// empty trailing segments.
func SplitStatements(sqlText string) []string {
	var (
		statements []string
		current    strings.Builder
		inSingle   bool
		inDouble   bool
	)
	for _, r := range sqlText {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == ';' && !inSingle && !inDouble:
			if s := strings.TrimSpace(current.String()); s != "" {
				statements = append(statements, s)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements
}

func balancedQuotes(sqlText string) bool {
	inSingle, inDouble := false, false
	for _, r := range sqlText {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		}
	}
	return !inSingle && !inDouble
}

func firstKeyword(sqlText string) string {
	fields := strings.Fields(strings.ToLower(sqlText))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "(")
}
