// Package sql provides deterministic SQL safety validation and parameter
// substitution for the pipeline. Nothing in this package performs I/O.
package sql

import (
	"regexp"
	"strings"
)

// StatementType is the detected top-level verb of a statement.
type StatementType string

const (
	StatementSelect  StatementType = "SELECT"
	StatementInsert  StatementType = "INSERT"
	StatementUpdate  StatementType = "UPDATE"
	StatementDelete  StatementType = "DELETE"
	StatementDDL     StatementType = "DDL"
	StatementUnknown StatementType = "UNKNOWN"
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations,
// e.g. WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

// DetectStatementType determines the statement type from the first keyword.
// WITH ... SELECT is treated as SELECT; data-modifying CTEs are Unknown and
// therefore rejected by the validator.
func DetectStatementType(sqlText string) StatementType {
	normalized := strings.ToUpper(strings.TrimSpace(sqlText))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return StatementSelect
	case strings.HasPrefix(normalized, "WITH"):
		if modifyingCTEPattern.MatchString(sqlText) {
			return StatementUnknown
		}
		return StatementSelect
	case strings.HasPrefix(normalized, "INSERT"):
		return StatementInsert
	case strings.HasPrefix(normalized, "UPDATE"):
		return StatementUpdate
	case strings.HasPrefix(normalized, "DELETE"):
		return StatementDelete
	case strings.HasPrefix(normalized, "CREATE"),
		strings.HasPrefix(normalized, "ALTER"),
		strings.HasPrefix(normalized, "DROP"),
		strings.HasPrefix(normalized, "TRUNCATE"),
		strings.HasPrefix(normalized, "MERGE"):
		return StatementDDL
	default:
		return StatementUnknown
	}
}

// NormalizeStatement trims whitespace and a single trailing semicolon.
func NormalizeStatement(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)
	sqlText = strings.TrimRight(sqlText, " \t\n\r")
	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimRight(strings.TrimSuffix(sqlText, ";"), " \t\n\r")
	}
	return sqlText
}

// HasMultipleStatements reports whether normalized SQL still contains a
// semicolon outside string literals. The trailing semicolon must be stripped
// first; any remaining one indicates a stacked statement.
func HasMultipleStatements(sqlText string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := rune(0)

	for _, ch := range sqlText {
		switch state {
		case stateNormal:
			switch ch {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// '' re-enters on the next quote, which keeps doubled quotes
			// inside the string
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = ch
	}

	return false
}

// dataModificationPattern matches modification verbs at word boundaries
// outside of identifiers.
var dataModificationPattern = regexp.MustCompile(`(?i)\b(DELETE|INSERT|UPDATE|ALTER|DROP|TRUNCATE|MERGE)\b`)

// ContainsDataModification reports whether the SQL carries any
// data-modification token outside string literals.
func ContainsDataModification(sqlText string) bool {
	return dataModificationPattern.MatchString(maskStringLiterals(sqlText))
}

// maskStringLiterals replaces the contents of single-quoted literals with
// spaces so keyword scans cannot be confused by quoted text.
func maskStringLiterals(sqlText string) string {
	out := []byte(sqlText)
	inString := false
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '\'':
			inString = !inString
		case inString:
			out[i] = ' '
		}
	}
	return string(out)
}
