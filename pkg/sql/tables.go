package sql

import (
	"regexp"
	"strings"
)

// tableRefPattern captures the identifier after FROM or JOIN, optionally
// schema-qualified and optionally bracket- or double-quoted.
var tableRefPattern = regexp.MustCompile(
	`(?i)\b(?:FROM|JOIN)\s+(\[?[A-Za-z_][\w]*\]?(?:\.\[?[A-Za-z_][\w]*\]?)?)`)

// ExtractTableReferents returns every FROM/JOIN table identifier in the SQL,
// deduplicated, in order of first appearance. Derived tables (a parenthesized
// subquery after FROM) contribute their inner referents through the same scan
// because the pattern only matches identifier characters.
func ExtractTableReferents(sqlText string) []string {
	masked := maskStringLiterals(sqlText)
	matches := tableRefPattern.FindAllStringSubmatch(masked, -1)

	seen := make(map[string]bool)
	var tables []string
	for _, m := range matches {
		name := strings.ReplaceAll(strings.ReplaceAll(m[1], "[", ""), "]", "")
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			tables = append(tables, name)
		}
	}
	return tables
}

// PrimaryTable returns the first FROM-clause referent, which determines the
// schema area of a query. JOINed lookup tables do not count.
func PrimaryTable(sqlText string) string {
	masked := maskStringLiterals(sqlText)
	fromPattern := regexp.MustCompile(
		`(?i)\bFROM\s+(\[?[A-Za-z_][\w]*\]?(?:\.\[?[A-Za-z_][\w]*\]?)?)`)
	m := fromPattern.FindStringSubmatch(masked)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(strings.ReplaceAll(m[1], "[", ""), "]", "")
}
