package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// tokenPattern matches %{parameter_name}% placeholders in template SQL.
// Names must start with a letter or underscore.
var tokenPattern = regexp.MustCompile(`%\{([a-zA-Z_]\w*)\}%`)

// ExtractTokens finds all %{param}% placeholders and returns a deduplicated
// list of names in order of first appearance.
func ExtractTokens(sqlText string) []string {
	matches := tokenPattern.FindAllStringSubmatch(sqlText, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// HasTokens reports whether any %{...}% token remains in the SQL.
func HasTokens(sqlText string) bool {
	return tokenPattern.MatchString(sqlText)
}

// SubstituteTokens replaces every %{name}% token with a properly escaped
// literal: integers bare, strings single-quoted with internal quotes doubled,
// dates ISO-formatted. The executor performs its own parameterized pass; this
// substitution exists so the final SQL is auditable as a single statement.
//
// Returns an error if a token has no value, so no draft with unresolved
// tokens can reach execution.
func SubstituteTokens(sqlText string, values map[string]any) (string, error) {
	var missing []string

	result := tokenPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return escapeLiteral(value)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved parameters: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

func escapeLiteral(value any) string {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		// JSON numbers arrive as float64; render integral values bare
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + v.Format("2006-01-02") + "'"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", v), "'", "''") + "'"
	}
}
