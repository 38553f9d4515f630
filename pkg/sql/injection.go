package sql

import (
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// Denylist of patterns that never belong in generated read-only SQL:
// comment sequences, stacked-query markers, and procedure invocation.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`(?i)\bxp_\w+`),
	regexp.MustCompile(`(?i)\bsp_\w+`),
	regexp.MustCompile(`(?i)\bEXEC(UTE)?\b`),
	regexp.MustCompile(`(?i)\bWAITFOR\s+DELAY\b`),
}

// FindInjectionPattern returns the first denylisted pattern found in the SQL
// text, or "" when clean. String literals are masked first so a legitimate
// quoted value cannot trip the scan.
func FindInjectionPattern(sqlText string) string {
	masked := maskStringLiterals(sqlText)
	for _, p := range injectionPatterns {
		if loc := p.FindString(masked); loc != "" {
			return loc
		}
	}
	return ""
}

// InjectionCheckResult describes an injection hit on a parameter value.
type InjectionCheckResult struct {
	ParamName   string
	Fingerprint string
}

// CheckParameterValue screens one extracted parameter value with
// libinjection. Only strings are checked; numbers and dates cannot carry
// injection payloads. Returns nil when clean.
func CheckParameterValue(name string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		ParamName:   name,
		Fingerprint: string(fingerprint),
	}
}

// CheckAllParameterValues screens every extracted value and returns the hits.
func CheckAllParameterValues(params map[string]any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range params {
		if r := CheckParameterValue(name, value); r != nil {
			results = append(results, r)
		}
	}
	return results
}
