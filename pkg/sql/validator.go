package sql

import (
	"fmt"
	"strings"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// ValidateQuery runs the ordered deterministic safety checks against a draft
// and returns a new draft with QueryValidated set or Violations accumulated.
// Pure: no I/O, no network. The allowed-tables set is loaded once at startup
// and passed in; keys are lowercased fully qualified names.
func ValidateQuery(draft models.SQLDraft, allowedTables map[string]struct{}) models.SQLDraft {
	out := draft
	out.QueryValidated = false
	out.Violations = nil

	normalized := NormalizeStatement(draft.SQLText)
	if normalized == "" {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationDisallowedStatementType,
			Detail: "empty statement",
		})
		return out
	}
	out.SQLText = normalized

	// 1. Shape: single statement whose top-level verb is SELECT.
	// WITH ... SELECT is permitted; data-modifying CTEs are not.
	if st := DetectStatementType(normalized); st != StatementSelect {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationDisallowedStatementType,
			Detail: fmt.Sprintf("statement type %s is not allowed; only SELECT is permitted", st),
		})
	}

	// 2. Statement count.
	if HasMultipleStatements(normalized) {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationMultipleStatements,
			Detail: "multiple SQL statements are not allowed",
		})
	}

	// 3. Injection denylist.
	if hit := FindInjectionPattern(normalized); hit != "" {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationInjectionPattern,
			Detail: fmt.Sprintf("disallowed pattern %q", hit),
		})
	}

	// 4. Table allowlist.
	referents := ExtractTableReferents(normalized)
	var disallowed []string
	for _, table := range referents {
		if _, ok := allowedTables[strings.ToLower(table)]; !ok {
			disallowed = append(disallowed, table)
		}
	}
	if len(disallowed) > 0 {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationDisallowedTable,
			Detail: strings.Join(disallowed, ", "),
		})
	}
	out.Tables = referents

	// 5. Data-modification token scan.
	if ContainsDataModification(normalized) {
		out.Violations = append(out.Violations, models.Violation{
			Kind:   models.ViolationDataModification,
			Detail: "data-modification tokens are not allowed",
		})
	}

	out.QueryValidated = len(out.Violations) == 0
	return out
}
