package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// ValidateParameters checks every extracted value against its declared rules
// and returns a new draft with ParamsValidated set or Violations accumulated.
// Pure and deterministic: running it twice on the same draft yields the same
// result. Parameters flagged partial skip the strict allowed-values check.
func ValidateParameters(draft models.SQLDraft, params []models.ParameterDefinition) models.SQLDraft {
	out := draft
	out.ParamsValidated = false
	out.Violations = nil

	for i := range params {
		def := &params[i]
		value, ok := draft.Parameters[def.Name]
		if !ok {
			continue
		}
		if v := validateValue(def, value, draft.PartialParams[def.Name]); v != nil {
			out.Violations = append(out.Violations, *v)
		}
	}

	out.ParamsValidated = len(out.Violations) == 0
	return out
}

// validateValue applies one parameter's declared validation. Returns nil when
// the value passes or the parameter declares no rules.
func validateValue(def *models.ParameterDefinition, value any, partial bool) *models.Violation {
	if def.Validation == nil {
		return nil
	}

	switch def.Validation.Type {
	case models.ParamTypeInt:
		return validateInt(def, value)
	case models.ParamTypeString:
		return validateString(def, value, partial)
	case models.ParamTypeDate:
		return validateDate(def, value)
	default:
		return nil
	}
}

func validateInt(def *models.ParameterDefinition, value any) *models.Violation {
	n, err := toInt64(value)
	if err != nil {
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationTypeMismatch,
			Detail:    fmt.Sprintf("expected an integer, got %v", value),
		}
	}

	if def.Validation.Min != nil && n < *def.Validation.Min {
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationOutOfRange,
			Detail:    fmt.Sprintf("%d is below the minimum %d", n, *def.Validation.Min),
		}
	}
	if def.Validation.Max != nil && n > *def.Validation.Max {
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationOutOfRange,
			Detail:    fmt.Sprintf("%d is above the maximum %d", n, *def.Validation.Max),
		}
	}
	return nil
}

func validateString(def *models.ParameterDefinition, value any, partial bool) *models.Violation {
	s, ok := value.(string)
	if !ok {
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationTypeMismatch,
			Detail:    fmt.Sprintf("expected a string, got %T", value),
		}
	}

	if def.Validation.Pattern != "" {
		re, err := regexp.Compile(anchor(def.Validation.Pattern))
		if err == nil && !re.MatchString(s) {
			return &models.Violation{
				Parameter: def.Name,
				Kind:      models.ViolationPatternMismatch,
				Detail:    fmt.Sprintf("%q does not match the required format", s),
			}
		}
	}

	// Membership check is skipped for partial lists: the true value may live
	// beyond the cache truncation point.
	if len(def.Validation.AllowedValues) > 0 && !partial {
		if !containsFold(def.Validation.AllowedValues, s) {
			return &models.Violation{
				Parameter: def.Name,
				Kind:      models.ViolationNotAllowedValue,
				Detail:    fmt.Sprintf("%q is not one of the allowed values", s),
			}
		}
	}
	return nil
}

func validateDate(def *models.ParameterDefinition, value any) *models.Violation {
	s, ok := value.(string)
	if !ok {
		if _, isTime := value.(time.Time); isTime {
			return nil
		}
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationTypeMismatch,
			Detail:    fmt.Sprintf("expected an ISO date, got %T", value),
		}
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return &models.Violation{
			Parameter: def.Name,
			Kind:      models.ViolationTypeMismatch,
			Detail:    fmt.Sprintf("%q is not a valid ISO date", s),
		}
	}
	return nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", value)
	}
}

func anchor(pattern string) string {
	p := pattern
	if !strings.HasPrefix(p, "^") {
		p = "^" + p
	}
	if !strings.HasSuffix(p, "$") {
		p = p + "$"
	}
	return p
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
