package pipeline

import (
	"fmt"
	"strings"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

const extractionSystemMessage = `You extract query parameter values from a user's question about business data.
Respond with JSON only, no prose.`

// buildExtractionPrompt enumerates each unresolved parameter with its
// description and allowed values for a single batched extraction call.
func buildExtractionPrompt(template *models.QueryTemplate, unresolved []models.ParameterDefinition, userText string) string {
	var b strings.Builder

	b.WriteString("The user asked a question that maps to this query:\n")
	fmt.Fprintf(&b, "  %s\n\n", template.Exemplar)
	fmt.Fprintf(&b, "User question: %q\n\n", userText)
	b.WriteString("Determine a value for each of these parameters:\n\n")

	for i := range unresolved {
		p := &unresolved[i]
		fmt.Fprintf(&b, "- %s", p.Name)
		if p.Validation != nil && p.Validation.Type != "" {
			fmt.Fprintf(&b, " (%s)", p.Validation.Type)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
		if p.Validation != nil && len(p.Validation.AllowedValues) > 0 {
			fmt.Fprintf(&b, "  Allowed values: %s\n", strings.Join(capList(p.Validation.AllowedValues, 50), ", "))
		}
	}

	b.WriteString(`
Respond with one of:
  {"parameters": {"name": value, ...}}
when the question determines every value, or
  {"needs_clarification": true, "missing": [{"name": "...", "best_guess": "...", "guess_confidence": 0.0, "alternatives": ["..."]}]}
when a value cannot be determined. Use allowed values verbatim when present.
Dates must be ISO formatted (YYYY-MM-DD).`)

	return b.String()
}

const builderSystemMessage = `You write a single read-only SQL SELECT statement from a user's question and the schema provided.
Respond with JSON only, no prose.`

// buildBuilderPrompt composes the dynamic-synthesis prompt from ranked table
// metadata. Column selectivity is enforced here, at the prompt level.
func buildBuilderPrompt(userText string, tables []models.TableMetadata, maxColumns int, priorViolations []models.Violation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "User question: %q\n\n", userText)
	b.WriteString("Available tables, most relevant first:\n\n")

	for i := range tables {
		t := &tables[i]
		fmt.Fprintf(&b, "Table %s", t.QualifiedName())
		if t.Description != "" {
			fmt.Fprintf(&b, " - %s", t.Description)
		}
		b.WriteString("\n")
		for j := range t.Columns {
			col := &t.Columns[j]
			fmt.Fprintf(&b, "  %s %s", col.Name, col.DataType)
			if col.IsPrimary {
				b.WriteString(" PK")
			}
			if col.References != "" {
				fmt.Fprintf(&b, " FK->%s", col.References)
			}
			if col.IsNullable {
				b.WriteString(" nullable")
			}
			if col.Description != "" {
				fmt.Fprintf(&b, " -- %s", col.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(priorViolations) > 0 {
		b.WriteString("A previous attempt was rejected for these reasons; produce a corrected query:\n")
		for _, v := range priorViolations {
			fmt.Fprintf(&b, "- %s: %s\n", v.Kind, v.Detail)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `Rules:
- Produce exactly one SELECT statement. No other statement types, no semicolons, no comments.
- Use only the tables listed above, with their qualified names.
- Select at most %d columns unless the user explicitly asks for all columns. Prefer identity and name columns and columns the user referenced.
- Rate your own confidence: 0.8 or above when the question clearly determines the query, 0.5 to 0.8 when you inferred intent, below 0.5 when the question is vague.

Respond with:
  {"sql": "...", "reasoning": "one-sentence plain-language summary of what the query returns", "confidence": 0.0, "tables_used": ["Schema.Table"]}`, maxColumns)

	return b.String()
}

// capList bounds a value list in a prompt so a huge hydrated list cannot
// blow up the context.
func capList(values []string, limit int) []string {
	if len(values) <= limit {
		return values
	}
	return values[:limit]
}
