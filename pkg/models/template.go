package models

// AllowedValuesSourceDatabase marks a parameter whose allowed values are
// hydrated from the live database at extraction time.
const AllowedValuesSourceDatabase = "database"

// QueryTemplate is one vetted parameterized query. Templates are authored
// offline and indexed into the template search store; they are never mutated
// at runtime.
type QueryTemplate struct {
	ID       string `json:"id"`
	Exemplar string `json:"natural_language_exemplar"`
	// SQLText contains %{name}% tokens for each declared parameter.
	SQLText    string                `json:"sql_text"`
	Tables     []string              `json:"tables_referenced"`
	Parameters []ParameterDefinition `json:"parameters"`
}

// ParameterDefinition declares one slot in a template.
type ParameterDefinition struct {
	Name        string `json:"name"`
	Column      string `json:"column,omitempty"`
	Table       string `json:"table,omitempty"` // fully qualified, e.g. "Sales.Orders"
	Description string `json:"description,omitempty"`

	AskIfMissing bool `json:"ask_if_missing,omitempty"`

	// ConfidenceWeight scales the base confidence of whatever resolution
	// method produced the value. Nil means unset and defaults to 1.0; an
	// explicit 0 is kept and floored by EffectiveConfidence.
	ConfidenceWeight *float64 `json:"confidence_weight,omitempty"`

	DefaultValue  string `json:"default_value,omitempty"`
	DefaultPolicy string `json:"default_policy,omitempty"` // e.g. "today"

	// AllowedValuesSource is "" or "database". When "database", Table and
	// Column must be set and Validation.AllowedValues is hydrated per request.
	AllowedValuesSource string `json:"allowed_values_source,omitempty"`

	Validation *ParameterValidation `json:"validation,omitempty"`
}

// Weight returns the declared confidence weight with the unset default.
func (p *ParameterDefinition) Weight() float64 {
	if p.ConfidenceWeight == nil {
		return 1.0
	}
	return *p.ConfidenceWeight
}

// ParameterValidation holds the declared validation rules for a parameter.
type ParameterValidation struct {
	Type          string   `json:"type"` // int, string, date
	Min           *int64   `json:"min,omitempty"`
	Max           *int64   `json:"max,omitempty"`
	Pattern       string   `json:"pattern,omitempty"` // anchored regex, string type only
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// Parameter validation types.
const (
	ParamTypeInt    = "int"
	ParamTypeString = "string"
	ParamTypeDate   = "date"
)

// TableMetadata describes one table's schema. Indexed out-of-band and used
// only on the dynamic synthesis path.
type TableMetadata struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Columns     []ColumnMetadata `json:"columns"`
}

// QualifiedName returns "Schema.Name", or just Name when no schema is set.
func (t *TableMetadata) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnMetadata describes one column for the query-builder prompt.
type ColumnMetadata struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	IsNullable  bool   `json:"is_nullable"`
	IsPrimary   bool   `json:"is_primary"`
	References  string `json:"references,omitempty"` // "Schema.Table.Column" for FKs
	Description string `json:"description,omitempty"`
}
