package models

// SchemaArea is a coarse grouping of related tables, determined from the
// primary FROM-clause table of executed SQL.
type SchemaArea string

const (
	AreaSales       SchemaArea = "sales"
	AreaWarehouse   SchemaArea = "warehouse"
	AreaPurchasing  SchemaArea = "purchasing"
	AreaApplication SchemaArea = "application"
	AreaNone        SchemaArea = ""
)

// ConversationContext is the per-thread state the data assistant tracks.
// It changes only on successful data turns, never on clarification turns.
type ConversationContext struct {
	ThreadID string `json:"thread_id"`

	CurrentSchemaArea SchemaArea `json:"current_schema_area,omitempty"`

	// SchemaExplorationDepth counts consecutive successful turns in the same
	// schema area; it resets to 1 when the area changes.
	SchemaExplorationDepth int `json:"schema_exploration_depth,omitempty"`
}
