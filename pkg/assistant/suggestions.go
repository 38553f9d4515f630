package assistant

import (
	"strings"

	"github.com/dataquill-ai/dataquill-engine/pkg/models"
)

// SchemaSuggestions maps each schema area to its follow-up pills. The UI
// renders title as a button label and injects prompt into the composer.
var SchemaSuggestions = map[models.SchemaArea][]models.SchemaSuggestion{
	models.AreaSales: {
		{Title: "Top customers", Prompt: "Who are our top 10 customers by total sales?"},
		{Title: "Monthly revenue", Prompt: "What is the monthly revenue for the last 12 months?"},
		{Title: "Recent orders", Prompt: "Show the 20 most recent orders"},
		{Title: "Invoice totals", Prompt: "What are the total invoice amounts by month this year?"},
	},
	models.AreaWarehouse: {
		{Title: "Stock levels", Prompt: "What are the current stock levels by item?"},
		{Title: "Low stock", Prompt: "Which items are below their reorder level?"},
		{Title: "Stock movements", Prompt: "Show recent stock movements"},
		{Title: "Cold room items", Prompt: "Which stock items need chiller storage?"},
	},
	models.AreaPurchasing: {
		{Title: "Top suppliers", Prompt: "Who are our top suppliers by purchase volume?"},
		{Title: "Open orders", Prompt: "Which purchase orders are still open?"},
		{Title: "Deliveries", Prompt: "Show expected supplier deliveries this week"},
		{Title: "Supplier spend", Prompt: "What did we spend per supplier last quarter?"},
	},
	models.AreaApplication: {
		{Title: "Customers by city", Prompt: "How many customers do we have per city?"},
		{Title: "Delivery methods", Prompt: "Which delivery methods are used most?"},
		{Title: "Contacts", Prompt: "Show the contact people for our largest accounts"},
	},
}

// genericSuggestions is the fallback when no schema area is established.
var genericSuggestions = []models.SchemaSuggestion{
	{Title: "Customers", Prompt: "Ask about a specific business entity like customers, orders, or products"},
	{Title: "Top orders", Prompt: "Show the 10 largest orders this month"},
	{Title: "Products", Prompt: "Which products sell the most?"},
}

// schemaAreaForTable maps a fully qualified table name to its schema area by
// schema prefix.
func schemaAreaForTable(table string) models.SchemaArea {
	schema := table
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema = table[:i]
	}
	switch strings.ToLower(schema) {
	case "sales":
		return models.AreaSales
	case "warehouse":
		return models.AreaWarehouse
	case "purchasing":
		return models.AreaPurchasing
	case "application":
		return models.AreaApplication
	default:
		return models.AreaNone
	}
}
