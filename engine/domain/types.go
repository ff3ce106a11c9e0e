// Package domain defines the core data model for the fullfoodapp engine:
// ingestable documents, search hits, appliance-neutral recipes, and the
// ingredient tuples flowing through extraction and aggregation. It also acts
// as the normalization gate for noisy LLM-produced recipes.
package domain

import "strings"

// Document is a unit of ingestable text with optional caller metadata.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hit is a single nearest-neighbour result from the vector store.
// Score is cosine similarity, higher is better.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Step actions recognised by the appliance compiler downstream.
const (
	ActionPrep    = "prep"
	ActionSeason  = "season"
	ActionPreheat = "preheat"
	ActionCook    = "cook"
	ActionFlip    = "flip"
	ActionRest    = "rest"
	ActionServe   = "serve"
)

// ValidActions is the set of recognised step actions.
var ValidActions = map[string]bool{
	ActionPrep: true, ActionSeason: true, ActionPreheat: true,
	ActionCook: true, ActionFlip: true, ActionRest: true, ActionServe: true,
}

// Temperature and time bounds for a StepGeneric. Values outside these
// ranges are normalized to unknown rather than rejected.
const (
	MinTemperatureC = 0
	MaxTemperatureC = 300
)

// StepGeneric is one appliance-neutral cooking step.
type StepGeneric struct {
	Action       string   `json:"action"`
	Description  string   `json:"description"`
	Ingredients  []string `json:"ingredients,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	TemperatureC *int     `json:"temperature_c,omitempty"`
	TimeMin      *float64 `json:"time_min,omitempty"`
	Speed        string   `json:"speed,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Batching     bool     `json:"batching"`
}

// RecipeNeutral is an appliance-neutral recipe: a title, a portion count,
// and an ordered list of generic steps.
type RecipeNeutral struct {
	Title    string        `json:"title"`
	Portions int           `json:"portions"`
	Steps    []StepGeneric `json:"steps_generic"`
}

// IngredientItem is one extracted ingredient tuple. Qty and Unit are nil
// when unknown; Name is lowercased with collapsed whitespace.
type IngredientItem struct {
	Name string   `json:"name"`
	Qty  *float64 `json:"qty"`
	Unit *string  `json:"unit"`
}

// AggregatedItem is a merged shopping-list entry keyed by (name, unit).
type AggregatedItem struct {
	Name     string   `json:"name"`
	Qty      *float64 `json:"qty"`
	Unit     *string  `json:"unit"`
	Category string   `json:"category,omitempty"`
}

// NormName lowercases a name and collapses internal whitespace.
func NormName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Str returns a pointer to s.
func Str(s string) *string { return &s }
