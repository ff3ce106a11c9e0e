// Package recipes generates appliance-neutral recipes with retrieved
// context: build a query from the user's request, retrieve fused hits,
// render a per-mode prompt, and validate the LLM's recipe output.
package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/llm"
	"github.com/rserravi/fullfoodapp/engine/rag"
)

// Generation modes.
const (
	ModeStrict   = "strict"   // only recipes grounded in retrieved context
	ModeHybrid   = "hybrid"   // context-first, inventing where context runs out
	ModeCreative = "creative" // context as loose inspiration
)

// ErrUnsupportedMode reports a generation mode outside the known set.
var ErrUnsupportedMode = errors.New("recipes: unsupported mode")

// GenRequest describes what the user wants cooked.
type GenRequest struct {
	Ingredients []string `json:"ingredients"`
	Portions    int      `json:"portions"`
	Appliances  []string `json:"appliances"`
	Dietary     []string `json:"dietary"`
	TopK        int      `json:"top_k"`
	Mode        string   `json:"mode"`
}

// Source is one retrieved passage backing the generated recipe.
type Source struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Title   string  `json:"title,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
}

// GenResponse carries the generated recipe and its retrieval provenance.
type GenResponse struct {
	Recipe  domain.RecipeNeutral `json:"recipe"`
	Mode    string               `json:"mode"`
	Sources []Source             `json:"sources"`
}

// Retriever supplies fused context hits for a query.
type Retriever interface {
	HybridRetrieve(ctx context.Context, query string) ([]rag.FusedHit, error)
}

// Generator produces JSON-formatted LLM completions.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Service generates recipes.
type Service struct {
	retriever Retriever
	gen       Generator
	repairer  llm.Repairer
	logger    *slog.Logger
}

// New builds a Service. repairer may be nil.
func New(retriever Retriever, gen Generator, repairer llm.Repairer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, gen: gen, repairer: repairer, logger: logger}
}

var defaultAppliances = []string{"sartén", "horno", "airfryer", "microondas", "robot"}

const promptStrict = `Eres un chef que escribe recetas en JSON. Usa EXCLUSIVAMENTE las recetas del CONTEXTO: combina y ajusta raciones, pero no inventes platos que no aparezcan ahí. Si el contexto no alcanza, simplifica.
Responde SOLO con un objeto JSON: {"title": string, "portions": int, "steps_generic": [{"action": "prep"|"season"|"preheat"|"cook"|"flip"|"rest"|"serve", "description": string, "ingredients": [string], "tools": [string], "temperature_c": int|null, "time_min": number|null, "speed": string|null, "notes": string|null, "batching": bool}]}.
Utensilios permitidos: %s
Raciones: %d

CONTEXTO:
%s

REQUISITOS:
%s`

const promptHybrid = `Eres un chef que escribe recetas en JSON. Apóyate en el CONTEXTO cuando sea útil y completa con tu propio criterio cuando no alcance.
Responde SOLO con un objeto JSON: {"title": string, "portions": int, "steps_generic": [{"action": "prep"|"season"|"preheat"|"cook"|"flip"|"rest"|"serve", "description": string, "ingredients": [string], "tools": [string], "temperature_c": int|null, "time_min": number|null, "speed": string|null, "notes": string|null, "batching": bool}]}.
Utensilios permitidos: %s
Raciones: %d

CONTEXTO:
%s

REQUISITOS:
%s`

const promptCreative = `Eres un chef creativo que escribe recetas en JSON. El CONTEXTO es solo inspiración: propón algo original con los ingredientes indicados.
Responde SOLO con un objeto JSON: {"title": string, "portions": int, "steps_generic": [{"action": "prep"|"season"|"preheat"|"cook"|"flip"|"rest"|"serve", "description": string, "ingredients": [string], "tools": [string], "temperature_c": int|null, "time_min": number|null, "speed": string|null, "notes": string|null, "batching": bool}]}.
Utensilios permitidos: %s
Raciones: %d

CONTEXTO:
%s

REQUISITOS:
%s`

var promptByMode = map[string]string{
	ModeStrict:   promptStrict,
	ModeHybrid:   promptHybrid,
	ModeCreative: promptCreative,
}

// Generate runs the full generation pipeline. A total retrieval outage is
// surfaced as an error; a misbehaving LLM degrades to a safe fallback
// recipe instead of failing.
func (s *Service) Generate(ctx context.Context, req GenRequest) (*GenResponse, error) {
	normalizeRequest(&req)
	if _, ok := promptByMode[req.Mode]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, req.Mode)
	}

	hits, err := s.retriever.HybridRetrieve(ctx, buildQuery(req))
	if err != nil {
		return nil, fmt.Errorf("recipes: retrieve context: %w", err)
	}
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	prompt := renderPrompt(req, rag.BuildContext(hits))
	recipe := s.generateRecipe(ctx, req, prompt)
	recipe = domain.NormalizeRecipe(recipe)

	return &GenResponse{
		Recipe:  recipe,
		Mode:    req.Mode,
		Sources: sourcesFromHits(hits),
	}, nil
}

func normalizeRequest(req *GenRequest) {
	if req.Portions < 1 {
		req.Portions = 2
	}
	if req.Portions > 12 {
		req.Portions = 12
	}
	if req.TopK < 1 {
		req.TopK = 5
	}
	if req.TopK > 8 {
		req.TopK = 8
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
}

// buildQuery renders the request as retrieval query text.
func buildQuery(req GenRequest) string {
	var parts []string
	if len(req.Ingredients) > 0 {
		parts = append(parts, "ingredientes: "+strings.Join(req.Ingredients, ", "))
	}
	if len(req.Appliances) > 0 {
		parts = append(parts, "electrodomésticos: "+strings.Join(req.Appliances, ", "))
	}
	if len(req.Dietary) > 0 {
		parts = append(parts, "preferencias: "+strings.Join(req.Dietary, ", "))
	}
	parts = append(parts, fmt.Sprintf("raciones: %d", req.Portions))
	return strings.Join(parts, " | ")
}

func renderPrompt(req GenRequest, contextBlock string) string {
	appliances := req.Appliances
	if len(appliances) == 0 {
		appliances = defaultAppliances
	}
	appliancesJSON, _ := json.Marshal(appliances)

	var bits []string
	if len(req.Ingredients) > 0 {
		bits = append(bits, "Ingredientes del usuario: "+strings.Join(req.Ingredients, ", "))
	}
	if len(req.Dietary) > 0 {
		bits = append(bits, "Preferencias del usuario: "+strings.Join(req.Dietary, ", "))
	}
	if len(req.Appliances) > 0 {
		bits = append(bits, "Electrodomésticos del usuario: "+strings.Join(req.Appliances, ", "))
	}
	bits = append(bits, fmt.Sprintf("Raciones deseadas: %d", req.Portions))

	return fmt.Sprintf(promptByMode[req.Mode], appliancesJSON, req.Portions, contextBlock, strings.Join(bits, "\n"))
}

// generateRecipe calls the LLM and decodes its output, degrading to the
// fallback recipe when the call or the decode fails.
func (s *Service) generateRecipe(ctx context.Context, req GenRequest, prompt string) domain.RecipeNeutral {
	raw, err := s.gen.GenerateJSON(ctx, prompt)
	if err != nil {
		s.logger.Warn("recipe generation call failed, using fallback", "error", err)
		return fallbackRecipe(req)
	}
	parsed, err := llm.ExtractJSON(ctx, raw, s.repairer)
	if err != nil {
		s.logger.Warn("recipe generation output unparseable, using fallback", "error", err)
		return fallbackRecipe(req)
	}

	// Round-trip through JSON to decode the loose map into the typed recipe.
	buf, err := json.Marshal(parsed)
	if err != nil {
		return fallbackRecipe(req)
	}
	var recipe domain.RecipeNeutral
	if err := json.Unmarshal(buf, &recipe); err != nil || len(recipe.Steps) == 0 {
		s.logger.Warn("recipe generation output has wrong shape, using fallback")
		return fallbackRecipe(req)
	}
	if recipe.Title == "" {
		recipe.Title = "Receta"
	}
	if recipe.Portions <= 0 {
		recipe.Portions = req.Portions
	}
	return recipe
}

// fallbackRecipe is the safe two-step recipe returned when the LLM output
// is unusable.
func fallbackRecipe(req GenRequest) domain.RecipeNeutral {
	var tools []string
	var tempC *int
	if len(req.Appliances) > 0 {
		tools = req.Appliances[:1]
		for _, a := range req.Appliances {
			if a == "airfryer" {
				tempC = domain.Int(190)
				break
			}
		}
	}
	return domain.RecipeNeutral{
		Title:    "Receta generada",
		Portions: req.Portions,
		Steps: []domain.StepGeneric{
			{
				Action:      domain.ActionPrep,
				Description: "Preparar ingredientes básicos.",
				Ingredients: req.Ingredients,
				TimeMin:     domain.Float(5),
				Notes:       "Fallback: estructura inválida del modelo.",
			},
			{
				Action:       domain.ActionCook,
				Description:  "Cocinar con el electrodoméstico disponible más conveniente.",
				Ingredients:  req.Ingredients,
				Tools:        tools,
				TemperatureC: tempC,
				TimeMin:      domain.Float(12),
			},
		},
	}
}

func sourcesFromHits(hits []rag.FusedHit) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		title, _ := h.Payload["title"].(string)
		text, _ := h.Payload["text"].(string)
		if len(text) > 220 {
			cut := 220
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		sources[i] = Source{ID: h.ID, Score: h.Score, Title: title, Snippet: text}
	}
	return sources
}
