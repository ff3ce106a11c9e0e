// Package quantify turns recipes into shopping quantities: it extracts
// {name, qty, unit} tuples from a recipe via the LLM (with a deterministic
// fallback), and aggregates tuples across recipes into per-unit totals.
package quantify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/llm"
	"github.com/rserravi/fullfoodapp/engine/units"
)

// Generator produces JSON-formatted LLM completions.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Cache memoizes extraction results per user.
type Cache interface {
	Get(ctx context.Context, userID, key string) (string, bool, error)
	Set(ctx context.Context, userID, key, value string, ttl time.Duration) error
}

// cacheTTL applies to every cached extraction, including fallback results,
// so an unreachable LLM is not hammered on every aggregation.
const cacheTTL = 72 * time.Hour

const allowedUnits = "g, gr, gramo, gramos, kg, kilo, kilos, ml, mililitro, mililitros, cl, cc, l, lt, litro, litros, ud, unidad, unidades, pieza, piezas, cucharada, cucharadas, cucharadita, cucharaditas, taza, tazas, cup"

const extractPrompt = `Eres un extractor de ingredientes. Dada la siguiente receta, devuelve SOLO un array JSON de objetos {"name": string, "qty": number|null, "unit": string|null}.
Reglas:
- "unit" debe ser una de: %s. Si no encaja, usa null.
- Si la cantidad no aparece en la receta, usa null. No inventes cantidades.
- Un ingrediente por entrada, sin duplicados.
Raciones: %d
Receta (JSON):
%s`

// Extractor extracts ingredient tuples from recipes.
type Extractor struct {
	gen      Generator
	repairer llm.Repairer
	cache    Cache
	logger   *slog.Logger
}

// NewExtractor builds an Extractor. repairer and cache may be nil.
func NewExtractor(gen Generator, repairer llm.Repairer, cache Cache, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, repairer: repairer, cache: cache, logger: logger}
}

// Extract returns the ingredient tuples of a recipe. It never fails: when
// the LLM is unreachable or its output cannot be parsed, a deterministic
// fallback lists the step ingredients with unknown quantities. Results are
// cached per user keyed by recipe content.
func (e *Extractor) Extract(ctx context.Context, userID string, recipe domain.RecipeNeutral) []domain.IngredientItem {
	key := cacheKey(recipe)
	if e.cache != nil {
		if raw, ok, err := e.cache.Get(ctx, userID, key); err == nil && ok {
			var items []domain.IngredientItem
			if json.Unmarshal([]byte(raw), &items) == nil {
				return items
			}
			e.logger.Warn("discarding corrupt extraction cache entry", "key", key)
		}
	}

	items := e.extractLLM(ctx, recipe)
	if len(items) == 0 {
		items = fallbackExtract(recipe)
	}

	if e.cache != nil {
		if raw, err := json.Marshal(items); err == nil {
			if err := e.cache.Set(ctx, userID, key, string(raw), cacheTTL); err != nil {
				e.logger.Warn("extraction cache write failed", "key", key, "error", err)
			}
		}
	}
	return items
}

// extractLLM runs the primary LLM path. It returns nil when anything along
// the way fails so the caller can fall back.
func (e *Extractor) extractLLM(ctx context.Context, recipe domain.RecipeNeutral) []domain.IngredientItem {
	recipeJSON, err := json.Marshal(recipe)
	if err != nil {
		return nil
	}
	prompt := fmt.Sprintf(extractPrompt, allowedUnits, recipe.Portions, recipeJSON)

	raw, err := e.gen.GenerateJSON(ctx, prompt)
	if err != nil {
		e.logger.Warn("ingredient extraction call failed, using fallback", "error", err)
		return nil
	}
	parsed, err := llm.ExtractJSON(ctx, raw, e.repairer)
	if err != nil {
		e.logger.Warn("ingredient extraction output unparseable, using fallback", "error", err)
		return nil
	}
	items := decodeItems(parsed)
	if items == nil {
		e.logger.Warn("ingredient extraction output has wrong shape, using fallback")
	}
	return items
}

// qtyWithUnitRe matches quantities the model sometimes emits as strings,
// like "200 g" or "1,5 l".
var qtyWithUnitRe = regexp.MustCompile(`^\s*([0-9]+(?:[.,][0-9]+)?)\s*([a-záéíóúñ]*)\s*$`)

// decodeItems converts a parsed JSON value into ingredient tuples. Returns
// nil when the value is not an array of objects.
func decodeItems(v any) []domain.IngredientItem {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]domain.IngredientItem, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		name = domain.NormName(name)
		if name == "" {
			continue
		}
		it := domain.IngredientItem{Name: name}

		if u, ok := obj["unit"].(string); ok && strings.TrimSpace(u) != "" {
			it.Unit = domain.Str(strings.TrimSpace(strings.ToLower(u)))
		}
		it.Qty = decodeQty(obj["qty"], &it)

		// Units outside the allow-list are discarded, not trusted.
		if it.Unit != nil {
			if _, _, ok := units.Canonicalize(it.Unit); !ok {
				it.Unit = nil
			}
		}
		items = append(items, it)
	}
	return items
}

// decodeQty accepts numbers and strings like "200" or "200 g"; a trailing
// unit inside a string quantity fills the unit only when none was given.
func decodeQty(v any, it *domain.IngredientItem) *float64 {
	switch q := v.(type) {
	case float64:
		return domain.Float(q)
	case string:
		m := qtyWithUnitRe.FindStringSubmatch(q)
		if m == nil {
			return nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			return nil
		}
		if m[2] != "" && it.Unit == nil {
			it.Unit = domain.Str(m[2])
		}
		return domain.Float(f)
	}
	return nil
}

// fallbackExtract lists every step ingredient verbatim, deduplicated in
// first-seen order, with quantity and unit unknown.
func fallbackExtract(recipe domain.RecipeNeutral) []domain.IngredientItem {
	seen := make(map[string]bool)
	items := []domain.IngredientItem{}
	for _, step := range recipe.Steps {
		for _, ing := range step.Ingredients {
			name := domain.NormName(ing)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			items = append(items, domain.IngredientItem{Name: name})
		}
	}
	return items
}

// cacheKey hashes the canonical JSON form of a recipe. Serialization is
// field-order stable, so equal recipes always map to the same key.
func cacheKey(recipe domain.RecipeNeutral) string {
	raw, _ := json.Marshal(recipe)
	sum := sha256.Sum256(raw)
	return "ingx:" + hex.EncodeToString(sum[:])[:16]
}
