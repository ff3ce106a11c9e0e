// Package units canonicalizes raw quantity/unit spellings into one of three
// measurement families: grams, millilitres, and count-units. All alias and
// heuristic tables are data, kept here so they can be tested and extended
// without touching the aggregation pipeline.
package units

import (
	"math"
	"strings"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

// Canonical unit families.
const (
	Grams       = "g"
	Millilitres = "ml"
	Count       = "ud"
)

// displayEpsilon is the tolerance for rendering a total as an integer.
const displayEpsilon = 1e-6

type alias struct {
	family string
	factor float64
}

// unitAliases maps raw unit spellings to a family and a multiplying factor
// into that family's base unit.
var unitAliases = map[string]alias{
	"g":          {Grams, 1},
	"gr":         {Grams, 1},
	"gramo":      {Grams, 1},
	"gramos":     {Grams, 1},
	"kg":         {Grams, 1000},
	"kilo":       {Grams, 1000},
	"kilos":      {Grams, 1000},
	"ml":         {Millilitres, 1},
	"mililitro":  {Millilitres, 1},
	"mililitros": {Millilitres, 1},
	"l":          {Millilitres, 1000},
	"lt":         {Millilitres, 1000},
	"litro":      {Millilitres, 1000},
	"litros":     {Millilitres, 1000},
	"cl":         {Millilitres, 10},
	"cc":         {Millilitres, 1},
	"ud":         {Count, 1},
	"unidad":     {Count, 1},
	"unidades":   {Count, 1},
	"pieza":      {Count, 1},
	"piezas":     {Count, 1},
}

// spoonAliases maps spoon/cup colloquialisms to millilitres. Applied before
// the generic alias lookup.
var spoonAliases = map[string]float64{
	"cucharada":    15,
	"cucharadas":   15,
	"cucharadita":  5,
	"cucharaditas": 5,
	"taza":         240,
	"tazas":        240,
	"cup":          240,
	"cups":         240,
}

// liquidHints marks ingredient names that default to the millilitre family
// when no quantity or unit is known. The unit is hinted, never the amount.
var liquidHints = map[string]bool{
	"agua":    true,
	"aceite":  true,
	"leche":   true,
	"caldo":   true,
	"vinagre": true,
	"zumo":    true,
	"salsa":   true,
}

// Canonicalize resolves a raw unit spelling to its family and the factor
// into the family base unit. Returns ok=false for nil or unknown units.
func Canonicalize(unit *string) (family string, factor float64, ok bool) {
	if unit == nil {
		return "", 0, false
	}
	u := strings.TrimSpace(strings.ToLower(*unit))
	if ml, spoon := spoonAliases[u]; spoon {
		return Millilitres, ml, true
	}
	if a, known := unitAliases[u]; known {
		return a.family, a.factor, true
	}
	return "", 0, false
}

// NormalizeItem canonicalizes one ingredient tuple: the name is lowercased
// with collapsed whitespace, the quantity is scaled into the family base
// unit, and unknown units are discarded rather than propagated. When both
// quantity and unit are unknown and the name suggests a liquid, the unit
// defaults to millilitres with the quantity left unknown.
func NormalizeItem(it domain.IngredientItem) domain.IngredientItem {
	out := domain.IngredientItem{Name: domain.NormName(it.Name)}
	if it.Qty != nil {
		q := *it.Qty
		out.Qty = &q
	}

	family, factor, ok := Canonicalize(it.Unit)
	switch {
	case ok:
		if out.Qty != nil {
			scaled := *out.Qty * factor
			out.Qty = &scaled
		}
		f := family
		out.Unit = &f
	case it.Unit == nil && out.Qty == nil && isLiquidName(out.Name):
		ml := Millilitres
		out.Unit = &ml
	}
	return out
}

// isLiquidName reports whether any whole word of the name is a liquid hint.
func isLiquidName(name string) bool {
	for _, w := range strings.Fields(name) {
		if liquidHints[w] {
			return true
		}
	}
	return false
}

// DisplayQty rounds a total to the nearest integer when it is within 1e-6
// of one; other values pass through untouched.
func DisplayQty(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) <= displayEpsilon {
		return r
	}
	return v
}
