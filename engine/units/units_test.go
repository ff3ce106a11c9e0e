package units

import (
	"testing"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		unit   string
		family string
		factor float64
	}{
		{"g", Grams, 1},
		{"gr", Grams, 1},
		{"gramos", Grams, 1},
		{"kg", Grams, 1000},
		{"Kilo", Grams, 1000},
		{"ml", Millilitres, 1},
		{"l", Millilitres, 1000},
		{"lt", Millilitres, 1000},
		{"litros", Millilitres, 1000},
		{"cl", Millilitres, 10},
		{"cc", Millilitres, 1},
		{"ud", Count, 1},
		{"unidades", Count, 1},
		{"piezas", Count, 1},
		{"cucharada", Millilitres, 15},
		{"cucharadita", Millilitres, 5},
		{"taza", Millilitres, 240},
		{"cup", Millilitres, 240},
	}
	for _, tt := range tests {
		family, factor, ok := Canonicalize(&tt.unit)
		if !ok {
			t.Errorf("Canonicalize(%q): not recognised", tt.unit)
			continue
		}
		if family != tt.family || factor != tt.factor {
			t.Errorf("Canonicalize(%q) = (%s, %g), want (%s, %g)", tt.unit, family, factor, tt.family, tt.factor)
		}
	}
}

func TestCanonicalize_Unknown(t *testing.T) {
	if _, _, ok := Canonicalize(nil); ok {
		t.Error("nil unit should not canonicalize")
	}
	u := "lata"
	if _, _, ok := Canonicalize(&u); ok {
		t.Error("unknown unit should not canonicalize")
	}
}

func TestNormalizeItem_LitresToMillilitres(t *testing.T) {
	got := NormalizeItem(domain.IngredientItem{Name: "Leche", Qty: domain.Float(1), Unit: domain.Str("l")})
	if got.Name != "leche" {
		t.Errorf("name = %q, want leche", got.Name)
	}
	if got.Qty == nil || *got.Qty != 1000 {
		t.Errorf("qty = %v, want 1000", got.Qty)
	}
	if got.Unit == nil || *got.Unit != Millilitres {
		t.Errorf("unit = %v, want ml", got.Unit)
	}
}

func TestNormalizeItem_SpoonBeforeAlias(t *testing.T) {
	got := NormalizeItem(domain.IngredientItem{Name: "aceite de oliva", Qty: domain.Float(2), Unit: domain.Str("cucharadas")})
	if got.Qty == nil || *got.Qty != 30 {
		t.Errorf("qty = %v, want 30", got.Qty)
	}
	if got.Unit == nil || *got.Unit != Millilitres {
		t.Errorf("unit = %v, want ml", got.Unit)
	}
}

func TestNormalizeItem_NoLiquidHintForSal(t *testing.T) {
	got := NormalizeItem(domain.IngredientItem{Name: "Sal"})
	if got.Unit != nil {
		t.Errorf("sal should keep unit unknown, got %q", *got.Unit)
	}
	if got.Qty != nil {
		t.Errorf("sal should keep qty unknown, got %v", *got.Qty)
	}
}

func TestNormalizeItem_LiquidHint(t *testing.T) {
	got := NormalizeItem(domain.IngredientItem{Name: "Aceite de oliva"})
	if got.Unit == nil || *got.Unit != Millilitres {
		t.Errorf("liquid name should default to ml, got %v", got.Unit)
	}
	if got.Qty != nil {
		t.Error("liquid hint must never invent a quantity")
	}
}

func TestNormalizeItem_UnknownUnitDiscarded(t *testing.T) {
	got := NormalizeItem(domain.IngredientItem{Name: "atún", Qty: domain.Float(2), Unit: domain.Str("lata")})
	if got.Unit != nil {
		t.Errorf("unknown unit should be discarded, got %q", *got.Unit)
	}
	if got.Qty == nil || *got.Qty != 2 {
		t.Errorf("qty should survive unknown unit, got %v", got.Qty)
	}
}

func TestDisplayQty(t *testing.T) {
	if got := DisplayQty(29.9999999); got != 30 {
		t.Errorf("DisplayQty near-integer = %v, want 30", got)
	}
	if got := DisplayQty(2.5); got != 2.5 {
		t.Errorf("DisplayQty(2.5) = %v, want 2.5", got)
	}
	if got := DisplayQty(1000.0000001); got != 1000 {
		t.Errorf("DisplayQty = %v, want 1000", got)
	}
}
