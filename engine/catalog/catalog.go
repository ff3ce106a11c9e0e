// Package catalog assigns shopping categories to ingredient names. A
// per-user product catalog (plus global entries) takes precedence; names
// not in the catalog fall through to a keyword heuristic table.
package catalog

import (
	"context"
	"strings"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

// Product is one catalog entry. Global entries are visible to every user.
type Product struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Synonyms []string `json:"synonyms,omitempty"`
	IsGlobal bool     `json:"is_global"`
}

// Store lists the catalog visible to one user: their own entries plus
// global ones.
type Store interface {
	ListProducts(ctx context.Context, userID string) ([]Product, error)
}

// DefaultCategory is the catch-all for names nothing else matches.
const DefaultCategory = "otros"

// BaseCategories is the recommended category set, in display order.
var BaseCategories = []string{
	"verduras", "frutas", "lácteos", "huevos", "carnes", "pescado",
	"legumbres", "cereales/pastas", "panadería", "conservas",
	"especias/salsas", "aceites/vinagres", "dulces", "bebidas", "limpieza",
	DefaultCategory,
}

type heuristic struct {
	category string
	words    []string
}

// heuristics is checked in order; the first category whose keyword is
// contained in the name wins.
var heuristics = []heuristic{
	{"verduras", []string{"calabacín", "pimiento", "cebolla", "zanahoria", "lechuga", "tomate", "pepino", "ajo", "berenjena"}},
	{"frutas", []string{"manzana", "plátano", "pera", "naranja", "limón", "fresa", "melón", "sandía", "uva"}},
	{"lácteos", []string{"leche", "yogur", "queso", "mantequilla", "nata"}},
	{"huevos", []string{"huevo", "huevos"}},
	{"carnes", []string{"pollo", "ternera", "cerdo", "pavo", "cordero"}},
	{"pescado", []string{"salmón", "merluza", "atún", "bacalao", "gamba", "gambas"}},
	{"legumbres", []string{"garbanzo", "lenteja", "alubia", "judía"}},
	{"cereales/pastas", []string{"pasta", "arroz", "espagueti", "macarrón", "cuscús", "quinoa"}},
	{"panadería", []string{"pan", "harina", "levadura"}},
	{"conservas", []string{"atún en lata", "tomate frito", "maíz en lata"}},
	{"especias/salsas", []string{"sal", "pimienta", "pimentón", "comino", "curry", "ketchup", "mostaza", "mayonesa", "salsa"}},
	{"aceites/vinagres", []string{"aceite", "vinagre"}},
	{"dulces", []string{"azúcar", "chocolate", "galleta", "miel", "mermelada"}},
	{"bebidas", []string{"agua", "zumo", "refresco"}},
	{"limpieza", []string{"lavavajillas", "lejía", "detergente"}},
}

// Categorizer resolves names against a loaded catalog snapshot.
type Categorizer struct {
	products []Product
}

// NewCategorizer builds a Categorizer over a catalog snapshot. A nil or
// empty snapshot degrades to heuristics only.
func NewCategorizer(products []Product) *Categorizer {
	return &Categorizer{products: products}
}

// ForUser loads the catalog visible to userID and returns a Categorizer
// over it. A store failure degrades to heuristics only.
func ForUser(ctx context.Context, store Store, userID string) (*Categorizer, error) {
	products, err := store.ListProducts(ctx, userID)
	if err != nil {
		return NewCategorizer(nil), err
	}
	return NewCategorizer(products), nil
}

// Category resolves one name: exact catalog match (name, then synonyms),
// then keyword containment against the heuristic table, then the catch-all.
func (c *Categorizer) Category(name string) string {
	n := domain.NormName(name)
	for _, p := range c.products {
		if domain.NormName(p.Name) == n {
			return orDefault(p.Category)
		}
		for _, syn := range p.Synonyms {
			if domain.NormName(syn) == n {
				return orDefault(p.Category)
			}
		}
	}
	for _, h := range heuristics {
		for _, w := range h.words {
			if strings.Contains(n, w) {
				return h.category
			}
		}
	}
	return DefaultCategory
}

func orDefault(category string) string {
	if category == "" {
		return DefaultCategory
	}
	return category
}
