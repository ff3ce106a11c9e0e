package quantify

import (
	"sort"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/units"
)

// CategorizeFunc assigns a shopping category to a normalized item name.
type CategorizeFunc func(name string) string

// Aggregate merges ingredient tuples into per-(name, unit) totals. Each
// item is normalized first; an item whose quantity is still unknown after
// normalization counts as one "ud" occurrence of its name. Output is sorted
// by (name, unit).
func Aggregate(items []domain.IngredientItem) []domain.AggregatedItem {
	type key struct{ name, unit string }
	totals := make(map[key]float64)
	order := []key{}

	add := func(k key, qty float64) {
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] += qty
	}

	for _, it := range items {
		n := units.NormalizeItem(it)
		if n.Name == "" {
			continue
		}
		if n.Qty == nil {
			add(key{n.Name, units.Count}, 1)
			continue
		}
		unit := units.Count
		if n.Unit != nil {
			unit = *n.Unit
		}
		add(key{n.Name, unit}, *n.Qty)
	}

	out := make([]domain.AggregatedItem, 0, len(order))
	for _, k := range order {
		out = append(out, domain.AggregatedItem{
			Name: k.name,
			Qty:  domain.Float(units.DisplayQty(totals[k])),
			Unit: domain.Str(k.unit),
		})
	}
	sortAggregated(out)
	return out
}

// MergeAggregated merges already-aggregated lists on (name, unit), summing
// known quantities. When the running total for a key is unknown, a known
// quantity from any list is adopted.
func MergeAggregated(lists ...[]domain.AggregatedItem) []domain.AggregatedItem {
	type key struct{ name, unit string }
	merged := make(map[key]*domain.AggregatedItem)
	order := []key{}

	for _, list := range lists {
		for _, it := range list {
			unit := units.Count
			if it.Unit != nil {
				unit = *it.Unit
			}
			k := key{it.Name, unit}
			cur, seen := merged[k]
			if !seen {
				cp := domain.AggregatedItem{Name: it.Name, Unit: domain.Str(unit), Category: it.Category}
				if it.Qty != nil {
					cp.Qty = domain.Float(*it.Qty)
				}
				merged[k] = &cp
				order = append(order, k)
				continue
			}
			switch {
			case it.Qty == nil:
			case cur.Qty == nil:
				cur.Qty = domain.Float(*it.Qty)
			default:
				*cur.Qty += *it.Qty
			}
		}
	}

	out := make([]domain.AggregatedItem, 0, len(order))
	for _, k := range order {
		it := *merged[k]
		if it.Qty != nil {
			it.Qty = domain.Float(units.DisplayQty(*it.Qty))
		}
		out = append(out, it)
	}
	sortAggregated(out)
	return out
}

// Categorize tags every item with a shopping category. Tagging is a
// separate pass so aggregation stays independent of the catalog.
func Categorize(items []domain.AggregatedItem, categorize CategorizeFunc) []domain.AggregatedItem {
	if categorize == nil {
		return items
	}
	out := make([]domain.AggregatedItem, len(items))
	for i, it := range items {
		it.Category = categorize(it.Name)
		out[i] = it
	}
	return out
}

func sortAggregated(items []domain.AggregatedItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		ui, uj := "", ""
		if items[i].Unit != nil {
			ui = *items[i].Unit
		}
		if items[j].Unit != nil {
			uj = *items[j].Unit
		}
		return ui < uj
	})
}
