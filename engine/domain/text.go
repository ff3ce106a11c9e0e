package domain

import (
	"fmt"
	"strings"
)

// FlattenText renders a recipe as plain text suitable for embedding and
// retrieval: title, portions, then one line per step with ingredients,
// tools, and timing condensed.
func (r RecipeNeutral) FlattenText() string {
	var lines []string
	if t := strings.TrimSpace(r.Title); t != "" {
		lines = append(lines, t)
	}
	if r.Portions > 0 {
		lines = append(lines, fmt.Sprintf("raciones: %d", r.Portions))
	}
	for i, st := range r.Steps {
		desc := st.Description
		if desc == "" {
			desc = st.Action
		}
		var extra []string
		if st.TemperatureC != nil {
			extra = append(extra, fmt.Sprintf("%d°C", *st.TemperatureC))
		}
		if st.TimeMin != nil {
			extra = append(extra, fmt.Sprintf("%g min", *st.TimeMin))
		}
		if st.Speed != "" {
			extra = append(extra, "vel "+st.Speed)
		}
		var parts []string
		for _, p := range []string{desc, strings.Join(st.Ingredients, ", "), strings.Join(st.Tools, ", "), strings.Join(extra, " ")} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, fmt.Sprintf("Paso %d: %s", i+1, strings.Join(parts, " | ")))
		}
	}
	return strings.Join(lines, "\n")
}
