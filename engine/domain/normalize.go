package domain

import (
	"fmt"
	"strings"
)

// ValidateDocument checks a document before ingestion.
func ValidateDocument(d Document) error {
	if strings.TrimSpace(d.Text) == "" {
		return NewValidationError("text", d.Text, ErrEmptyText)
	}
	return nil
}

// ValidateRecipe checks the parts of a recipe that cannot be repaired.
// Out-of-range temperatures and times are not errors; NormalizeRecipe
// clears them instead.
func ValidateRecipe(r RecipeNeutral) error {
	if strings.TrimSpace(r.Title) == "" {
		return NewValidationError("title", r.Title, ErrEmptyTitle)
	}
	if r.Portions <= 0 {
		return NewValidationError("portions", fmt.Sprintf("%d", r.Portions), ErrInvalidPortions)
	}
	for i, st := range r.Steps {
		if st.Action != "" && !ValidActions[st.Action] {
			return NewValidationError(fmt.Sprintf("steps_generic[%d].action", i), st.Action, ErrInvalidAction)
		}
	}
	return nil
}

// NormalizeRecipe clears noisy step values instead of rejecting the recipe:
// temperatures outside [0,300] and non-positive times become unknown (nil).
func NormalizeRecipe(r RecipeNeutral) RecipeNeutral {
	steps := make([]StepGeneric, len(r.Steps))
	for i, st := range r.Steps {
		if st.TemperatureC != nil && (*st.TemperatureC < MinTemperatureC || *st.TemperatureC > MaxTemperatureC) {
			st.TemperatureC = nil
		}
		if st.TimeMin != nil && *st.TimeMin <= 0 {
			st.TimeMin = nil
		}
		steps[i] = st
	}
	r.Steps = steps
	return r
}
