package llm

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnparseable means no strategy could recover JSON from the raw output.
var ErrUnparseable = errors.New("llm: no parseable JSON in output")

// Repairer can ask the model to re-emit valid JSON for the same content.
// It is the last strategy in the recovery chain.
type Repairer interface {
	RepairJSON(ctx context.Context, raw string) (string, error)
}

var fenceRe = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*|\\s*```$")

// StripFences removes leading/trailing markdown code fences.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(strings.TrimSpace(s), ""))
}

// parseStrategy attempts to extract a JSON value from raw model output.
type parseStrategy func(raw string) (any, bool)

// The recovery chain: first success wins.
var strategies = []parseStrategy{
	parseDirect,
	parseBracketed,
	parseTrailingCommas,
}

func parseDirect(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(StripFences(raw)), &v); err != nil {
		return nil, false
	}
	return v, true
}

// parseBracketed trims to the outermost balanced braces or brackets and
// retries the parse.
func parseBracketed(raw string) (any, bool) {
	s := StripFences(raw)
	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		first := strings.IndexByte(s, pair[0])
		last := strings.LastIndexByte(s, pair[1])
		if first == -1 || last <= first {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(s[first:last+1]), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// parseTrailingCommas removes trailing commas, a common model mistake.
func parseTrailingCommas(raw string) (any, bool) {
	s := StripFences(raw)
	if first := strings.IndexAny(s, "[{"); first != -1 {
		if last := strings.LastIndexAny(s, "]}"); last > first {
			s = s[first : last+1]
		}
	}
	var v any
	if err := json.Unmarshal([]byte(trailingCommaRe.ReplaceAllString(s, "$1")), &v); err != nil {
		return nil, false
	}
	return v, true
}

// ExtractJSON recovers a JSON value from raw model output by running the
// pure strategies in order, then — if a Repairer is available — asking the
// model itself to re-emit valid JSON. Returns ErrUnparseable when every
// strategy fails.
func ExtractJSON(ctx context.Context, raw string, repairer Repairer) (any, error) {
	for _, strat := range strategies {
		if v, ok := strat(raw); ok {
			return v, nil
		}
	}
	if repairer != nil {
		repaired, err := repairer.RepairJSON(ctx, raw)
		if err == nil {
			for _, strat := range strategies {
				if v, ok := strat(repaired); ok {
					return v, nil
				}
			}
		}
	}
	return nil, ErrUnparseable
}
