package rag

import (
	"sort"

	"github.com/rserravi/fullfoodapp/engine/semantic"
)

// fusionK dampens the weight of lower ranks in reciprocal-rank fusion.
const fusionK = 60

// FusedHit is one document after cross-space rank fusion.
type FusedHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Fuse merges per-space ranked hit lists with reciprocal-rank fusion: each
// hit contributes 1/(k+rank) to its document's score, rank starting at 1.
// spaces fixes the iteration order so results are deterministic; ties keep
// the order in which documents were first seen.
func Fuse(spaces []string, perSpace map[string][]semantic.SearchHit) []FusedHit {
	type acc struct {
		hit   FusedHit
		order int
	}
	byID := make(map[string]*acc)
	seen := 0

	for _, space := range spaces {
		for rank, h := range perSpace[space] {
			a, ok := byID[h.ID]
			if !ok {
				a = &acc{
					hit:   FusedHit{ID: h.ID, Payload: h.Payload},
					order: seen,
				}
				byID[h.ID] = a
				seen++
			}
			a.hit.Score += 1.0 / float64(fusionK+rank+1)
			if a.hit.Payload == nil {
				a.hit.Payload = h.Payload
			}
		}
	}

	fused := make([]*acc, 0, len(byID))
	for _, a := range byID {
		fused = append(fused, a)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].hit.Score != fused[j].hit.Score {
			return fused[i].hit.Score > fused[j].hit.Score
		}
		return fused[i].order < fused[j].order
	})

	out := make([]FusedHit, len(fused))
	for i, a := range fused {
		out[i] = a.hit
	}
	return out
}
