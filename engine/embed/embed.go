// Package embed turns text into vectors across several embedding models.
// Each configured model populates one named vector space; downstream
// components address spaces by short key rather than full model name.
package embed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rserravi/fullfoodapp/pkg/fn"
)

// Client is the minimal surface the service needs from an embedding backend.
type Client interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// ShortKey maps a model identifier to the stable vector-space name used in
// the collection schema. Known families keep their short alias so the space
// name survives model version bumps.
func ShortKey(model string) string {
	switch {
	case strings.Contains(model, "mxbai"):
		return "mxbai"
	case strings.Contains(model, "jina"):
		return "jina"
	}
	r := strings.NewReplacer(":", "_", "/", "_")
	return r.Replace(model)
}

// Service embeds texts under every configured model.
type Service struct {
	client Client
	models []string
	logger *slog.Logger
}

func New(client Client, models []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, models: models, logger: logger}
}

// Spaces returns the short keys of the configured models, in order.
func (s *Service) Spaces() []string {
	return fn.Map(s.models, ShortKey)
}

// EmbedMulti embeds every text under every configured model and returns the
// vectors keyed by space short key. It never fails outright: when a batch
// call errors it retries item by item, and items that still fail get an
// empty vector so positions stay aligned with the input texts.
func (s *Service) EmbedMulti(ctx context.Context, texts []string) map[string][][]float32 {
	out := make(map[string][][]float32, len(s.models))
	for _, model := range s.models {
		out[ShortKey(model)] = s.embedModel(ctx, model, texts)
	}
	return out
}

func (s *Service) embedModel(ctx context.Context, model string, texts []string) [][]float32 {
	vecs, err := s.client.EmbedBatch(ctx, model, texts)
	if err == nil && len(vecs) == len(texts) {
		return vecs
	}
	if err != nil {
		s.logger.Warn("embed batch failed, falling back to per-item", "model", model, "error", err)
	} else {
		s.logger.Warn("embed batch returned wrong count, falling back to per-item",
			"model", model, "want", len(texts), "got", len(vecs))
	}

	vecs = make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.client.Embed(ctx, model, text)
		if err != nil {
			s.logger.Warn("embed item failed", "model", model, "index", i, "error", err)
			v = []float32{}
		}
		vecs[i] = v
	}
	return vecs
}

// EmbedQuery embeds a single query under every configured model. Spaces
// whose model fails or returns an empty vector are omitted from the result.
func (s *Service) EmbedQuery(ctx context.Context, query string) map[string][]float32 {
	out := make(map[string][]float32, len(s.models))
	for _, model := range s.models {
		v, err := s.client.Embed(ctx, model, query)
		if err != nil {
			s.logger.Warn("query embed failed", "model", model, "error", err)
			continue
		}
		if len(v) == 0 {
			s.logger.Warn("query embed returned empty vector", "model", model)
			continue
		}
		out[ShortKey(model)] = v
	}
	return out
}
