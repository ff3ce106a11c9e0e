// Package rag retrieves recipe context for generation. A query is embedded
// into every configured vector space, each space is searched independently,
// and the per-space rankings are fused into one list.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rserravi/fullfoodapp/engine/semantic"
)

// ErrNoQueryVectors means no embedding space produced a query vector, so
// retrieval cannot run at all.
var ErrNoQueryVectors = errors.New("rag: no query vectors")

// MultiEmbedder embeds a query under every configured model.
type MultiEmbedder interface {
	EmbedQuery(ctx context.Context, query string) map[string][]float32
	Spaces() []string
}

// Searcher abstracts per-space vector search.
type Searcher interface {
	Search(ctx context.Context, queryVectors map[string][]float32, topK int) (map[string][]semantic.SearchHit, error)
}

// Options configures retrieval behaviour.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		SearchTimeout: 5 * time.Second,
	}
}

// Retriever runs the hybrid multi-space retrieval pipeline.
type Retriever struct {
	embedder MultiEmbedder
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

func New(embedder MultiEmbedder, searcher Searcher, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Retriever{embedder: embedder, searcher: searcher, opts: opts, logger: logger}
}

// HybridRetrieve embeds the query into every space, searches each space for
// the top-k nearest documents, and fuses the rankings.
func (r *Retriever) HybridRetrieve(ctx context.Context, query string) ([]FusedHit, error) {
	vectors := r.embedder.EmbedQuery(ctx, query)
	if len(vectors) == 0 {
		return nil, ErrNoQueryVectors
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()

	perSpace, err := r.searcher.Search(searchCtx, vectors, r.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	fused := Fuse(r.embedder.Spaces(), perSpace)
	r.logger.Info("hybrid retrieve", "spaces", len(perSpace), "fused", len(fused))
	return fused, nil
}

const (
	contextBudget = 1400
	snippetMaxLen = 400
)

// BuildContext renders fused hits into a prompt context block. Each hit
// becomes one "- title: X | text: Y" line with the text clipped to a snippet;
// lines are added until the character budget is hit. The first line always
// fits so a non-empty hit list never yields an empty context.
func BuildContext(hits []FusedHit) string {
	var b strings.Builder
	for i, h := range hits {
		title, _ := h.Payload["title"].(string)
		text, _ := h.Payload["text"].(string)
		line := "- title: " + title + " | text: " + snippet(text)
		if i > 0 && b.Len()+len(line)+1 > contextBudget {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetMaxLen {
		return text
	}
	cut := snippetMaxLen
	// Back off to a rune boundary so accented text is not cut mid-character.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
