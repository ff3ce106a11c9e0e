package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rserravi/fullfoodapp/engine/semantic"
)

// --- Fuse ---

func hit(id string) semantic.SearchHit {
	return semantic.SearchHit{ID: id, Score: 1}
}

func TestFuse_SharedDocWins(t *testing.T) {
	perSpace := map[string][]semantic.SearchHit{
		"mxbai": {hit("x"), hit("y"), hit("z")},
		"jina":  {hit("y"), hit("x"), hit("w")},
	}
	fused := Fuse([]string{"mxbai", "jina"}, perSpace)

	if len(fused) != 4 {
		t.Fatalf("expected 4 fused hits, got %d", len(fused))
	}
	// x and y both score 1/61 + 1/62; x was seen first so it keeps the tie.
	if fused[0].ID != "x" || fused[1].ID != "y" {
		t.Fatalf("order = %s,%s, want x,y", fused[0].ID, fused[1].ID)
	}
	if fused[0].Score != fused[1].Score {
		t.Fatal("x and y must tie")
	}
	want := 1.0/61 + 1.0/62
	if diff := fused[0].Score - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("score = %v, want %v", fused[0].Score, want)
	}
	// z and w each appear once at rank 3; z was seen first.
	if fused[2].ID != "z" || fused[3].ID != "w" {
		t.Fatalf("tail = %s,%s, want z,w", fused[2].ID, fused[3].ID)
	}
}

func TestFuse_SingleSpaceKeepsOrder(t *testing.T) {
	perSpace := map[string][]semantic.SearchHit{
		"mxbai": {hit("a"), hit("b"), hit("c")},
	}
	fused := Fuse([]string{"mxbai"}, perSpace)
	if fused[0].ID != "a" || fused[1].ID != "b" || fused[2].ID != "c" {
		t.Fatalf("order lost: %v", fused)
	}
}

func TestFuse_Empty(t *testing.T) {
	if got := Fuse([]string{"mxbai"}, nil); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestFuse_KeepsPayload(t *testing.T) {
	perSpace := map[string][]semantic.SearchHit{
		"mxbai": {{ID: "a", Payload: map[string]any{"title": "Paella"}}},
		"jina":  {{ID: "a"}},
	}
	fused := Fuse([]string{"mxbai", "jina"}, perSpace)
	if fused[0].Payload["title"] != "Paella" {
		t.Fatal("payload lost in fusion")
	}
}

// --- Retriever ---

type mockEmbedder struct {
	vectors map[string][]float32
	spaces  []string
}

func (m *mockEmbedder) EmbedQuery(context.Context, string) map[string][]float32 {
	return m.vectors
}
func (m *mockEmbedder) Spaces() []string { return m.spaces }

type mockSearcher struct {
	resp map[string][]semantic.SearchHit
	err  error
}

func (m *mockSearcher) Search(context.Context, map[string][]float32, int) (map[string][]semantic.SearchHit, error) {
	return m.resp, m.err
}

func TestHybridRetrieve(t *testing.T) {
	emb := &mockEmbedder{
		vectors: map[string][]float32{"mxbai": {1}, "jina": {1}},
		spaces:  []string{"mxbai", "jina"},
	}
	search := &mockSearcher{resp: map[string][]semantic.SearchHit{
		"mxbai": {hit("a"), hit("b")},
		"jina":  {hit("b"), hit("a")},
	}}
	r := New(emb, search, DefaultOptions(), nil)

	fused, err := r.HybridRetrieve(context.Background(), "lentejas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fused) != 2 || fused[0].ID != "a" {
		t.Fatalf("unexpected result: %v", fused)
	}
}

func TestHybridRetrieve_NoVectors(t *testing.T) {
	r := New(&mockEmbedder{}, &mockSearcher{}, DefaultOptions(), nil)
	_, err := r.HybridRetrieve(context.Background(), "q")
	if !errors.Is(err, ErrNoQueryVectors) {
		t.Fatalf("want ErrNoQueryVectors, got %v", err)
	}
}

func TestHybridRetrieve_SearchError(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{"mxbai": {1}}, spaces: []string{"mxbai"}}
	r := New(emb, &mockSearcher{err: errors.New("down")}, DefaultOptions(), nil)
	if _, err := r.HybridRetrieve(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

// --- BuildContext ---

func TestBuildContext_FormatAndBudget(t *testing.T) {
	long := strings.Repeat("relleno ", 100) // well past the snippet cap
	hits := []FusedHit{
		{ID: "a", Payload: map[string]any{"title": "Paella", "text": "arroz con cosas"}},
		{ID: "b", Payload: map[string]any{"title": "Lentejas", "text": long}},
		{ID: "c", Payload: map[string]any{"title": "Gazpacho", "text": long}},
		{ID: "d", Payload: map[string]any{"title": "Tortilla", "text": long}},
		{ID: "e", Payload: map[string]any{"title": "Cocido", "text": long}},
	}
	got := BuildContext(hits)

	lines := strings.Split(got, "\n")
	if !strings.HasPrefix(lines[0], "- title: Paella | text: arroz con cosas") {
		t.Fatalf("wrong first line: %q", lines[0])
	}
	if len(got) > 1400+1 {
		t.Fatalf("context exceeds budget: %d chars", len(got))
	}
	if len(lines) >= len(hits) {
		t.Fatal("budget should have dropped trailing hits")
	}
}

func TestBuildContext_FirstLineAlwaysFits(t *testing.T) {
	hits := []FusedHit{
		{ID: "a", Payload: map[string]any{"title": "X", "text": strings.Repeat("a", 5000)}},
	}
	got := BuildContext(hits)
	if got == "" {
		t.Fatal("first hit must always produce a line")
	}
	if len(got) > len("- title: X | text: ")+400 {
		t.Fatalf("snippet not clipped: %d chars", len(got))
	}
}

func TestBuildContext_CollapsesNewlines(t *testing.T) {
	hits := []FusedHit{
		{ID: "a", Payload: map[string]any{"title": "X", "text": "línea uno\nlínea dos"}},
	}
	got := BuildContext(hits)
	if strings.Count(got, "\n") != 0 {
		t.Fatalf("snippet newlines must be collapsed: %q", got)
	}
	if !strings.Contains(got, "línea uno línea dos") {
		t.Fatalf("unexpected snippet: %q", got)
	}
}

func TestSnippet_RuneBoundary(t *testing.T) {
	// 399 ASCII bytes followed by a two-byte rune straddling the cap.
	text := strings.Repeat("a", snippetMaxLen-1) + "ñ después"
	got := snippet(text)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a rune: %q", got[len(got)-4:])
	}
	if len(got) != snippetMaxLen-1 {
		t.Fatalf("expected cut before the rune, got %d bytes", len(got))
	}
}

func TestBuildContext_Empty(t *testing.T) {
	if got := BuildContext(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
