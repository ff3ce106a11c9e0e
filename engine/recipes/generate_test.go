package recipes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rserravi/fullfoodapp/engine/rag"
)

type mockRetriever struct {
	hits  []rag.FusedHit
	err   error
	query string
}

func (m *mockRetriever) HybridRetrieve(_ context.Context, query string) ([]rag.FusedHit, error) {
	m.query = query
	return m.hits, m.err
}

type mockGen struct {
	out    string
	err    error
	prompt string
}

func (m *mockGen) GenerateJSON(_ context.Context, prompt string) (string, error) {
	m.prompt = prompt
	return m.out, m.err
}

func contextHits() []rag.FusedHit {
	return []rag.FusedHit{
		{ID: "h1", Score: 0.03, Payload: map[string]any{"title": "Calabacín asado", "text": "Se asa el calabacín con pimiento."}},
	}
}

const validRecipeJSON = `{"title":"Calabacín al horno","portions":2,"steps_generic":[{"action":"prep","description":"Cortar.","ingredients":["calabacín"],"batching":false},{"action":"cook","description":"Asar.","temperature_c":200,"time_min":20,"batching":false}]}`

func TestGenerate_HappyPath(t *testing.T) {
	ret := &mockRetriever{hits: contextHits()}
	gen := &mockGen{out: validRecipeJSON}
	svc := New(ret, gen, nil, nil)

	resp, err := svc.Generate(context.Background(), GenRequest{
		Ingredients: []string{"calabacín", "pimiento"},
		Portions:    2,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Recipe.Title != "Calabacín al horno" || len(resp.Recipe.Steps) != 2 {
		t.Fatalf("unexpected recipe: %+v", resp.Recipe)
	}
	if resp.Mode != ModeHybrid {
		t.Fatalf("default mode = %q, want hybrid", resp.Mode)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Title != "Calabacín asado" {
		t.Fatalf("unexpected sources: %v", resp.Sources)
	}
	if !strings.Contains(ret.query, "ingredientes: calabacín, pimiento") {
		t.Fatalf("query missing ingredients: %q", ret.query)
	}
	if !strings.Contains(gen.prompt, "Calabacín asado") {
		t.Fatal("prompt missing retrieved context")
	}
}

func TestGenerate_OutOfRangeValuesNormalized(t *testing.T) {
	raw := `{"title":"X","portions":2,"steps_generic":[{"action":"cook","description":"y","temperature_c":900,"time_min":-3,"batching":false}]}`
	svc := New(&mockRetriever{hits: contextHits()}, &mockGen{out: raw}, nil, nil)

	resp, err := svc.Generate(context.Background(), GenRequest{Portions: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	step := resp.Recipe.Steps[0]
	if step.TemperatureC != nil || step.TimeMin != nil {
		t.Fatalf("out-of-range values must become unknown: %+v", step)
	}
}

func TestGenerate_FallbackOnLLMError(t *testing.T) {
	svc := New(&mockRetriever{hits: contextHits()}, &mockGen{err: errors.New("down")}, nil, nil)

	resp, err := svc.Generate(context.Background(), GenRequest{
		Ingredients: []string{"calabacín"},
		Appliances:  []string{"airfryer"},
		Portions:    3,
	})
	if err != nil {
		t.Fatalf("LLM failure must not surface: %v", err)
	}
	if resp.Recipe.Title != "Receta generada" || len(resp.Recipe.Steps) != 2 {
		t.Fatalf("expected fallback recipe, got %+v", resp.Recipe)
	}
	if resp.Recipe.Portions != 3 {
		t.Fatalf("fallback portions = %d, want 3", resp.Recipe.Portions)
	}
	cook := resp.Recipe.Steps[1]
	if cook.TemperatureC == nil || *cook.TemperatureC != 190 {
		t.Fatal("airfryer fallback must preheat to 190")
	}
}

func TestGenerate_FallbackOnGarbageOutput(t *testing.T) {
	svc := New(&mockRetriever{hits: contextHits()}, &mockGen{out: "no soy json"}, nil, nil)
	resp, err := svc.Generate(context.Background(), GenRequest{Portions: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Recipe.Title != "Receta generada" {
		t.Fatalf("expected fallback recipe, got %+v", resp.Recipe)
	}
}

func TestGenerate_RetrievalOutageSurfaces(t *testing.T) {
	svc := New(&mockRetriever{err: rag.ErrNoQueryVectors}, &mockGen{out: validRecipeJSON}, nil, nil)
	if _, err := svc.Generate(context.Background(), GenRequest{Portions: 2}); !errors.Is(err, rag.ErrNoQueryVectors) {
		t.Fatalf("want ErrNoQueryVectors, got %v", err)
	}
}

func TestGenerate_UnsupportedMode(t *testing.T) {
	svc := New(&mockRetriever{}, &mockGen{}, nil, nil)
	_, err := svc.Generate(context.Background(), GenRequest{Mode: "telepathic"})
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestGenerate_ModeSelectsTemplate(t *testing.T) {
	gen := &mockGen{out: validRecipeJSON}
	svc := New(&mockRetriever{hits: contextHits()}, gen, nil, nil)

	if _, err := svc.Generate(context.Background(), GenRequest{Mode: ModeStrict, Portions: 2}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(gen.prompt, "EXCLUSIVAMENTE") {
		t.Fatal("strict template not used")
	}
}

func TestNormalizeRequest_Clamps(t *testing.T) {
	req := GenRequest{Portions: 50, TopK: 20}
	normalizeRequest(&req)
	if req.Portions != 12 || req.TopK != 8 || req.Mode != ModeHybrid {
		t.Fatalf("unexpected: %+v", req)
	}
}

func TestSourcesFromHits_SnippetRuneBoundary(t *testing.T) {
	hits := []rag.FusedHit{
		{ID: "a", Payload: map[string]any{
			"title": "Sofrito",
			"text":  strings.Repeat("a", 219) + "ñ y más",
		}},
	}
	sources := sourcesFromHits(hits)
	if !utf8.ValidString(sources[0].Snippet) {
		t.Fatalf("snippet split a rune: %q", sources[0].Snippet)
	}
	if len(sources[0].Snippet) != 219 {
		t.Fatalf("expected cut before the rune, got %d bytes", len(sources[0].Snippet))
	}
}
