package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/embed"
	"github.com/rserravi/fullfoodapp/engine/ingest"
	"github.com/rserravi/fullfoodapp/engine/quantify"
	"github.com/rserravi/fullfoodapp/engine/rag"
	"github.com/rserravi/fullfoodapp/engine/recipes"
	"github.com/rserravi/fullfoodapp/engine/semantic"
	"github.com/rserravi/fullfoodapp/engine/store"
	"github.com/rserravi/fullfoodapp/pkg/metrics"
)

// --- Fakes ---

type fakePoints struct {
	upserts []*pb.UpsertPoints
	deletes []*pb.DeletePoints
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.deletes = append(f.deletes, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return &pb.SearchResponse{
		Result: []*pb.ScoredPoint{
			{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "doc-1"}},
				Score: 0.9,
				Payload: map[string]*pb.Value{
					"title": {Kind: &pb.Value_StringValue{StringValue: "Lentejas estofadas"}},
					"text":  {Kind: &pb.Value_StringValue{StringValue: "Cocer lentejas con verduras."}},
				},
			},
		},
	}, nil
}

type fakeCollections struct{}

func (fakeCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return &pb.ListCollectionsResponse{}, nil
}

func (fakeCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (fakeCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakeEmbed struct{}

func (fakeEmbed) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (fakeEmbed) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeGen struct {
	out string
}

func (f *fakeGen) GenerateJSON(_ context.Context, _ string) (string, error) {
	return f.out, nil
}

const recipeJSON = `{"title":"Lentejas estofadas","portions":2,"steps_generic":[
	{"action":"prep","description":"Picar verduras","ingredients":["zanahoria","cebolla"],"time_min":5,"batching":false},
	{"action":"cook","description":"Cocer lentejas","ingredients":["lentejas"],"time_min":30,"batching":false}]}`

const ingredientsJSON = `[{"name":"lentejas","qty":200,"unit":"g"},{"name":"zanahoria","qty":1,"unit":"ud"}]`

func newTestServer(t *testing.T) (*server, *fakePoints) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pts := &fakePoints{}
	vectors := semantic.NewWithClients(pts, fakeCollections{}, "test", logger)
	embedder := embed.New(fakeEmbed{}, []string{"mxbai-embed-large"}, logger)
	retriever := rag.New(embedder, vectors, rag.DefaultOptions(), logger)

	return &server{
		logger:    logger,
		db:        db,
		vectors:   vectors,
		embedder:  embedder,
		recipes:   recipes.New(retriever, &fakeGen{out: recipeJSON}, nil, logger),
		extractor: quantify.NewExtractor(&fakeGen{out: ingredientsJSON}, nil, db.Cache(), logger),
		ingest:    ingest.Deps{Embedder: embedder, Store: vectors, Logger: logger},
		reg:       metrics.New(),
		dims:      map[string]int{"mxbai": 2},
	}, pts
}

func do(t *testing.T, s *server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.routes(mux)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return v
}

// --- Tests ---

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.reg.Counter("x", "").Inc()
	rec := do(t, s, "GET", "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "x 1") {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestSearch(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/rag/search", `{"query":"lentejas","top_k":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string][]SearchResult](t, rec)
	results := resp["results"]
	if len(results) != 1 || results[0].ID != "doc-1" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Lentejas estofadas" {
		t.Fatalf("title = %v", results[0].Title)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "POST", "/api/rag/search", `{"query":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestInline(t *testing.T) {
	s, pts := newTestServer(t)
	rec := do(t, s, "POST", "/api/rag/ingest", `{"documents":[{"text":"Sopa de verduras con puerro."}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	if resp["ingested"] != float64(1) {
		t.Fatalf("resp = %+v", resp)
	}
	if len(pts.upserts) == 0 {
		t.Fatal("expected an upsert")
	}
}

func TestIngestEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "POST", "/api/rag/ingest", `{"documents":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/recipes/generate", `{"ingredients":["lentejas"],"portions":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[recipes.GenResponse](t, rec)
	if resp.Recipe.Title != "Lentejas estofadas" || resp.Mode != recipes.ModeHybrid {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("expected retrieval sources")
	}
}

func TestGenerateUnsupportedMode(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "POST", "/api/recipes/generate", `{"mode":"telepathic"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecipeCRUDAndVectors(t *testing.T) {
	s, pts := newTestServer(t)

	rec := do(t, s, "POST", "/api/recipes", `{"recipe":`+recipeJSON+`}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[store.UserRecipe](t, rec)
	if created.ID == "" || created.Title != "Lentejas estofadas" {
		t.Fatalf("created = %+v", created)
	}
	if len(pts.upserts) != 1 {
		t.Fatalf("expected 1 vectorization upsert, got %d", len(pts.upserts))
	}

	if rec := do(t, s, "GET", "/api/recipes/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/api/recipes", "")
	if list := decodeBody[[]store.UserRecipe](t, rec); len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = do(t, s, "PUT", "/api/recipes/"+created.ID, `{"title":"Lentejas caseras","recipe":`+recipeJSON+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[store.UserRecipe](t, rec)
	if updated.Title != "Lentejas caseras" {
		t.Fatalf("updated = %+v", updated)
	}
	// Update drops stale vectors and re-inserts.
	if len(pts.deletes) != 1 || len(pts.upserts) != 2 {
		t.Fatalf("deletes = %d upserts = %d", len(pts.deletes), len(pts.upserts))
	}

	if rec := do(t, s, "DELETE", "/api/recipes/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/recipes/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestRecipeCreateInvalid(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/recipes", `{"recipe":{"title":"","portions":0,"steps_generic":[]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPlannerGenerateWeek(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/planner/generate-week",
		`{"start":"2026-01-07","portions":2,"dietary":["vegetariano"],"persist":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	entries := decodeBody[[]store.PlanEntry](t, rec)
	if len(entries) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(entries))
	}
	// 2026-01-07 is a Wednesday; the plan starts on Monday the 5th.
	if entries[0].Day != "2026-01-05" || entries[6].Day != "2026-01-11" {
		t.Fatalf("days = %s..%s", entries[0].Day, entries[6].Day)
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Fatal("persist did not assign ids")
		}
	}

	rec = do(t, s, "GET", "/api/planner/week?start=2026-01-05", "")
	if got := decodeBody[[]store.PlanEntry](t, rec); len(got) != 7 {
		t.Fatalf("listed %d entries", len(got))
	}
}

func TestPlannerWeekBadStart(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "GET", "/api/planner/week?start=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestShoppingBuildFromWeek(t *testing.T) {
	s, _ := newTestServer(t)

	var planned domain.RecipeNeutral
	if err := json.Unmarshal([]byte(recipeJSON), &planned); err != nil {
		t.Fatal(err)
	}
	for _, day := range []string{"2026-01-05", "2026-01-06"} {
		_, err := s.db.Plan().SaveEntry(context.Background(), store.PlanEntry{
			UserID: "local", Day: day, Meal: "dinner", Recipe: planned,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, s, "POST", "/api/shopping-list/build-from-week?start=2026-01-05", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	items := decodeBody[[]store.ShoppingItem](t, rec)
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	// Two dinners of the same recipe: 200 g + 200 g of lentils.
	byName := map[string]store.ShoppingItem{}
	for _, it := range items {
		byName[it.Name] = it
	}
	lentejas := byName["lentejas"]
	if lentejas.Qty == nil || *lentejas.Qty != 400 || lentejas.Unit == nil || *lentejas.Unit != "g" {
		t.Fatalf("lentejas = %+v", lentejas)
	}
	if lentejas.Category == nil || *lentejas.Category != "legumbres" {
		t.Fatalf("lentejas category = %v", lentejas.Category)
	}

	// The aggregate endpoint reports without persisting.
	rec = do(t, s, "GET", "/api/shopping-list/aggregate-week?start=2026-01-05", "")
	if agg := decodeBody[[]domain.AggregatedItem](t, rec); len(agg) != 2 {
		t.Fatalf("agg = %+v", agg)
	}

	// Check off one item.
	rec = do(t, s, "PATCH", "/api/shopping-list/"+lentejas.ID, `{"checked":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}
	rec = do(t, s, "GET", "/api/shopping-list", "")
	for _, it := range decodeBody[[]store.ShoppingItem](t, rec) {
		if it.ID == lentejas.ID && !it.Checked {
			t.Fatal("item not checked")
		}
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/catalog", `{"name":"leche de avena","category":"bebidas","synonyms":["avena drink"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created = %+v", created)
	}

	rec = do(t, s, "GET", "/api/catalog", "")
	if list := decodeBody[[]map[string]any](t, rec); len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	if rec := do(t, s, "DELETE", "/api/catalog/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, s, "GET", "/api/catalog", "")
	if list := decodeBody[[]map[string]any](t, rec); len(list) != 0 {
		t.Fatalf("list after delete = %+v", list)
	}
}

func TestCatalogUpsertNoName(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "POST", "/api/catalog", `{"category":"otros"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestParseDims(t *testing.T) {
	dims := parseDims("mxbai:1024, jina:768,bad,empty:")
	if len(dims) != 2 || dims["mxbai"] != 1024 || dims["jina"] != 768 {
		t.Fatalf("dims = %+v", dims)
	}
}

func TestWeekStartMonday(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?start=2026-01-11", nil) // a Sunday
	monday, err := weekStart(r)
	if err != nil {
		t.Fatal(err)
	}
	if got := monday.Format("2006-01-02"); got != "2026-01-05" {
		t.Fatalf("monday = %s", got)
	}
}
