package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rserravi/fullfoodapp/engine/catalog"
	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/embed"
	"github.com/rserravi/fullfoodapp/engine/ingest"
	"github.com/rserravi/fullfoodapp/engine/quantify"
	"github.com/rserravi/fullfoodapp/engine/rag"
	"github.com/rserravi/fullfoodapp/engine/recipes"
	"github.com/rserravi/fullfoodapp/engine/semantic"
	"github.com/rserravi/fullfoodapp/engine/store"
	"github.com/rserravi/fullfoodapp/pkg/metrics"
	"github.com/rserravi/fullfoodapp/pkg/natsutil"
)

type server struct {
	logger    *slog.Logger
	db        *store.DB
	vectors   *semantic.Store
	embedder  *embed.Service
	recipes   *recipes.Service
	extractor *quantify.Extractor
	ingest    ingest.Deps
	nc        *nats.Conn
	reg       *metrics.Registry
	dims      map[string]int
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())

	mux.HandleFunc("POST /api/rag/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/rag/search", s.handleSearch)
	mux.HandleFunc("DELETE /api/rag/collection", s.handleResetCollection)

	mux.HandleFunc("POST /api/recipes/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/recipes", s.handleRecipeCreate)
	mux.HandleFunc("GET /api/recipes", s.handleRecipeList)
	mux.HandleFunc("GET /api/recipes/{id}", s.handleRecipeGet)
	mux.HandleFunc("PUT /api/recipes/{id}", s.handleRecipeUpdate)
	mux.HandleFunc("DELETE /api/recipes/{id}", s.handleRecipeDelete)

	mux.HandleFunc("POST /api/planner/generate-week", s.handlePlannerGenerate)
	mux.HandleFunc("GET /api/planner/week", s.handlePlannerWeek)
	mux.HandleFunc("DELETE /api/planner/{id}", s.handlePlannerDelete)

	mux.HandleFunc("GET /api/shopping-list", s.handleShoppingList)
	mux.HandleFunc("PATCH /api/shopping-list/{id}", s.handleShoppingCheck)
	mux.HandleFunc("GET /api/shopping-list/aggregate-week", s.handleAggregateWeek)
	mux.HandleFunc("POST /api/shopping-list/build-from-week", s.handleBuildFromWeek)

	mux.HandleFunc("GET /api/catalog", s.handleCatalogList)
	mux.HandleFunc("POST /api/catalog", s.handleCatalogUpsert)
	mux.HandleFunc("DELETE /api/catalog/{id}", s.handleCatalogDelete)
}

// --- Helpers ---

// userID resolves the calling user. Authentication proper is handled at the
// edge; the API trusts the X-User-Id header and serves "local" without it.
func userID(r *http.Request) string {
	if v := r.Header.Get("X-User-Id"); v != "" {
		return v
	}
	return "local"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// weekStart returns the Monday of the week containing the ?start= date.
func weekStart(r *http.Request) (time.Time, error) {
	day, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		return time.Time{}, err
	}
	return day.AddDate(0, 0, -int((day.Weekday()+6)%7)), nil
}

// --- Health ---

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- RAG ---

// IngestRequest is the JSON body for POST /api/rag/ingest.
type IngestRequest struct {
	Documents []domain.Document `json:"documents"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents is empty")
		return
	}

	uid := userID(r)
	for i := range req.Documents {
		if req.Documents[i].Metadata == nil {
			req.Documents[i].Metadata = map[string]any{}
		}
		req.Documents[i].Metadata["user_id"] = uid
	}

	s.reg.Counter("ingest_documents_total", "Documents accepted for ingestion.").Add(int64(len(req.Documents)))

	// With NATS the documents are queued for the worker; without it they
	// are ingested inline.
	if s.nc != nil {
		for _, doc := range req.Documents {
			if err := natsutil.Publish(r.Context(), s.nc, ingest.IngestSubject, doc); err != nil {
				s.logger.Error("ingest publish failed", "error", err)
				writeError(w, http.StatusBadGateway, "queue unavailable")
				return
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "queued": len(req.Documents)})
		return
	}

	n := ingest.IngestAll(r.Context(), s.ingest, req.Documents)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ingested": n})
}

// SearchRequest is the JSON body for POST /api/rag/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// SearchResult is one fused hit in a search response.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Title any     `json:"title,omitempty"`
	Text  any     `json:"text,omitempty"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	retriever := rag.New(s.embedder, s.vectors, rag.Options{TopK: req.TopK}, s.logger)
	hits, err := retriever.HybridRetrieve(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrNoQueryVectors) {
			writeError(w, http.StatusServiceUnavailable, "embeddings unavailable")
			return
		}
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			ID:    h.ID,
			Score: h.Score,
			Title: h.Payload["title"],
			Text:  h.Payload["text"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleResetCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.vectors.DeleteCollection(r.Context()); err != nil {
		s.logger.Error("delete collection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete collection failed")
		return
	}
	if err := s.vectors.EnsureCollection(r.Context(), s.dims); err != nil {
		s.logger.Error("recreate collection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "recreate collection failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recreated": true})
}

// --- Recipe generation ---

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req recipes.GenRequest
	if !readJSON(w, r, &req) {
		return
	}

	s.reg.Counter(metrics.WithLabels("recipe_generations_total", "mode", orHybrid(req.Mode)), "Recipe generation requests.").Inc()

	resp, err := s.recipes.Generate(r.Context(), req)
	if err != nil {
		if errors.Is(err, recipes.ErrUnsupportedMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("recipe generation failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "generation unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func orHybrid(mode string) string {
	if mode == "" {
		return recipes.ModeHybrid
	}
	return mode
}

// --- Saved recipes ---

// RecipeSaveRequest is the JSON body for creating or updating a saved recipe.
type RecipeSaveRequest struct {
	Title  string               `json:"title"`
	Recipe domain.RecipeNeutral `json:"recipe"`
}

// vectorizeRecipe embeds a saved recipe so generation can retrieve it.
// Failures degrade to a log line: the row is already persisted and a later
// update re-vectorizes.
func (s *server) vectorizeRecipe(r *http.Request, uid string, rec store.UserRecipe) {
	text := rec.Recipe.FlattenText()
	payload := map[string]any{
		"kind":      "user_recipe",
		"user_id":   uid,
		"recipe_id": rec.ID,
		"title":     rec.Title,
		"text":      text,
	}
	embs := s.embedder.EmbedMulti(r.Context(), []string{text})
	if _, err := s.vectors.Upsert(r.Context(), []string{text}, []map[string]any{payload}, embs); err != nil {
		s.logger.Warn("recipe vectorization failed", "recipe_id", rec.ID, "error", err)
	}
}

func (s *server) handleRecipeCreate(w http.ResponseWriter, r *http.Request) {
	var req RecipeSaveRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.Recipe = domain.NormalizeRecipe(req.Recipe)
	if req.Title != "" {
		req.Recipe.Title = req.Title
	}
	if err := domain.ValidateRecipe(req.Recipe); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid := userID(r)
	rec := store.UserRecipe{UserID: uid, Title: req.Recipe.Title, Recipe: req.Recipe}
	id, err := s.db.Recipes().Save(r.Context(), rec)
	if err != nil {
		s.logger.Error("recipe save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	rec.ID = id
	s.vectorizeRecipe(r, uid, rec)

	saved, err := s.db.Recipes().Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *server) handleRecipeList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.db.Recipes().List(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("recipe list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleRecipeGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.Recipes().Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleRecipeUpdate(w http.ResponseWriter, r *http.Request) {
	uid, id := userID(r), r.PathValue("id")
	rec, err := s.db.Recipes().Get(r.Context(), uid, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}

	var req RecipeSaveRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.Recipe = domain.NormalizeRecipe(req.Recipe)
	if req.Title != "" {
		req.Recipe.Title = req.Title
	}
	if err := domain.ValidateRecipe(req.Recipe); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec.Title = req.Recipe.Title
	rec.Recipe = req.Recipe
	if _, err := s.db.Recipes().Save(r.Context(), rec); err != nil {
		s.logger.Error("recipe update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	// Re-vectorize: drop the stale points, then insert fresh ones.
	if err := s.vectors.DeleteRecipeVectors(r.Context(), uid, id); err != nil {
		s.logger.Warn("stale vector cleanup failed", "recipe_id", id, "error", err)
	}
	s.vectorizeRecipe(r, uid, rec)

	updated, err := s.db.Recipes().Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleRecipeDelete(w http.ResponseWriter, r *http.Request) {
	uid, id := userID(r), r.PathValue("id")
	if err := s.vectors.DeleteRecipeVectors(r.Context(), uid, id); err != nil {
		s.logger.Warn("vector cleanup failed", "recipe_id", id, "error", err)
	}
	if err := s.db.Recipes().Delete(r.Context(), uid, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted_id": id})
}

// --- Planner ---

// WeekGenRequest is the JSON body for POST /api/planner/generate-week.
type WeekGenRequest struct {
	Start      string   `json:"start"` // YYYY-MM-DD
	Portions   int      `json:"portions"`
	Appliances []string `json:"appliances"`
	Dietary    []string `json:"dietary"`
	Persist    bool     `json:"persist"`
}

func (s *server) handlePlannerGenerate(w http.ResponseWriter, r *http.Request) {
	var req WeekGenRequest
	if !readJSON(w, r, &req) {
		return
	}
	day, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	monday := day.AddDate(0, 0, -int((day.Weekday()+6)%7))

	uid := userID(r)
	seeds := seedPool(req.Dietary)
	entries := make([]store.PlanEntry, 0, 7)
	for i := 0; i < 7; i++ {
		resp, err := s.recipes.Generate(r.Context(), recipes.GenRequest{
			Ingredients: seeds[i%len(seeds)],
			Portions:    req.Portions,
			Appliances:  req.Appliances,
			Dietary:     req.Dietary,
			Mode:        recipes.ModeHybrid,
		})
		if err != nil {
			s.logger.Error("week generation failed", "day", i, "error", err)
			writeError(w, http.StatusServiceUnavailable, "generation unavailable")
			return
		}
		entry := store.PlanEntry{
			UserID: uid,
			Day:    monday.AddDate(0, 0, i).Format("2006-01-02"),
			Meal:   "dinner",
			Recipe: resp.Recipe,
		}
		if req.Persist {
			id, err := s.db.Plan().SaveEntry(r.Context(), entry)
			if err != nil {
				s.logger.Error("plan save failed", "error", err)
				writeError(w, http.StatusInternalServerError, "plan save failed")
				return
			}
			entry.ID = id
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

// seedPool rotates ingredient triples across the week, adjusted for
// vegetarian/vegan and gluten-free preferences.
func seedPool(dietary []string) [][]string {
	lower := make(map[string]bool, len(dietary))
	for _, d := range dietary {
		lower[domain.NormName(d)] = true
	}
	veg := lower["vegetariano"] || lower["vegano"]
	glutenFree := lower["sin gluten"]

	var base [][]string
	if veg {
		base = [][]string{
			{"garbanzos", "espinacas", "tomate"},
			{"pasta", "calabacín", "queso"},
			{"lentejas", "zanahoria", "cebolla"},
			{"tofu", "brócoli", "soja"},
			{"arroz", "pimientos", "maíz"},
			{"quinoa", "setas", "calabaza"},
			{"berenjena", "tomate", "albahaca"},
		}
	} else {
		base = [][]string{
			{"pollo", "pimientos", "arroz"},
			{"garbanzos", "espinacas", "tomate"},
			{"pasta", "calabacín", "queso"},
			{"huevos", "patata", "cebolla"},
			{"salmón", "brócoli", "limón"},
			{"lentejas", "zanahoria", "cebolla"},
			{"ternera", "pimientos", "fideos"},
		}
	}
	if glutenFree {
		for _, seed := range base {
			for i, ing := range seed {
				if ing == "pasta" || ing == "fideos" {
					seed[i] = "arroz"
				}
			}
		}
	}
	return base
}

func (s *server) handlePlannerWeek(w http.ResponseWriter, r *http.Request) {
	monday, err := weekStart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	entries, err := s.db.Plan().ListWeek(r.Context(), userID(r), monday)
	if err != nil {
		s.logger.Error("plan list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handlePlannerDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Plan().DeleteEntry(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.logger.Error("plan delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- Shopping list ---

// aggregateWeek extracts and merges the ingredients of every planned recipe
// in the week starting at monday, then tags categories.
func (s *server) aggregateWeek(r *http.Request, uid string, monday time.Time) ([]domain.AggregatedItem, error) {
	entries, err := s.db.Plan().ListWeek(r.Context(), uid, monday)
	if err != nil {
		return nil, err
	}
	lists := make([][]domain.AggregatedItem, 0, len(entries))
	for _, e := range entries {
		items := s.extractor.Extract(r.Context(), uid, e.Recipe)
		lists = append(lists, quantify.Aggregate(items))
	}
	merged := quantify.MergeAggregated(lists...)

	categorizer, err := catalog.ForUser(r.Context(), s.db.Products(), uid)
	if err != nil {
		// Heuristic-only categorizer still works.
		s.logger.Warn("catalog load failed", "error", err)
	}
	return quantify.Categorize(merged, categorizer.Category), nil
}

func (s *server) handleAggregateWeek(w http.ResponseWriter, r *http.Request) {
	monday, err := weekStart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	items, err := s.aggregateWeek(r, userID(r), monday)
	if err != nil {
		s.logger.Error("aggregate week failed", "error", err)
		writeError(w, http.StatusInternalServerError, "aggregate failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleBuildFromWeek(w http.ResponseWriter, r *http.Request) {
	monday, err := weekStart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	uid := userID(r)
	aggregated, err := s.aggregateWeek(r, uid, monday)
	if err != nil {
		s.logger.Error("aggregate week failed", "error", err)
		writeError(w, http.StatusInternalServerError, "aggregate failed")
		return
	}
	if err := s.db.Shopping().ReplaceList(r.Context(), uid, aggregated); err != nil {
		s.logger.Error("shopping list replace failed", "error", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	items, err := s.db.Shopping().List(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleShoppingList(w http.ResponseWriter, r *http.Request) {
	items, err := s.db.Shopping().List(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("shopping list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleShoppingCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Checked bool `json:"checked"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.db.Shopping().SetChecked(r.Context(), userID(r), r.PathValue("id"), req.Checked); err != nil {
		s.logger.Error("shopping check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- Product catalog ---

func (s *server) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	products, err := s.db.Products().ListProducts(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("catalog list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *server) handleCatalogUpsert(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if !readJSON(w, r, &p) {
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p.UserID = userID(r)
	id, err := s.db.Products().UpsertProduct(r.Context(), p)
	if err != nil {
		s.logger.Error("catalog upsert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	p.ID = id
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleCatalogDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Products().DeleteProduct(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.logger.Error("catalog delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
