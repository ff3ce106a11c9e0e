// Package main implements the fullfoodapp API server: hybrid RAG search,
// recipe generation, weekly planning, and shopping-list aggregation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rserravi/fullfoodapp/engine/embed"
	"github.com/rserravi/fullfoodapp/engine/ingest"
	"github.com/rserravi/fullfoodapp/engine/llm"
	"github.com/rserravi/fullfoodapp/engine/quantify"
	"github.com/rserravi/fullfoodapp/engine/rag"
	"github.com/rserravi/fullfoodapp/engine/recipes"
	"github.com/rserravi/fullfoodapp/engine/semantic"
	"github.com/rserravi/fullfoodapp/engine/store"
	"github.com/rserravi/fullfoodapp/pkg/metrics"
	"github.com/rserravi/fullfoodapp/pkg/mid"
	"github.com/rserravi/fullfoodapp/pkg/ollama"
	"github.com/rserravi/fullfoodapp/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	OllamaURL     string
	QdrantURL     string
	Collection    string
	EmbedModels   []string
	VectorDims    map[string]int
	LLMModel      string
	LLMConcurrent int
	LLMRatePerSec float64
	DBPath        string
	NATSURL       string
	CORSOrigin    string
	RateLimit     int
	MaxBodyBytes  int64
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8080"),
		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "fullfood"),
		EmbedModels:   splitList(envOr("EMBEDDING_MODELS", "mxbai-embed-large,jina/jina-embeddings-v2-base-es")),
		VectorDims:    parseDims(envOr("VECTOR_DIMS", "mxbai:1024,jina:768")),
		LLMModel:      envOr("LLM_MODEL", "llama3.1"),
		LLMConcurrent: envInt("LLM_MAX_CONCURRENCY", 4),
		LLMRatePerSec: envFloat("LLM_RATE_PER_SEC", 2),
		DBPath:        envOr("DB_PATH", "data/fullfood.db"),
		NATSURL:       os.Getenv("NATS_URL"),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
		RateLimit:     envInt("RATE_LIMIT_PER_MIN", 60),
		MaxBodyBytes:  int64(envInt("MAX_BODY_BYTES", 1<<20)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDims parses "mxbai:1024,jina:768" into space→dimension.
func parseDims(s string) map[string]int {
	dims := make(map[string]int)
	for _, part := range splitList(s) {
		name, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			continue
		}
		dims[strings.TrimSpace(name)] = n
	}
	return dims
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- SQLite ---
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// --- Qdrant ---
	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection, logger)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = vectors.EnsureCollection(ensureCtx, cfg.VectorDims)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Ollama-backed services ---
	embedder := embed.New(ollama.NewEmbedClient(cfg.OllamaURL, 60*time.Second), cfg.EmbedModels, logger)

	genClient := ollama.NewGenerateClient(cfg.OllamaURL, 120*time.Second, cfg.LLMRatePerSec)
	llmOpts := llm.DefaultOptions()
	llmOpts.Model = cfg.LLMModel
	llmOpts.MaxConcurrency = cfg.LLMConcurrent
	llmSvc := llm.New(genClient, llmOpts, logger)

	// --- Engine services ---
	retriever := rag.New(embedder, vectors, rag.DefaultOptions(), logger)
	recipeSvc := recipes.New(retriever, llmSvc, llmSvc, logger)
	extractor := quantify.NewExtractor(llmSvc, llmSvc, db.Cache(), logger)

	// --- NATS (optional: ingestion runs inline without it) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("fullfoodapp-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	srv := &server{
		logger:    logger,
		db:        db,
		vectors:   vectors,
		embedder:  embedder,
		recipes:   recipeSvc,
		extractor: extractor,
		ingest:    ingest.Deps{Embedder: embedder, Store: vectors, Logger: logger},
		nc:        nc,
		reg:       metrics.New(),
		dims:      cfg.VectorDims,
	}

	mux := http.NewServeMux()
	srv.routes(mux)

	limiter := resilience.NewWindowLimiter(cfg.RateLimit, time.Minute)
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("fullfoodapp-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBytes(cfg.MaxBodyBytes),
		mid.RateLimit(limiter),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "spaces", embedder.Spaces())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
