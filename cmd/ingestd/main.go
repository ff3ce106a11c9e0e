// Command ingestd is the NATS-driven ingestion worker: it consumes recipe
// documents from the ingest subject, runs them through the pipeline into
// Qdrant, and parks repeat failures on the DLQ.
package main

import (
	"context"
	"flag"
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
	"github.com/rserravi/fullfoodapp/engine/semantic"
	"github.com/rserravi/fullfoodapp/pkg/metrics"
	"github.com/rserravi/fullfoodapp/pkg/ollama"
)

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		models      = flag.String("models", "mxbai-embed-large,jina/jina-embeddings-v2-base-es", "comma-separated embedding models")
		dims        = flag.String("dims", "mxbai:1024,jina:768", "space:dimension pairs for the collection")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "fullfood", "Qdrant collection name")
		metricsPort = flag.String("metrics-port", "9091", "port for /metrics and /healthz")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(*natsURL, *ollamaURL, *models, *dims, *qdrantAddr, *collection, *metricsPort, log); err != nil {
		log.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(natsURL, ollamaURL, models, dims, qdrantAddr, collection, metricsPort string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectors, err := semantic.New(qdrantAddr, collection, log)
	if err != nil {
		return err
	}
	defer vectors.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = vectors.EnsureCollection(ensureCtx, parseDims(dims))
	cancel()
	if err != nil {
		return err
	}

	embedder := embed.New(ollama.NewEmbedClient(ollamaURL, 60*time.Second), splitList(models), log)

	nc, err := nats.Connect(natsURL,
		nats.Name("fullfoodapp-ingestd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	deps := ingest.Deps{Embedder: embedder, Store: vectors, Logger: log}
	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	reg := metrics.New()
	reg.Gauge("ingestd_up", "Worker liveness.").Set(1)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !nc.IsConnected() {
			http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: ":" + metricsPort, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	log.Info("ingest worker running",
		"subject", ingest.IngestSubject, "dlq", ingest.DLQSubject, "spaces", embedder.Spaces())

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
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
