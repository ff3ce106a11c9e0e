// Command ingest loads recipe documents from a JSON seed file and runs them
// through the ingestion pipeline into Qdrant.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/engine/embed"
	"github.com/rserravi/fullfoodapp/engine/ingest"
	"github.com/rserravi/fullfoodapp/engine/semantic"
	"github.com/rserravi/fullfoodapp/pkg/ollama"
)

func main() {
	var (
		seedFile   = flag.String("seed", "data/seed_recipes.json", "JSON file with documents to ingest")
		ollamaURL  = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		models     = flag.String("models", "mxbai-embed-large,jina/jina-embeddings-v2-base-es", "comma-separated embedding models")
		dims       = flag.String("dims", "mxbai:1024,jina:768", "space:dimension pairs for the collection")
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection = flag.String("collection", "fullfood", "Qdrant collection name")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	docs, err := loadSeed(*seedFile)
	if err != nil {
		log.Error("seed load failed", "file", *seedFile, "error", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		log.Info("nothing to ingest", "file", *seedFile)
		return
	}

	vectors, err := semantic.New(*qdrantAddr, *collection, log)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vectors.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = vectors.EnsureCollection(ensureCtx, parseDims(*dims))
	cancel()
	if err != nil {
		log.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}

	embedder := embed.New(ollama.NewEmbedClient(*ollamaURL, 60*time.Second), splitList(*models), log)
	log.Info("ingesting seed documents", "file", *seedFile, "documents", len(docs), "spaces", embedder.Spaces())

	deps := ingest.Deps{Embedder: embedder, Store: vectors, Logger: log}
	start := time.Now()
	n := ingest.IngestAll(ctx, deps, docs)

	log.Info("seed ingestion done",
		"ingested", n, "failed", len(docs)-n, "elapsed", time.Since(start).Round(time.Millisecond))
	if n < len(docs) {
		os.Exit(1)
	}
}

// loadSeed accepts either a JSON array of documents, an {"documents": [...]}
// wrapper, or an NDJSON stream of single documents.
func loadSeed(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs []domain.Document
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs, nil
	}

	var wrapped struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Documents) > 0 {
		return wrapped.Documents, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var doc domain.Document
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents found in seed file")
	}
	return docs, nil
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
