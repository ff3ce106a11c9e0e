// Package ingest feeds recipe documents into the vector store: validation,
// chunking, multi-space embedding, and upsert, composed as pipeline stages.
// Documents arrive either from a one-shot seeding run or from NATS.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rserravi/fullfoodapp/engine/domain"
	"github.com/rserravi/fullfoodapp/pkg/fn"
)

const (
	// IngestSubject is the NATS subject for incoming documents.
	IngestSubject = "recipes.ingest"
	// DLQSubject receives messages that keep failing.
	DLQSubject = "recipes.ingest.dlq"
	// MaxRetries before a message goes to the DLQ.
	MaxRetries = 3
)

// MultiEmbedder embeds chunk texts into every configured vector space.
type MultiEmbedder interface {
	EmbedMulti(ctx context.Context, texts []string) map[string][][]float32
}

// VectorUpserter stores chunk texts with their named vectors.
type VectorUpserter interface {
	Upsert(ctx context.Context, texts []string, payloads []map[string]any, embeddings map[string][][]float32) (int, error)
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Embedder MultiEmbedder
	Store    VectorUpserter
	Logger   *slog.Logger
}

// --- Pipeline stages ---

// Validate rejects documents with no text.
var Validate fn.Stage[domain.Document, domain.Document] = func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
	if err := domain.ValidateDocument(doc); err != nil {
		return fn.Err[domain.Document](err)
	}
	return fn.Ok(doc)
}

// ChunkDoc splits a document into overlapping chunks. Short documents pass
// through as a single chunk.
var ChunkDoc fn.Stage[domain.Document, chunkedDoc] = func(_ context.Context, doc domain.Document) fn.Result[chunkedDoc] {
	chunks := chunkText(doc.ID, doc.Text, DefaultChunkSize, DefaultOverlap)
	if len(chunks) == 0 {
		chunks = []Chunk{{Text: doc.Text, Index: 0, DocID: doc.ID}}
	}
	return fn.Ok(chunkedDoc{Doc: doc, Chunks: chunks})
}

// NewEmbed builds the stage that embeds every chunk into every space.
func NewEmbed(embedder MultiEmbedder) fn.Stage[chunkedDoc, embeddedDoc] {
	return func(ctx context.Context, doc chunkedDoc) fn.Result[embeddedDoc] {
		texts := make([]string, len(doc.Chunks))
		for i, c := range doc.Chunks {
			texts[i] = c.Text
		}
		return fn.Ok(embeddedDoc{
			chunkedDoc: doc,
			Embeddings: embedder.EmbedMulti(ctx, texts),
		})
	}
}

// NewStore builds the stage that upserts the embedded chunks.
func NewStore(store VectorUpserter, logger *slog.Logger) fn.Stage[embeddedDoc, string] {
	return func(ctx context.Context, doc embeddedDoc) fn.Result[string] {
		texts := make([]string, len(doc.Chunks))
		payloads := make([]map[string]any, len(doc.Chunks))
		for i, c := range doc.Chunks {
			texts[i] = c.Text
			payload := map[string]any{
				"chunk_index": c.Index,
			}
			for k, v := range doc.Doc.Metadata {
				payload[k] = v
			}
			if doc.Doc.ID != "" {
				payload["doc_id"] = doc.Doc.ID
			}
			payloads[i] = payload
		}

		skipped, err := store.Upsert(ctx, texts, payloads, doc.Embeddings)
		if err != nil {
			return fn.Err[string](fmt.Errorf("vector upsert: %w", err))
		}
		if skipped > 0 {
			logger.Warn("chunks skipped during upsert", "doc_id", doc.Doc.ID, "skipped", skipped)
		}
		return fn.Ok(doc.Doc.ID)
	}
}

// loggedTap logs entry and exit of a stage with its duration.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(_ context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline wires validate, chunk, embed, and store into one stage.
func NewPipeline(deps Deps) fn.Stage[domain.Document, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	validated := fn.Then(loggedTap[domain.Document]("validate", log), Validate)
	chunked := fn.Then(validated, fn.Then(loggedTap[domain.Document]("chunk", log), ChunkDoc))
	embedded := fn.Then(chunked, fn.Then(loggedTap[chunkedDoc]("embed", log), NewEmbed(deps.Embedder)))
	return fn.Then(embedded, fn.Then(loggedTap[embeddedDoc]("store", log), NewStore(deps.Store, log)))
}

// IngestAll runs every document through the pipeline, continuing past
// per-document failures. It returns the number ingested.
func IngestAll(ctx context.Context, deps Deps, docs []domain.Document) int {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	pipeline := NewPipeline(deps)

	ok := 0
	for _, doc := range docs {
		result := pipeline(ctx, doc)
		if result.IsErr() {
			_, err := result.Unwrap()
			log.Error("document ingest failed", "doc_id", doc.ID, "error", err)
			continue
		}
		ok++
	}
	return ok
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Document domain.Document `json:"document"`
	Error    string          `json:"error"`
	Retries  int             `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs every incoming
// document through the pipeline, with retry and DLQ on failure.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var doc domain.Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(context.Background(), doc)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest pipeline failed", "doc_id", doc.ID, "error", pipeErr, "retry", retries)

			if retries >= MaxRetries {
				data, _ := json.Marshal(dlqMessage{Document: doc, Error: pipeErr.Error(), Retries: retries})
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("DLQ publish failed", "error", err)
				}
				return
			}
			retryMsg := nats.NewMsg(IngestSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("retry publish failed", "error", err)
			}
			return
		}

		docID, _ := result.Unwrap()
		log.Info("document ingested", "doc_id", docID)
	})
}
