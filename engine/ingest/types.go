package ingest

import "github.com/rserravi/fullfoodapp/engine/domain"

// Chunk is one slice of a document's text.
type Chunk struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
	DocID string `json:"doc_id"`
}

// chunkedDoc carries a document together with its chunks.
type chunkedDoc struct {
	Doc    domain.Document
	Chunks []Chunk
}

// embeddedDoc adds the per-space vectors of every chunk.
type embeddedDoc struct {
	chunkedDoc
	// Embeddings maps vector-space short key to one vector per chunk.
	Embeddings map[string][][]float32
}
