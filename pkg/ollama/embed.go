// Package ollama provides HTTP adapters for the Ollama embedding and text
// generation APIs. The engine talks to these through small capability
// interfaces, so another provider can be swapped in by configuration.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusError reports a non-2xx response from the Ollama API.
type StatusError struct {
	Code int
	Op   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama %s: status %d", e.Op, e.Code)
}

// Transient reports whether the failure is worth retrying (5xx).
func (e *StatusError) Transient() bool { return e.Code >= 500 }

// EmbedClient calls the Ollama embedding API.
type EmbedClient struct {
	baseURL string
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client. Every request carries
// the given timeout so a stuck provider can never hang a serving request.
func NewEmbedClient(baseURL string, timeout time.Duration) *EmbedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmbedClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch embeds all texts in one call, in input order.
func (c *EmbedClient) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	body, _ := json.Marshal(embedReq{Model: model, Input: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Op: "embed"}
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	return result.Embeddings, nil
}

// Embed embeds a single text.
func (c *EmbedClient) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("ollama embed: got %d vectors for 1 input", len(vecs))
	}
	return vecs[0], nil
}
