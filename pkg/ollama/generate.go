package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// GenerateClient calls the Ollama text generation API. Outbound calls are
// paced with a token bucket so bursts of recipe generations cannot flood
// the provider.
type GenerateClient struct {
	baseURL string
	client  *http.Client
	pacer   *rate.Limiter
}

// NewGenerateClient creates a generation client. reqsPerSec <= 0 disables
// pacing.
func NewGenerateClient(baseURL string, timeout time.Duration, reqsPerSec float64) *GenerateClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var pacer *rate.Limiter
	if reqsPerSec > 0 {
		pacer = rate.NewLimiter(rate.Limit(reqsPerSec), 1)
	}
	return &GenerateClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		pacer:   pacer,
	}
}

// GenOpts tunes a single generation call.
type GenOpts struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type generateReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResp struct {
	Response string `json:"response"`
}

// Generate renders a completion for prompt. The format=json hint asks the
// model for parseable output, but callers still apply tolerant parsing.
func (c *GenerateClient) Generate(ctx context.Context, prompt string, opts GenOpts) (string, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return "", err
		}
	}

	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	body, _ := json.Marshal(generateReq{
		Model:   opts.Model,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: options,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Op: "generate"}
	}

	var result generateResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	return result.Response, nil
}
