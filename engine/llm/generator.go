// Package llm wraps a text-generation provider behind a small capability
// interface, adding the guardrails the rest of the engine relies on: a
// bounded-concurrency semaphore, exponential-backoff retries for transient
// faults, and a circuit breaker. It also owns the tolerant JSON recovery
// chain for model output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rserravi/fullfoodapp/pkg/fn"
	"github.com/rserravi/fullfoodapp/pkg/ollama"
	"github.com/rserravi/fullfoodapp/pkg/resilience"
)

// Client is the provider capability the service needs.
type Client interface {
	Generate(ctx context.Context, prompt string, opts ollama.GenOpts) (string, error)
}

// Options configures the generation service.
type Options struct {
	Model string
	// MaxConcurrency bounds in-flight generation calls; further calls
	// queue until a slot frees.
	MaxConcurrency int
	Temperature    float64
	MaxTokens      int
	// Timeout applies per attempt.
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Model:          "llama3.1",
		MaxConcurrency: 4,
		Temperature:    0.2,
		MaxTokens:      1024,
		Timeout:        60 * time.Second,
	}
}

// retryOpts is the outbound retry policy: 3 attempts, exponential backoff
// from 0.5s capped at 4s, retrying only transient failures.
var retryOpts = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     4 * time.Second,
	Jitter:      true,
	Retryable:   IsTransient,
}

// Service is the shared gateway for all LLM generation calls.
type Service struct {
	client  Client
	opts    Options
	sem     chan struct{}
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New creates a generation service.
func New(client Client, opts Options, logger *slog.Logger) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultOptions().MaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:  client,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrency),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// GenerateJSON renders a completion that is expected to contain JSON.
// The call queues on the concurrency semaphore, then runs through the
// breaker with per-attempt timeouts and the transient-only retry policy.
func (s *Service) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return s.generate(ctx, prompt, s.opts.Temperature)
}

func (s *Service) generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.sem }()

	result := fn.Retry(ctx, retryOpts, func(ctx context.Context) fn.Result[string] {
		return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[string] {
			attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
			out, err := s.client.Generate(attemptCtx, prompt, ollama.GenOpts{
				Model:       s.opts.Model,
				Temperature: temperature,
				MaxTokens:   s.opts.MaxTokens,
			})
			if err != nil {
				s.logger.Warn("llm generate attempt failed", "err", err)
				return fn.Err[string](err)
			}
			return fn.Ok(out)
		})
	})

	out, err := result.Unwrap()
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return out, nil
}

// RepairJSON asks the model to re-emit valid JSON for the same content.
// Temperature is pinned to zero for determinism.
func (s *Service) RepairJSON(ctx context.Context, raw string) (string, error) {
	prompt := "Eres un reparador de JSON. Devuelve exclusivamente JSON válido, sin comentarios, " +
		"que represente el mismo contenido. Si faltan campos, déjalos con valores razonables.\n\n" +
		"Contenido a reparar:\n" + raw + "\n"
	return s.generate(ctx, prompt, 0)
}

// IsTransient reports whether a generation failure is worth retrying:
// transport errors, timeouts, and upstream 5xx. Client-side 4xx responses
// are permanent faults.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}
