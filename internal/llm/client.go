// Package llm provides the LLM clients that drive planning, evaluation,
// accumulation, and synthesis. All providers expose the same two-method
// surface so the research core never knows which backend answered.
package llm

import (
	"context"
	"fmt"

	"researchnerd/internal/config"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderZAI    Provider = "zai"
)

// NewFromConfig creates a client for the configured provider, wrapped
// with the configured concurrency gate.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Client, error) {
	var (
		client Client
		err    error
	)

	switch Provider(cfg.LLM.Provider) {
	case ProviderGemini:
		gc := DefaultGeminiConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			gc.Model = cfg.LLM.Model
		}
		gc.Timeout = cfg.GetLLMTimeout()
		gc.Retry.MaxRetries = cfg.LLM.MaxRetries
		client, err = NewGeminiClientWithConfig(ctx, gc)

	case ProviderOpenAI:
		oc := DefaultOpenAIConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			oc.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			oc.BaseURL = cfg.LLM.BaseURL
		}
		oc.Timeout = cfg.GetLLMTimeout()
		oc.Retry.MaxRetries = cfg.LLM.MaxRetries
		client = NewOpenAIClientWithConfig(oc)

	case ProviderZAI:
		zc := DefaultZAIConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			zc.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			zc.BaseURL = cfg.LLM.BaseURL
		}
		zc.Timeout = cfg.GetLLMTimeout()
		zc.Retry.MaxRetries = cfg.LLM.MaxRetries
		client = NewOpenAIClientWithConfig(zc)

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: %v)", cfg.LLM.Provider, config.ValidProviders)
	}

	if err != nil {
		return nil, err
	}

	if cfg.LLM.MaxConcurrent > 0 {
		client = Gated(client, cfg.LLM.MaxConcurrent)
	}
	return client, nil
}

// gatedClient wraps a Client with a semaphore so at most n completions
// run at once. Callers block until a slot frees or ctx is done.
type gatedClient struct {
	inner Client
	sem   chan struct{}
}

// Gated wraps a client with a concurrency limit.
func Gated(c Client, n int) Client {
	if n <= 0 {
		n = 1
	}
	return &gatedClient{
		inner: c,
		sem:   make(chan struct{}, n),
	}
}

func (g *gatedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return g.CompleteWithSystem(ctx, "", prompt)
}

func (g *gatedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}
