package llm

// Gemini client built on the official google.golang.org/genai SDK.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"researchnerd/internal/logging"
)

// GeminiClient implements Client using the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	retry       RetryConfig
	temperature float32

	mu          sync.Mutex
	lastRequest time.Time
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Retry       RetryConfig
	Temperature float32
}

// DefaultGeminiConfig returns the default Gemini configuration.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:      apiKey,
		Model:       "gemini-2.5-flash",
		Timeout:     120 * time.Second,
		Retry:       DefaultRetryConfig(),
		Temperature: 0.2,
	}
}

// NewGeminiClient creates a Gemini client with default configuration.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	return NewGeminiClientWithConfig(ctx, DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a Gemini client with custom configuration.
func NewGeminiClientWithConfig(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if config.Retry.InitialBackoff == 0 {
		config.Retry.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if config.Retry.MaxBackoff == 0 {
		config.Retry.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}

	return &GeminiClient{
		client:      client,
		model:       config.Model,
		timeout:     config.Timeout,
		retry:       config.Retry,
		temperature: config.Temperature,
	}, nil
}

// Complete sends a prompt and returns the model's response.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// Rate limit: minimum 100ms between requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	// Apply the configured timeout when the caller did not set a deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logging.LLMDebug("Gemini request: model=%s system=%d chars, user=%d chars",
		c.model, len(systemPrompt), len(userPrompt))

	start := time.Now()
	var tokens int32

	result, err := WithRetry(ctx, c.retry, "gemini completion", func(ctx context.Context) (string, error) {
		contents := []*genai.Content{
			genai.NewContentFromText(userPrompt, genai.RoleUser),
		}

		genConfig := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(c.temperature),
		}
		if systemPrompt != "" {
			genConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
		if err != nil {
			return "", fmt.Errorf("gemini request failed: %w", err)
		}

		text := resp.Text()
		if text == "" {
			return "", fmt.Errorf("gemini returned empty response")
		}
		if resp.UsageMetadata != nil {
			tokens = resp.UsageMetadata.TotalTokenCount
		}
		return text, nil
	})

	duration := time.Since(start)
	if err != nil {
		logging.LLMError("Gemini request failed after %v: %v", duration, err)
		logging.Audit().LLMCall(c.model, int(tokens), duration.Milliseconds(), false, err.Error())
		return "", err
	}

	logging.LLM("Gemini response: %d chars, %d tokens in %v", len(result), tokens, duration)
	logging.Audit().LLMCall(c.model, int(tokens), duration.Milliseconds(), true, "")

	return strings.TrimSpace(result), nil
}

// SetModel changes the model used for requests.
func (c *GeminiClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string {
	return c.model
}

// Close releases the underlying SDK client.
func (c *GeminiClient) Close() error {
	// google.golang.org/genai's Client exposes no Close method; nothing to release.
	return nil
}
