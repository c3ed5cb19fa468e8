package llm

// OpenAI-compatible chat completion client. Z.AI exposes the same wire
// format, so both providers share this implementation.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"researchnerd/internal/logging"
)

// OpenAIClient implements Client for OpenAI-compatible APIs.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	retry       RetryConfig
	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds configuration for an OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryConfig
}

// DefaultOpenAIConfig returns sensible defaults for the OpenAI API.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
		Timeout: 120 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// DefaultZAIConfig returns sensible defaults for the Z.AI API.
func DefaultZAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.z.ai/api/paas/v4",
		Model:   "glm-4.6",
		Timeout: 120 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// NewOpenAIClient creates a client with default OpenAI configuration.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a client with custom configuration.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		retry:   config.Retry,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// chatRequest represents the API request structure.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatMessage represents a message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the API response structure.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	// Rate limiting: ensure at least 600ms between requests
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 600*time.Millisecond {
		time.Sleep(600*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]chatMessage, 0)

	if systemPrompt != "" {
		messages = append(messages, chatMessage{
			Role:    "system",
			Content: systemPrompt,
		})
	}

	messages = append(messages, chatMessage{
		Role:    "user",
		Content: userPrompt,
	})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1, // Low temperature for structured output
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logging.LLMDebug("Chat request: model=%s system=%d chars, user=%d chars",
		c.model, len(systemPrompt), len(userPrompt))

	start := time.Now()
	maxRetries := c.retry.MaxRetries
	var lastErr error

	// Retry loop for transport errors and 429s
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			logging.LLMDebug("Retrying chat completion in %v...", time.Duration(1<<uint(i-1))*time.Second)
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			logging.LLMWarn("Attempt %d/%d failed: %v", i+1, maxRetries+1, lastErr)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			logging.LLMWarn("Rate limited on attempt %d/%d", i+1, maxRetries+1)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}

		if chatResp.Error != nil {
			return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
		}

		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		duration := time.Since(start)
		content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
		logging.LLM("Chat response: %d chars, %d tokens in %v", len(content), chatResp.Usage.TotalTokens, duration)
		logging.Audit().LLMCall(c.model, chatResp.Usage.TotalTokens, duration.Milliseconds(), true, "")

		return content, nil
	}

	duration := time.Since(start)
	logging.LLMError("Chat request failed after %v: %v", duration, lastErr)
	logging.Audit().LLMCall(c.model, 0, duration.Milliseconds(), false, fmt.Sprint(lastErr))

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// SetModel changes the model used for completions.
func (c *OpenAIClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *OpenAIClient) GetModel() string {
	return c.model
}
