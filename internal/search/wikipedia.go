package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Wikipedia searches via the MediaWiki opensearch API.
type Wikipedia struct {
	httpClient *http.Client
	userAgent  string
	baseURL    string
}

// NewWikipedia creates a Wikipedia engine.
func NewWikipedia(timeout time.Duration, userAgent string) *Wikipedia {
	return &Wikipedia{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		baseURL:    "https://en.wikipedia.org/w/api.php",
	}
}

// Name returns the engine identifier.
func (w *Wikipedia) Name() string { return "wikipedia" }

// Search queries the opensearch endpoint. The response is a four-element
// array: [query, titles, snippets, urls].
func (w *Wikipedia) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	searchURL := fmt.Sprintf("%s?action=opensearch&search=%s&limit=%d&namespace=0&format=json",
		w.baseURL, url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseOpensearchResponse(body)
}

// parseOpensearchResponse decodes the opensearch array format.
func parseOpensearchResponse(body []byte) ([]Result, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("unexpected opensearch response with %d elements", len(raw))
	}

	var titles, snippets, urls []string
	if err := json.Unmarshal(raw[1], &titles); err != nil {
		return nil, fmt.Errorf("failed to parse titles: %w", err)
	}
	if err := json.Unmarshal(raw[2], &snippets); err != nil {
		return nil, fmt.Errorf("failed to parse snippets: %w", err)
	}
	if err := json.Unmarshal(raw[3], &urls); err != nil {
		return nil, fmt.Errorf("failed to parse urls: %w", err)
	}

	var results []Result
	for i := range titles {
		if i >= len(urls) {
			break
		}
		snippet := ""
		if i < len(snippets) {
			snippet = snippets[i]
		}
		results = append(results, Result{
			Title:   titles[i],
			URL:     urls[i],
			Snippet: snippet,
			Engine:  "wikipedia",
		})
	}
	return results, nil
}
