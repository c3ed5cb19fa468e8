// Package fetch retrieves source documents over HTTP and converts them
// to markdown for downstream evaluation. A per-host rate limiter keeps
// fetches polite, and an optional headless browser renders pages that
// return no usable static content.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"researchnerd/internal/config"
	"researchnerd/internal/logging"
)

const (
	// maxContentChars caps the markdown handed to the LLM per page.
	maxContentChars = 50000

	// minUsefulChars is the threshold below which a static fetch is
	// considered empty and worth retrying through the browser.
	minUsefulChars = 200
)

// Page is a fetched and converted source document.
type Page struct {
	URL         string
	Title       string
	Content     string
	ContentType string
	FetchedAt   time.Time
	Bytes       int64
	Rendered    bool
}

// Fetcher retrieves pages with retry, body limits, and politeness.
type Fetcher struct {
	httpClient   *http.Client
	userAgent    string
	maxBodyBytes int64
	maxRetries   int
	limiter      *HostLimiter
	browser      *Browser
}

// NewFetcher builds a fetcher from configuration. The browser fallback
// is only wired up when enabled in config.
func NewFetcher(cfg *config.Config) *Fetcher {
	f := &Fetcher{
		httpClient:   &http.Client{Timeout: cfg.GetFetchTimeout()},
		userAgent:    cfg.Fetch.UserAgent,
		maxBodyBytes: cfg.Fetch.MaxBodyBytes,
		maxRetries:   cfg.Fetch.MaxRetries,
		limiter:      NewHostLimiter(cfg.Fetch.PerHostRate, cfg.Fetch.PerHostBurst),
	}
	if f.maxBodyBytes <= 0 {
		f.maxBodyBytes = 2 << 20
	}
	if cfg.Fetch.Browser.Enabled {
		f.browser = NewBrowser(cfg.GetBrowserTimeout())
	}
	return f
}

// Fetch retrieves a URL and converts it to a markdown page. Transport
// errors and 429 responses are retried with exponential backoff; other
// HTTP errors fail immediately. When the static fetch yields nothing
// usable and the browser fallback is enabled, the page is rendered
// headlessly instead.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("unsupported URL: %s", rawURL)
	}

	start := time.Now()
	page, err := f.fetchStatic(ctx, rawURL)

	if f.browser != nil && (err != nil || len(page.Content) < minUsefulChars) {
		logging.Fetch("Static fetch unusable for %s, trying browser render", rawURL)
		if rendered, rerr := f.fetchRendered(ctx, rawURL); rerr == nil {
			page, err = rendered, nil
		} else {
			logging.FetchWarn("Browser render failed for %s: %v", rawURL, rerr)
		}
	}

	duration := time.Since(start)
	if err != nil {
		logging.FetchWarn("Fetch failed for %s after %v: %v", rawURL, duration, err)
		logging.Audit().FetchOp(rawURL, 0, duration.Milliseconds(), false, err.Error())
		return nil, err
	}

	logging.Fetch("Fetched %s: %d chars in %v (rendered=%v)", rawURL, len(page.Content), duration, page.Rendered)
	logging.Audit().FetchOp(rawURL, page.Bytes, duration.Milliseconds(), true, "")
	return page, nil
}

func (f *Fetcher) fetchStatic(ctx context.Context, rawURL string) (*Page, error) {
	var lastErr error

	for i := 0; i <= f.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			logging.FetchDebug("Attempt %d/%d for %s failed: %v", i+1, f.maxRetries+1, rawURL, err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		}

		contentType := resp.Header.Get("Content-Type")
		if !usableContentType(contentType) {
			return nil, fmt.Errorf("unsupported content type: %s", contentType)
		}

		page := &Page{
			URL:         rawURL,
			ContentType: contentType,
			FetchedAt:   time.Now(),
			Bytes:       int64(len(body)),
		}

		// Plain text and markdown pass through untouched.
		if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
			page.Content = truncateContent(string(body))
			return page, nil
		}

		markdown, err := htmlToMarkdown(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to convert to markdown: %w", err)
		}
		page.Title = extractTitle(string(body))
		page.Content = truncateContent(markdown)
		return page, nil
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %v", f.maxRetries+1, lastErr)
}

func (f *Fetcher) fetchRendered(ctx context.Context, rawURL string) (*Page, error) {
	htmlContent, err := f.browser.FetchHTML(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	markdown, err := htmlToMarkdown(htmlContent)
	if err != nil {
		return nil, fmt.Errorf("failed to convert rendered page: %w", err)
	}

	return &Page{
		URL:         rawURL,
		Title:       extractTitle(htmlContent),
		Content:     truncateContent(markdown),
		ContentType: "text/html",
		FetchedAt:   time.Now(),
		Bytes:       int64(len(htmlContent)),
		Rendered:    true,
	}, nil
}

// Close releases the browser if one was started.
func (f *Fetcher) Close() error {
	if f.browser != nil {
		return f.browser.Close()
	}
	return nil
}

// usableContentType reports whether a response can be converted to text.
func usableContentType(contentType string) bool {
	if contentType == "" {
		return true // Assume HTML when the server does not say
	}
	for _, ok := range []string{"text/html", "application/xhtml", "text/plain", "text/markdown", "application/xml", "text/xml"} {
		if strings.Contains(contentType, ok) {
			return true
		}
	}
	return false
}

func truncateContent(s string) string {
	if len(s) > maxContentChars {
		return s[:maxContentChars] + "\n\n[...truncated...]"
	}
	return s
}
