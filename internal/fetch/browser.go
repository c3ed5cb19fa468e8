package fetch

// Headless browser fallback for pages that render their content with
// JavaScript. The browser is launched lazily on first use and shared
// across fetches; each fetch gets its own incognito page.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"researchnerd/internal/logging"
)

// Browser renders pages through a shared headless Chrome instance.
type Browser struct {
	timeout time.Duration

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewBrowser creates a browser helper. Chrome is not launched until the
// first FetchHTML call.
func NewBrowser(timeout time.Duration) *Browser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Browser{timeout: timeout}
}

func (b *Browser) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.browser, nil
		}
		logging.FetchWarn("Stale browser connection detected, relaunching")
		_ = b.browser.Close()
		b.browser = nil
		b.controlURL = ""
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	logging.Fetch("Headless browser started at %s", controlURL)
	b.browser = browser
	b.controlURL = controlURL
	return b.browser, nil
}

// FetchHTML navigates to the URL in a fresh incognito page and returns
// the rendered HTML after the load event fires.
func (b *Browser) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	browser, err := b.ensureStarted(ctx)
	if err != nil {
		return "", err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(b.timeout)
	if err := page.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	// Give client-side rendering a moment to settle.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close shuts down the shared browser if one was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	b.controlURL = ""
	return err
}
