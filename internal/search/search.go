// Package search discovers candidate sources for research directions.
// Engines share a common interface so results from DuckDuckGo, Wikipedia,
// or any future backend merge into a single deduplicated candidate list.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"researchnerd/internal/config"
	"researchnerd/internal/logging"
)

// Result represents a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Engine  string `json:"engine"`
}

// Engine is a single search backend.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Searcher fans a query out to every configured engine and merges the
// results. Engine failures are absorbed: one engine going down degrades
// the candidate list instead of failing the direction.
type Searcher struct {
	engines    []Engine
	maxResults int
	timeout    time.Duration
}

// NewSearcher builds a searcher from the configured engine list.
func NewSearcher(cfg *config.Config) (*Searcher, error) {
	timeout := cfg.GetSearchTimeout()
	userAgent := cfg.Search.UserAgent

	var engines []Engine
	for _, name := range cfg.Search.Engines {
		switch strings.ToLower(name) {
		case "duckduckgo":
			engines = append(engines, NewDuckDuckGo(timeout, userAgent))
		case "wikipedia":
			engines = append(engines, NewWikipedia(timeout, userAgent))
		default:
			return nil, fmt.Errorf("unknown search engine: %s", name)
		}
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("no search engines configured")
	}

	return &Searcher{
		engines:    engines,
		maxResults: cfg.Search.MaxResults,
		timeout:    timeout,
	}, nil
}

// NewSearcherWithEngines builds a searcher over explicit engines.
func NewSearcherWithEngines(maxResults int, timeout time.Duration, engines ...Engine) *Searcher {
	return &Searcher{
		engines:    engines,
		maxResults: maxResults,
		timeout:    timeout,
	}
}

// Search runs the query on all engines in parallel and merges results.
// Merge order follows the configured engine order so output is stable
// for a given set of engine responses. Duplicate URLs keep the first
// occurrence.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logging.SearchDebug("Unified search: query=%q engines=%d max=%d", query, len(s.engines), s.maxResults)

	perEngine := make([][]Result, len(s.engines))

	var mu sync.Mutex
	var searchErrors []string
	addError := func(err string) {
		mu.Lock()
		searchErrors = append(searchErrors, err)
		mu.Unlock()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i, engine := range s.engines {
		i, engine := i, engine
		eg.Go(func() error {
			start := time.Now()
			results, err := engine.Search(egCtx, query, s.maxResults)
			duration := time.Since(start)
			if err != nil {
				logging.SearchWarn("Engine %s failed for %q: %v", engine.Name(), query, err)
				addError(fmt.Sprintf("%s: %v", engine.Name(), err))
				return nil
			}
			logging.Audit().SearchQuery(engine.Name(), query, len(results), duration.Milliseconds())
			perEngine[i] = results
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var merged []Result
	for _, results := range perEngine {
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
			if len(merged) >= s.maxResults {
				break
			}
		}
		if len(merged) >= s.maxResults {
			break
		}
	}

	if len(merged) == 0 && len(searchErrors) == len(s.engines) {
		return nil, fmt.Errorf("all search engines failed: %s", strings.Join(searchErrors, "; "))
	}

	logging.Search("Unified search completed: %d results for %q", len(merged), query)
	return merged, nil
}
