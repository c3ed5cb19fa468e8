package main

import (
	"context"

	"researchnerd/internal/fetch"
	"researchnerd/internal/research"
	"researchnerd/internal/search"
)

// searchProvider adapts the multi-engine Searcher to the research loop.
type searchProvider struct {
	searcher *search.Searcher
}

func (p searchProvider) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	results, err := p.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]research.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, research.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
		})
	}
	return out, nil
}

// pageFetcher adapts the rate-limited Fetcher to the research loop.
type pageFetcher struct {
	fetcher *fetch.Fetcher
}

func (p pageFetcher) Fetch(ctx context.Context, url string) (*research.FetchedPage, error) {
	page, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return &research.FetchedPage{
		URL:     page.URL,
		Title:   page.Title,
		Content: page.Content,
	}, nil
}
