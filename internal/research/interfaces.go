package research

import "context"

// LLMClient is the completion surface the engine needs. Satisfied by
// llm.Client; tests use scripted fakes.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SearchResult is one candidate returned by a search provider.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchProvider runs one query across whatever engines back it.
// Implementations return an ordered, deduplicated result list; an
// error means no engine produced anything.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// FetchedPage is the extracted text of one URL.
type FetchedPage struct {
	URL     string
	Title   string
	Content string
}

// PageFetcher retrieves one URL and extracts its readable content.
// Politeness (rate limits, timeouts) is the implementation's concern;
// the engine only consumes success or failure.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedPage, error)
}
