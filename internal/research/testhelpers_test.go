package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"researchnerd/internal/config"
)

// =============================================================================
// SCRIPTED LLM
// =============================================================================

// scriptedLLM maps prompt substrings to canned replies. Rules match in
// registration order, first hit wins. A prompt that matches nothing
// returns an error so unexpected calls fail loudly, unless a
// defaultReply is set.
type scriptedLLM struct {
	mu           sync.Mutex
	rules        []llmRule
	defaultReply string
	calls        []string
}

type llmRule struct {
	match string
	reply string
	err   error
}

func (s *scriptedLLM) on(match, reply string) *scriptedLLM {
	s.rules = append(s.rules, llmRule{match: match, reply: reply})
	return s
}

func (s *scriptedLLM) onErr(match string, err error) *scriptedLLM {
	s.rules = append(s.rules, llmRule{match: match, err: err})
	return s
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, prompt)
	for _, r := range s.rules {
		if strings.Contains(prompt, r.match) {
			return r.reply, r.err
		}
	}
	if s.defaultReply != "" {
		return s.defaultReply, nil
	}
	return "", fmt.Errorf("no scripted reply for prompt: %.80q", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.Complete(ctx, systemPrompt+"\n\n"+userPrompt)
}

// callCount counts received prompts containing the substring.
func (s *scriptedLLM) callCount(match string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}

// =============================================================================
// FAKE SEARCH AND FETCH
// =============================================================================

// fakeSearch serves canned results per query, with a default list for
// queries not explicitly scripted.
type fakeSearch struct {
	mu       sync.Mutex
	results  map[string][]SearchResult
	failures map[string]error
	defaults []SearchResult
	calls    []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		results:  make(map[string][]SearchResult),
		failures: make(map[string]error),
	}
}

func (f *fakeSearch) on(query string, results ...SearchResult) *fakeSearch {
	f.results[query] = results
	return f
}

func (f *fakeSearch) failOn(query string, err error) *fakeSearch {
	f.failures[query] = err
	return f
}

func (f *fakeSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()
	if err, ok := f.failures[query]; ok {
		return nil, err
	}
	if rs, ok := f.results[query]; ok {
		return rs, nil
	}
	return f.defaults, nil
}

func (f *fakeSearch) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeFetcher serves canned pages per raw URL and counts every fetch.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*FetchedPage
	errs  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]*FetchedPage),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) page(url, title, content string) *fakeFetcher {
	f.pages[url] = &FetchedPage{URL: url, Title: title, Content: content}
	return f
}

func (f *fakeFetcher) fail(url string, err error) *fakeFetcher {
	f.errs[url] = err
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*FetchedPage, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls[url]++
	page, okPage := f.pages[url]
	err, okErr := f.errs[url]
	f.mu.Unlock()

	if okErr {
		return nil, err
	}
	if !okPage {
		return nil, fmt.Errorf("fetch %s: no page scripted", url)
	}
	return page, nil
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// =============================================================================
// SESSION AND SOURCE BUILDERS
// =============================================================================

// testSession returns a session already in the Exploring state.
func testSession(query string, depth, breadth int) *Session {
	s := NewSession(query, depth, breadth, DetailStandard)
	s.setState(StateExploring)
	return s
}

// usableSource builds a fetched source record ready for evaluation or
// accumulation, not yet committed to any session.
func usableSource(norm string, iteration, dirIndex int, content string) *Source {
	return &Source{
		ID:                 uuid.NewString(),
		URL:                norm,
		NormalizedURL:      norm,
		Title:              "Title of " + norm,
		Domain:             domainOf(norm),
		Status:             StatusFetched,
		Content:            content,
		ContentHash:        contentHash(content),
		Relevance:          0.8,
		Credibility:        0.6,
		FirstSeenIteration: iteration,
		DirectionIndex:     dirIndex,
		Directions:         []int{dirIndex},
		AccessedAt:         time.Now(),
	}
}

// supportedLearning builds a learning backed by the given sources.
func supportedLearning(content string, iteration int, sourceIDs ...string) Learning {
	return Learning{
		ID:         uuid.NewString(),
		Content:    content,
		Category:   "general",
		Confidence: 1.0,
		SourceIDs:  sourceIDs,
		Iteration:  iteration,
		Hash:       learningHash(content),
	}
}

// testConfig returns defaults tuned for fast tests.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Research.DefaultDepth = 2
	cfg.Research.DefaultBreadth = 2
	cfg.Research.MaxSourcesPerDirection = 3
	cfg.Research.CacheMaxEntries = 100
	cfg.Report.MaxSectionExpansions = 1
	return cfg
}
