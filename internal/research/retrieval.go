package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"researchnerd/internal/logging"
)

// blockedDomains never yield useful article text (social feeds,
// storefronts) and are skipped before any fetch is dispatched.
var blockedDomains = []string{
	"pinterest.com", "instagram.com", "facebook.com", "twitter.com",
	"x.com", "youtube.com", "tiktok.com", "reddit.com", "quora.com",
	"linkedin.com", "amazon.com", "ebay.com", "etsy.com", "walmart.com",
}

func blockedDomain(domain string) bool {
	for _, b := range blockedDomains {
		if domain == b || strings.HasSuffix(domain, "."+b) {
			return true
		}
	}
	return false
}

// Coordinator resolves directions into source records: search per
// direction, candidate selection, cache-deduplicated fetching. All
// fan-out stays under one concurrency ceiling, and the returned batch
// is sorted by (direction index, URL) so ordering is independent of
// network timing.
type Coordinator struct {
	search          SearchProvider
	fetcher         PageFetcher
	cache           *SourceCache
	maxPerDirection int
	concurrency     int
}

// NewCoordinator builds a coordinator over the shared session cache.
func NewCoordinator(search SearchProvider, fetcher PageFetcher, cache *SourceCache, maxPerDirection, concurrency int) *Coordinator {
	if maxPerDirection <= 0 {
		maxPerDirection = 5
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Coordinator{
		search:          search,
		fetcher:         fetcher,
		cache:           cache,
		maxPerDirection: maxPerDirection,
		concurrency:     concurrency,
	}
}

// candidate accumulates the discovery provenance of one unique URL
// before its single fetch is dispatched.
type candidate struct {
	result     SearchResult
	norm       string
	firstIndex int
	indexes    []int
}

func (c *candidate) addDirection(index int) {
	for _, have := range c.indexes {
		if have == index {
			return
		}
	}
	c.indexes = append(c.indexes, index)
	if index < c.firstIndex {
		c.firstIndex = index
	}
}

// Retrieve resolves one iteration's directions into source records. A
// failed search or fetch never aborts the batch; only context
// cancellation returns an error.
func (c *Coordinator) Retrieve(ctx context.Context, iteration int, directions []Direction) ([]*Source, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, fmt.Sprintf("retrieve iteration %d", iteration))
	defer timer.Stop()

	results := c.searchAll(ctx, directions)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order, unique, skipped := c.selectCandidates(ctx, iteration, directions, results)

	batch := make(map[string]*Source, len(order)+len(skipped))
	for _, src := range skipped {
		batch[src.NormalizedURL] = src
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, norm := range order {
		cand := unique[norm]
		g.Go(func() error {
			src, hit, err := c.cache.GetOrFetch(gctx, cand.norm, func(fctx context.Context) *Source {
				return c.fetchSource(fctx, iteration, cand)
			})
			if err != nil {
				if errors.Is(err, ErrCacheFull) {
					logging.RetrievalWarn("Source cache full, skipping %s", cand.norm)
					return nil
				}
				return nil // context cancellation, surfaced after Wait
			}
			if hit {
				for _, idx := range cand.indexes {
					src.AddDirection(idx)
				}
				logging.CacheDebug("Cache hit for %s", cand.norm)
			}
			mu.Lock()
			batch[src.NormalizedURL] = src
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*Source, 0, len(batch))
	for _, src := range batch {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DirectionIndex != out[j].DirectionIndex {
			return out[i].DirectionIndex < out[j].DirectionIndex
		}
		return out[i].NormalizedURL < out[j].NormalizedURL
	})

	c.logEmptyDirections(directions, out)
	logging.Retrieval("Iteration %d: %d directions -> %d sources", iteration, len(directions), len(out))
	return out, nil
}

// searchAll runs every direction's search concurrently under the
// shared limit. A failed engine call contributes zero candidates.
func (c *Coordinator) searchAll(ctx context.Context, directions []Direction) [][]SearchResult {
	results := make([][]SearchResult, len(directions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, d := range directions {
		g.Go(func() error {
			rs, err := c.search.Search(gctx, d.Text)
			if err != nil {
				fail := &RetrievalFailure{Direction: d.Text, Err: err}
				logging.RetrievalWarn("%v", fail)
				return nil
			}
			results[i] = rs
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// selectCandidates walks the search results in direction order and
// builds the unique fetch list, merging provenance for URLs that
// several directions surfaced. Blocked domains become skipped records
// without consuming a direction's candidate budget.
func (c *Coordinator) selectCandidates(ctx context.Context, iteration int, directions []Direction, results [][]SearchResult) (order []string, unique map[string]*candidate, skipped []*Source) {
	unique = make(map[string]*candidate)
	for i, d := range directions {
		count := 0
		for _, r := range results[i] {
			if count >= c.maxPerDirection {
				break
			}
			norm, err := NormalizeURL(r.URL)
			if err != nil {
				logging.RetrievalDebug("Dropping candidate %q: %v", r.URL, err)
				continue
			}
			if blockedDomain(domainOf(norm)) {
				if src := c.recordSkipped(ctx, iteration, r, norm, d.Index); src != nil {
					skipped = append(skipped, src)
				}
				continue
			}
			if cand, ok := unique[norm]; ok {
				cand.addDirection(d.Index)
			} else {
				unique[norm] = &candidate{
					result:     r,
					norm:       norm,
					firstIndex: d.Index,
					indexes:    []int{d.Index},
				}
				order = append(order, norm)
			}
			count++
		}
	}
	return order, unique, skipped
}

// recordSkipped registers a blocked-domain URL as a skipped source so
// rediscovery later in the session is a cache hit, not a revisit.
func (c *Coordinator) recordSkipped(ctx context.Context, iteration int, r SearchResult, norm string, dirIndex int) *Source {
	src, hit, err := c.cache.GetOrFetch(ctx, norm, func(context.Context) *Source {
		return &Source{
			ID:                 uuid.NewString(),
			URL:                r.URL,
			NormalizedURL:      norm,
			Title:              r.Title,
			Snippet:            r.Snippet,
			Domain:             domainOf(norm),
			Status:             StatusSkipped,
			Excluded:           true,
			FailureReason:      "blocked domain",
			FirstSeenIteration: iteration,
			DirectionIndex:     dirIndex,
			Directions:         []int{dirIndex},
			AccessedAt:         time.Now(),
		}
	})
	if err != nil {
		return nil
	}
	if hit {
		src.AddDirection(dirIndex)
	} else {
		logging.RetrievalDebug("Skipping blocked domain %s", norm)
	}
	return src
}

// fetchSource runs the single fetch for a claimed URL and builds its
// record. Failures produce a fully populated record with a failed
// status; they are never retried within the iteration.
func (c *Coordinator) fetchSource(ctx context.Context, iteration int, cand *candidate) *Source {
	src := &Source{
		ID:                 uuid.NewString(),
		URL:                cand.result.URL,
		NormalizedURL:      cand.norm,
		Title:              cand.result.Title,
		Snippet:            cand.result.Snippet,
		Domain:             domainOf(cand.norm),
		Status:             StatusPending,
		FirstSeenIteration: iteration,
		DirectionIndex:     cand.firstIndex,
		Directions:         append([]int(nil), cand.indexes...),
		AccessedAt:         time.Now(),
	}

	page, err := c.fetcher.Fetch(ctx, cand.result.URL)
	if err != nil {
		src.Status = StatusFailed
		src.Excluded = true
		src.FailureReason = err.Error()
		fail := &RetrievalFailure{URL: cand.result.URL, Err: err}
		logging.RetrievalWarn("%v", fail)
		return src
	}
	if strings.TrimSpace(page.Content) == "" {
		src.Status = StatusFailed
		src.Excluded = true
		src.FailureReason = "no extractable content"
		return src
	}

	src.Status = StatusFetched
	src.Content = page.Content
	src.ContentHash = contentHash(page.Content)
	if src.Title == "" {
		src.Title = page.Title
	}
	src.AccessedAt = time.Now()
	return src
}

// logEmptyDirections flags directions whose searches produced no
// usable source this iteration.
func (c *Coordinator) logEmptyDirections(directions []Direction, batch []*Source) {
	usable := make(map[int]int)
	for _, src := range batch {
		if src.Usable() {
			for _, idx := range src.Directions {
				usable[idx]++
			}
		}
	}
	for _, d := range directions {
		if usable[d.Index] == 0 {
			logging.Retrieval("Direction %q yielded no usable sources", d.Text)
		}
	}
}

// contentHash is the identity hash of extracted text, used to merge
// distinct URLs serving identical content.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
