package research

import (
	"context"
	"fmt"
	"strings"

	"researchnerd/internal/logging"
)

// Relevance scores for the three LLM rating grades.
const (
	relevanceHigh   = 0.9
	relevanceMedium = 0.6
	relevanceLow    = 0.3
)

// evaluationExcerptChars bounds how much source text is shown to the
// LLM when rating relevance.
const evaluationExcerptChars = 2000

// Evaluator scores freshly fetched sources for relevance and
// credibility and merges identical-content duplicates. Scores are
// assigned once, in the iteration a source is first seen, and never
// recomputed.
type Evaluator struct {
	llm       LLMClient
	threshold float64
}

// NewEvaluator creates an evaluator. Sources scoring below threshold
// are excluded from accumulation but stay in the ledger.
func NewEvaluator(llm LLMClient, threshold float64) *Evaluator {
	return &Evaluator{llm: llm, threshold: threshold}
}

// Evaluate scores the batch in place. Failed and skipped records pass
// through untouched; records first seen in earlier iterations keep
// their scores.
func (e *Evaluator) Evaluate(ctx context.Context, s *Session, iteration int, batch []*Source) {
	timer := logging.StartTimer(logging.CategoryEvaluator, fmt.Sprintf("evaluate iteration %d", iteration))
	defer timer.Stop()

	audit := logging.AuditWithContext(s.ID, iteration, logging.CategoryEvaluator)
	seenHashes := make(map[string]*Source)

	for _, src := range batch {
		if src.Status != StatusFetched || src.FirstSeenIteration != iteration {
			continue
		}

		if canonical := e.canonicalFor(s, seenHashes, src); canonical != nil {
			for _, idx := range src.Directions {
				canonical.AddDirection(idx)
			}
			src.Excluded = true
			src.MergedInto = canonical.ID
			logging.Evaluator("Duplicate content: %s merged into %s", src.NormalizedURL, canonical.NormalizedURL)
			continue
		}
		seenHashes[src.ContentHash] = src

		src.Relevance = e.rateRelevance(ctx, s, src)
		src.Credibility = credibilityScore(src)
		if src.Relevance < e.threshold {
			src.Excluded = true
			logging.Evaluator("Excluded %s: relevance %.2f below threshold %.2f", src.NormalizedURL, src.Relevance, e.threshold)
		}
		audit.SourceEvaluated(src.NormalizedURL, src.Relevance, src.Credibility, src.Excluded)
	}
}

// canonicalFor finds an earlier source holding identical content,
// checking the session ledger first and then this batch.
func (e *Evaluator) canonicalFor(s *Session, seen map[string]*Source, src *Source) *Source {
	if src.ContentHash == "" {
		return nil
	}
	if canonical := s.canonicalByHash(src.ContentHash); canonical != nil && canonical.ID != src.ID {
		return canonical
	}
	if canonical, ok := seen[src.ContentHash]; ok && canonical.ID != src.ID {
		return canonical
	}
	return nil
}

// rateRelevance asks the LLM to grade the source against the query and
// its originating direction. When the call fails or the answer is
// unparseable, a term-overlap heuristic stands in.
func (e *Evaluator) rateRelevance(ctx context.Context, s *Session, src *Source) float64 {
	direction := s.DirectionText(src.DirectionIndex)
	excerpt := src.Content
	if len(excerpt) > evaluationExcerptChars {
		excerpt = excerpt[:evaluationExcerptChars]
	}

	prompt := fmt.Sprintf(
		"Research topic: %s\nSub-question: %s\n\nSource title: %s\nSource excerpt:\n%s\n\nHow relevant is this source to the research topic and sub-question? Answer with exactly one word: HIGH, MEDIUM, or LOW.",
		s.Query, direction, src.Title, excerpt)

	resp, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		logging.EvaluatorWarn("Relevance rating failed for %s, using heuristic: %v", src.NormalizedURL, err)
		return termOverlap(s.Query+" "+direction, src.Title+" "+src.Content)
	}

	switch upper := strings.ToUpper(resp); {
	case strings.Contains(upper, "HIGH"):
		return relevanceHigh
	case strings.Contains(upper, "MEDIUM"):
		return relevanceMedium
	case strings.Contains(upper, "LOW"):
		return relevanceLow
	}
	logging.EvaluatorWarn("Unparseable relevance rating %q for %s, using heuristic", resp, src.NormalizedURL)
	return termOverlap(s.Query+" "+direction, src.Title+" "+src.Content)
}

// termOverlap is the fallback relevance heuristic: the fraction of
// query terms that appear in the source text.
func termOverlap(query, text string) float64 {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()`)
		if len(w) > 2 {
			terms[w] = true
		}
	}
	if len(terms) == 0 {
		return 0.5
	}
	lower := strings.ToLower(text)
	hits := 0
	for w := range terms {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// reputableDomains carry a credibility bonus. Suffix-matched so
// subdomains inherit the parent's reputation.
var reputableDomains = map[string]float64{
	"wikipedia.org":     0.25,
	"arxiv.org":         0.3,
	"nature.com":        0.3,
	"sciencedirect.com": 0.25,
	"ieee.org":          0.25,
	"acm.org":           0.25,
	"nih.gov":           0.3,
	"github.com":        0.15,
	"stackoverflow.com": 0.15,
	"go.dev":            0.2,
}

// credibilityScore is a pure heuristic over domain reputation, scheme,
// and content length. The exact weights are tunable policy.
func credibilityScore(src *Source) float64 {
	score := 0.5

	domain := src.Domain
	for d, bonus := range reputableDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			score += bonus
			break
		}
	}
	switch {
	case strings.HasSuffix(domain, ".gov"):
		score += 0.25
	case strings.HasSuffix(domain, ".edu"):
		score += 0.2
	case strings.HasSuffix(domain, ".org"):
		score += 0.05
	}

	if strings.HasPrefix(src.NormalizedURL, "https://") {
		score += 0.05
	}

	switch n := len(src.Content); {
	case n >= 2000:
		score += 0.1
	case n < 500:
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
