package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"researchnerd/internal/logging"
)

// nearDuplicateThreshold is the character-trigram Jaccard similarity
// above which two learnings are considered the same finding.
const nearDuplicateThreshold = 0.8

// sourceExcerptChars bounds how much of each source is shown to the
// LLM during accumulation.
const sourceExcerptChars = 2000

// priorLearningContext is how many of the most recent learnings are
// included as context when extracting new ones.
const priorLearningContext = 20

// minLearningChars drops fragments too short to be a finding.
const minLearningChars = 15

var sourceRefPattern = regexp.MustCompile(`\[S(\d+)\]`)
var categoryPrefixPattern = regexp.MustCompile(`^\(([^)]{1,40})\)\s*`)

// Accumulator extracts provenance-backed learnings from an iteration's
// accepted sources. Candidates without at least one valid source
// reference are dropped with a warning, never silently kept.
type Accumulator struct {
	llm LLMClient
}

// NewAccumulator creates an accumulator backed by the given LLM.
func NewAccumulator(llm LLMClient) *Accumulator {
	return &Accumulator{llm: llm}
}

const accumulatorSystem = "You are a research analyst. You extract concrete, factual findings from source material and always attribute each finding to the sources that support it."

// Accumulate folds the iteration's usable sources into the learning
// ledger and returns only the newly appended learnings. An empty
// return with a nil error is the convergence signal. An LLM failure
// surfaces as an AccumulationError; prior learnings are untouched.
func (a *Accumulator) Accumulate(ctx context.Context, s *Session, iteration int, batch []*Source) ([]Learning, error) {
	timer := logging.StartTimer(logging.CategoryAccumulator, fmt.Sprintf("accumulate iteration %d", iteration))
	defer timer.Stop()

	var accepted []*Source
	for _, src := range batch {
		if src.Usable() {
			accepted = append(accepted, src)
		}
	}
	if len(accepted) == 0 {
		logging.Accumulator("Iteration %d: no usable sources to accumulate from", iteration)
		return nil, nil
	}

	raw, err := a.llm.CompleteWithSystem(ctx, accumulatorSystem, a.buildPrompt(s, accepted))
	if err != nil {
		return nil, &AccumulationError{Iteration: iteration, Err: err}
	}

	audit := logging.AuditWithContext(s.ID, iteration, logging.CategoryAccumulator)
	cands := a.parseLearnings(raw, iteration, accepted, audit)
	appended := s.appendLearnings(cands)

	for _, l := range appended {
		audit.LearningAdded(iteration, len(l.SourceIDs), truncate(l.Content, 120))
	}
	logging.Accumulator("Iteration %d: %d candidates, %d appended", iteration, len(cands), len(appended))
	return appended, nil
}

func (a *Accumulator) buildPrompt(s *Session, accepted []*Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", s.Query)

	if prior := s.Learnings(); len(prior) > 0 {
		b.WriteString("Findings already established (do not repeat):\n")
		start := 0
		if len(prior) > priorLearningContext {
			start = len(prior) - priorLearningContext
		}
		for _, l := range prior[start:] {
			fmt.Fprintf(&b, "- %s\n", l.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Sources:\n")
	for i, src := range accepted {
		excerpt := src.Content
		if len(excerpt) > sourceExcerptChars {
			excerpt = excerpt[:sourceExcerptChars]
		}
		fmt.Fprintf(&b, "[S%d] %s (%s)\n%s\n\n", i+1, src.Title, src.URL, excerpt)
	}

	b.WriteString("Extract the new factual findings these sources support. One finding per line, in the form:\n")
	b.WriteString("- (category) finding text [S1][S3]\n")
	b.WriteString("Each finding must end with the [S#] markers of every source that supports it. Use only markers listed above. Skip anything the sources do not actually support.")
	return b.String()
}

// parseLearnings turns LLM output lines into candidate learnings,
// resolving [S#] markers against the accepted batch. Lines without a
// single valid reference are dropped loudly.
func (a *Accumulator) parseLearnings(raw string, iteration int, accepted []*Source, audit *logging.AuditLogger) []Learning {
	var cands []Learning
	for _, line := range strings.Split(raw, "\n") {
		line = listPrefixPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var ids []string
		for _, m := range sourceRefPattern.FindAllStringSubmatch(line, -1) {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n >= 1 && n <= len(accepted) {
				ids = appendUnique(ids, accepted[n-1].ID)
			}
		}

		content := strings.TrimSpace(sourceRefPattern.ReplaceAllString(line, ""))
		category := "general"
		if m := categoryPrefixPattern.FindStringSubmatch(content); m != nil {
			category = strings.ToLower(strings.TrimSpace(m[1]))
			content = strings.TrimSpace(categoryPrefixPattern.ReplaceAllString(content, ""))
		}

		if len(content) < minLearningChars {
			logging.AccumulatorDebug("Dropping short candidate: %q", content)
			continue
		}
		if len(ids) == 0 {
			logging.AccumulatorWarn("Dropping unsupported finding: %q", truncate(content, 120))
			audit.LearningDropped(iteration, "no provenance", truncate(content, 120))
			continue
		}

		cands = append(cands, Learning{
			ID:         uuid.NewString(),
			Content:    content,
			Category:   category,
			Confidence: 1.0,
			SourceIDs:  ids,
			Iteration:  iteration,
			Hash:       learningHash(content),
		})
	}
	return cands
}

func appendUnique(ids []string, id string) []string {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// normalizeLearningText strips case, punctuation, and whitespace
// variation so restatements of the same finding hash alike.
func normalizeLearningText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// learningHash is the exact-duplicate identity of a learning.
func learningHash(content string) string {
	sum := sha256.Sum256([]byte(normalizeLearningText(content)))
	return hex.EncodeToString(sum[:16])
}

// trigramSet builds the character-trigram set of a normalized string.
// Strings shorter than three characters use themselves as the only
// element so similarity still behaves.
func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	if len(s) < 3 {
		if s != "" {
			set[s] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(s); i++ {
		set[s[i:i+3]] = struct{}{}
	}
	return set
}

// trigramJaccard is the Jaccard index of two trigram sets.
func trigramJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
