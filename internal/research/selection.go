package research

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"researchnerd/internal/logging"
)

// selectionTarget is how many sources the LLM is asked to pick when a
// session gathered more citation candidates than the configured cap.
const selectionTarget = 20

var numberListPattern = regexp.MustCompile(`\d+`)

// SelectSources narrows the citation candidates offered to synthesis.
// Candidates are the usable sources some learning actually references,
// in ledger order. When they fit under max they all pass; otherwise an
// LLM pass picks the most valuable ones, falling back to the first few
// in ledger order.
func SelectSources(ctx context.Context, llm LLMClient, s *Session, max int) []*Source {
	referenced := make(map[string]bool)
	for _, l := range s.Learnings() {
		for _, id := range l.SourceIDs {
			referenced[id] = true
		}
	}

	var candidates []*Source
	for _, src := range s.Sources() {
		if src.Usable() && referenced[src.ID] {
			candidates = append(candidates, src)
		}
	}

	if max <= 0 || len(candidates) <= max {
		return candidates
	}

	target := max
	if target > selectionTarget {
		target = selectionTarget
	}
	logging.Synthesis("Selecting from %d candidate sources (cap %d)", len(candidates), target)

	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\nSources:\n", s.Query)
	for i, src := range candidates {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, src.Title, src.URL)
	}
	fmt.Fprintf(&b, "\nSelect the %d sources most valuable for writing a thorough, well-cited report on this topic. Respond with only their numbers, comma-separated.", target)

	selected := candidates[:target]
	if resp, err := llm.Complete(ctx, b.String()); err != nil {
		logging.SynthesisWarn("Source selection failed, keeping first %d: %v", target, err)
	} else if picked := parseSelection(resp, candidates, target); len(picked) > 0 {
		selected = picked
	} else {
		logging.SynthesisWarn("Source selection response unparseable, keeping first %d", target)
	}

	logging.Synthesis("Selected %d of %d candidate sources", len(selected), len(candidates))
	return selected
}

func parseSelection(resp string, candidates []*Source, max int) []*Source {
	var picked []*Source
	seen := make(map[int]bool)
	for _, m := range numberListPattern.FindAllString(resp, -1) {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 || n > len(candidates) || seen[n] {
			continue
		}
		seen[n] = true
		picked = append(picked, candidates[n-1])
		if len(picked) >= max {
			break
		}
	}
	return picked
}
