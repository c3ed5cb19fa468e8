package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"researchnerd/internal/logging"
)

// Planner turns the current knowledge state into the next round of
// research directions. Iteration 1 plans from the original query;
// later iterations plan from accumulated learnings and the latest
// reflection.
type Planner struct {
	llm LLMClient
}

// NewPlanner creates a planner backed by the given LLM.
func NewPlanner(llm LLMClient) *Planner {
	return &Planner{llm: llm}
}

const plannerSystem = "You are a research planner. You produce focused, self-contained web search queries, one per line, with no numbering, commentary, or preamble."

// Plan produces up to breadth new directions for the session's current
// iteration, deduplicated against everything planned before. Fewer
// than breadth is valid; the planner never pads. An LLM failure
// surfaces as a PlanningError.
func (p *Planner) Plan(ctx context.Context, s *Session) ([]Direction, error) {
	iteration := s.Iteration()
	timer := logging.StartTimer(logging.CategoryPlanner, fmt.Sprintf("plan iteration %d", iteration))
	defer timer.Stop()

	raw, err := p.llm.CompleteWithSystem(ctx, plannerSystem, p.buildPrompt(s, iteration))
	if err != nil {
		return nil, &PlanningError{Iteration: iteration, Err: err}
	}

	provenance := "original query"
	if iteration > 1 {
		provenance = fmt.Sprintf("reflection after iteration %d", iteration-1)
	}

	seen := make(map[string]bool)
	var ds []Direction
	for _, line := range parseDirectionLines(raw) {
		norm := normalizeDirection(line)
		if norm == "" || seen[norm] || s.hasDirection(norm) {
			continue
		}
		seen[norm] = true
		ds = append(ds, Direction{
			Text:       line,
			Normalized: norm,
			Iteration:  iteration,
			Provenance: provenance,
		})
		if len(ds) >= s.Breadth {
			break
		}
	}

	if len(ds) == 0 && iteration == 1 {
		logging.PlannerWarn("Planner output unusable on first iteration, using fallback directions")
		ds = fallbackDirections(s, seen)
	}

	committed := s.commitDirections(ds)
	logging.Planner("Iteration %d: planned %d directions", iteration, len(committed))
	logging.AuditWithSession(s.ID).DirectionsPlanned(iteration, len(committed))
	return committed, nil
}

func (p *Planner) buildPrompt(s *Session, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", s.Query)

	if iteration == 1 {
		if plan := s.Plan(); plan != "" {
			fmt.Fprintf(&b, "Research plan:\n%s\n\n", plan)
		}
		fmt.Fprintf(&b, "Generate up to %d distinct web search queries that together cover the most important aspects of this topic.", s.Breadth)
		return b.String()
	}

	learnings := s.Learnings()
	if n := len(learnings); n > 0 {
		b.WriteString("Established findings so far:\n")
		start := 0
		if n > 15 {
			start = n - 15
		}
		for _, l := range learnings[start:] {
			fmt.Fprintf(&b, "- %s\n", l.Content)
		}
		b.WriteString("\n")
	}
	if refl := s.Reflection(); refl != "" {
		fmt.Fprintf(&b, "Analysis of the research so far:\n%s\n\n", refl)
	}
	if prior := s.Directions(); len(prior) > 0 {
		b.WriteString("Queries already explored (do not repeat):\n")
		for _, d := range prior {
			fmt.Fprintf(&b, "- %s\n", d.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Generate up to %d new web search queries targeting the most important remaining gaps.", s.Breadth)
	return b.String()
}

// fallbackDirections are the static directions used when the first
// planning round parses to nothing usable.
func fallbackDirections(s *Session, seen map[string]bool) []Direction {
	var ds []Direction
	for _, suffix := range []string{"latest research", "examples", "applications"} {
		text := fmt.Sprintf("%s %s", s.Query, suffix)
		norm := normalizeDirection(text)
		if seen[norm] || s.hasDirection(norm) {
			continue
		}
		seen[norm] = true
		ds = append(ds, Direction{
			Text:       text,
			Normalized: norm,
			Iteration:  1,
			Provenance: "fallback",
		})
		if len(ds) >= s.Breadth {
			break
		}
	}
	return ds
}

var (
	listPrefixPattern = regexp.MustCompile(`^\s*(?:\d+[.):]|[-*•●])\s*`)

	// metaPhrases mark lines that are LLM commentary rather than
	// queries and get dropped during parsing.
	metaPhrases = []string{
		"here are", "here is", "search quer", "these quer",
		"following quer", "sure,", "certainly", "of course",
		"below are", "i will", "i'll", "let me",
	}
)

// parseDirectionLines cleans raw LLM output into candidate query
// strings: numbering and bullets stripped, commentary and headers
// dropped, single-word lines discarded.
func parseDirectionLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.ReplaceAll(line, "**", "")
		line = listPrefixPattern.ReplaceAllString(line, "")
		line = strings.Trim(line, "\"'` \t")
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		lower := strings.ToLower(line)
		meta := false
		for _, phrase := range metaPhrases {
			if strings.Contains(lower, phrase) {
				meta = true
				break
			}
		}
		if meta || len(strings.Fields(line)) < 2 {
			continue
		}
		out = append(out, line)
	}
	return out
}

// normalizeDirection is the dedup key for a direction: lowercased,
// whitespace collapsed, trailing punctuation removed.
func normalizeDirection(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRight(s, "?!.;,")
}

// planSections are the research plan headings, in document order.
var planSections = []string{"Objectives", "Key Areas", "Methodology", "Expected Outcomes"}

// planFallbacks fill in any section the LLM response was missing.
var planFallbacks = map[string]string{
	"Objectives":        "Build a comprehensive, well-sourced understanding of the topic.",
	"Key Areas":         "Core concepts, current developments, practical applications, open problems.",
	"Methodology":       "Iterative web research: plan targeted queries, retrieve and evaluate sources, accumulate verified findings.",
	"Expected Outcomes": "A structured, cited research report.",
}

// ResearchPlan asks the LLM for a plan preamble (objectives, key
// areas, methodology, expected outcomes) and normalizes it into
// markdown, substituting fallbacks for sections the response omitted.
func (p *Planner) ResearchPlan(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(
		"Draft a short research plan for the topic %q with exactly these four sections, each introduced by its name on its own line: Objectives, Key Areas, Methodology, Expected Outcomes. Keep each section to a few sentences or bullet points.",
		query)

	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("research plan generation: %w", err)
	}

	var b strings.Builder
	for _, name := range planSections {
		body := extractPlanSection(raw, name)
		if body == "" {
			body = planFallbacks[name]
			logging.PlannerDebug("Plan section %q missing, using fallback", name)
		}
		fmt.Fprintf(&b, "**%s**\n\n%s\n\n", name, body)
	}
	return strings.TrimSpace(b.String()), nil
}

// extractPlanSection pulls the body between a section heading and the
// next known heading (or end of text).
func extractPlanSection(text, name string) string {
	headingPattern := regexp.MustCompile(`(?mi)^\s*#{0,4}\s*\*{0,2}` + regexp.QuoteMeta(name) + `\*{0,2}:?\s*$`)
	loc := headingPattern.FindStringIndex(text)
	if loc == nil {
		// Tolerate inline "Name: body" on one line.
		inline := regexp.MustCompile(`(?mi)^\s*\*{0,2}` + regexp.QuoteMeta(name) + `\*{0,2}:\s*(.+)$`)
		if m := inline.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}

	rest := text[loc[1]:]
	end := len(rest)
	for _, other := range planSections {
		if other == name {
			continue
		}
		otherPattern := regexp.MustCompile(`(?mi)^\s*#{0,4}\s*\*{0,2}` + regexp.QuoteMeta(other) + `\*{0,2}:?`)
		if l := otherPattern.FindStringIndex(rest); l != nil && l[0] < end {
			end = l[0]
		}
	}
	return strings.TrimSpace(rest[:end])
}
