package research

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"researchnerd/internal/logging"
)

// Cleanup patterns for LLM output artifacts that must never reach the
// final report.
var (
	fenceWrapPattern    = regexp.MustCompile("(?s)^\\s*```(?:markdown)?\\s*\n(.*?)\n?```\\s*$")
	completedPattern    = regexp.MustCompile(`(?mi)^\s*(?:completed|next steps|to be researched):.*$`)
	queryEchoPattern    = regexp.MustCompile(`(?mi)^.*here (?:is|are) .*search quer(?:y|ies).*$`)
	generatedOnPattern  = regexp.MustCompile(`(?mi)^\*{0,2}\s*generated (?:on|at|by):.*$`)
	frameworkPattern    = regexp.MustCompile(`(?mi)^#{0,6}\s*research framework:?.*$`)
	excessNewlines      = regexp.MustCompile(`\n{3,}`)
	themeHeadingPattern = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	findingsLinePattern = regexp.MustCompile(`(?mi)^findings?\s*:\s*(.+)$`)
)

// fallbackThemes structure the report when theme extraction fails.
var fallbackThemes = []string{"Overview", "Key Findings", "Analysis"}

// insufficientFindingsText is the fixed report body for sessions that
// never accumulated a supported finding.
const insufficientFindingsText = "This research session did not accumulate enough supported findings to produce a report. The sources that were reached either failed to load or were not relevant enough to the topic. Consider re-running with a broader query, greater depth, or different search engines."

// Synthesizer turns the accumulated knowledge state into a cited
// report through a fixed pass machine: theme extraction, initial
// draft, enhancement, section expansion, finalize. Every pass degrades
// to the previous pass's output for any section it fails on.
type Synthesizer struct {
	llm           LLMClient
	citations     *CitationRegistry
	detail        DetailLevel
	maxExpansions int
}

// NewSynthesizer creates a synthesizer with a fresh citation registry.
func NewSynthesizer(llm LLMClient, detail DetailLevel, maxExpansions int) *Synthesizer {
	if detail == "" {
		detail = DetailStandard
	}
	return &Synthesizer{
		llm:           llm,
		citations:     NewCitationRegistry(),
		detail:        detail,
		maxExpansions: maxExpansions,
	}
}

// Citations exposes the registry, populated after Synthesize runs.
func (sz *Synthesizer) Citations() *CitationRegistry {
	return sz.citations
}

// themeGroup is one planned report section with the learnings that
// will support it, in presentation order.
type themeGroup struct {
	title     string
	learnings []Learning
}

// citedLearning pairs a learning with the citation numbers its
// selected sources were assigned.
type citedLearning struct {
	learning Learning
	markers  []int
}

// Synthesize runs all passes and assembles the final artifact. A
// session without learnings yields the fixed insufficient-findings
// report. Only context cancellation is returned as an error; per-pass
// failures degrade.
func (sz *Synthesizer) Synthesize(ctx context.Context, s *Session, selected []*Source) (*Artifact, error) {
	learnings := s.Learnings()
	if len(learnings) == 0 {
		logging.Synthesis("No supported findings, producing insufficient-findings report")
		return insufficientFindingsArtifact(s), nil
	}

	selectedByID := make(map[string]*Source, len(selected))
	for _, src := range selected {
		selectedByID[src.ID] = src
	}

	groups := sz.extractThemes(ctx, s.Query, learnings)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title, body, cited := sz.initialDraft(ctx, s, groups, selectedByID)
	summary := sz.draftSummary(ctx, s.Query, learnings)
	conclusion := sz.draftConclusion(ctx, s.Query, learnings)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sz.enhance(ctx, s.Query, body)
	sz.expand(ctx, s.Query, body, cited)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections, bib := sz.finalize(s, summary, body, conclusion)
	return buildArtifact(s, title, sections, bib, len(selected)), nil
}

// extractThemes asks the LLM to group the learnings into 4 to 7 report
// themes, each listing the finding numbers it covers. Unassigned
// learnings join the smallest group; a failed or unparseable response
// falls back to fixed themes with round-robin assignment.
func (sz *Synthesizer) extractThemes(ctx context.Context, query string, learnings []Learning) []themeGroup {
	start := time.Now()

	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\nFindings:\n", query)
	for i, l := range learnings {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l.Content)
	}
	b.WriteString("\nGroup these findings into between 4 and 7 themes for a research report. For each theme respond with:\n## Theme Name\nFindings: 1, 4, 7\nEvery finding should appear under exactly one theme.")

	resp, err := sz.llm.Complete(ctx, b.String())
	if err != nil {
		logging.SynthesisWarn("%v", &SynthesisError{Pass: "theme_extraction", Err: err})
		logging.Audit().SynthesisPass("theme_extraction", time.Since(start).Milliseconds(), false, err.Error())
		return fallbackGroups(learnings)
	}

	groups := parseThemeGroups(resp, learnings)
	if len(groups) == 0 {
		logging.SynthesisWarn("Theme extraction response unparseable, using fallback themes")
		logging.Audit().SynthesisPass("theme_extraction", time.Since(start).Milliseconds(), false, "unparseable response")
		return fallbackGroups(learnings)
	}

	logging.Synthesis("Extracted %d themes", len(groups))
	logging.Audit().SynthesisPass("theme_extraction", time.Since(start).Milliseconds(), true, "")
	return groups
}

func parseThemeGroups(resp string, learnings []Learning) []themeGroup {
	headings := themeHeadingPattern.FindAllStringSubmatchIndex(resp, -1)
	if len(headings) == 0 {
		return nil
	}
	if len(headings) > 7 {
		headings = headings[:7]
	}

	assigned := make([]bool, len(learnings))
	var groups []themeGroup
	for i, loc := range headings {
		title := strings.TrimSpace(strings.TrimSuffix(resp[loc[2]:loc[3]], ":"))
		blockEnd := len(resp)
		if i+1 < len(headings) {
			blockEnd = headings[i+1][0]
		}
		block := resp[loc[1]:blockEnd]

		g := themeGroup{title: title}
		if m := findingsLinePattern.FindStringSubmatch(block); m != nil {
			for _, numStr := range numberListPattern.FindAllString(m[1], -1) {
				n, err := strconv.Atoi(numStr)
				if err != nil || n < 1 || n > len(learnings) || assigned[n-1] {
					continue
				}
				assigned[n-1] = true
				g.learnings = append(g.learnings, learnings[n-1])
			}
		}
		if title != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil
	}

	// Findings the response never mentioned join the smallest group.
	for i, l := range learnings {
		if assigned[i] {
			continue
		}
		smallest := 0
		for gi := range groups {
			if len(groups[gi].learnings) < len(groups[smallest].learnings) {
				smallest = gi
			}
		}
		groups[smallest].learnings = append(groups[smallest].learnings, l)
	}

	// Themes left without any finding carry nothing to draft from.
	kept := groups[:0]
	for _, g := range groups {
		if len(g.learnings) > 0 {
			kept = append(kept, g)
		}
	}
	return kept
}

func fallbackGroups(learnings []Learning) []themeGroup {
	groups := make([]themeGroup, len(fallbackThemes))
	for i, t := range fallbackThemes {
		groups[i].title = t
	}
	for i, l := range learnings {
		gi := i % len(groups)
		groups[gi].learnings = append(groups[gi].learnings, l)
	}
	kept := groups[:0]
	for _, g := range groups {
		if len(g.learnings) > 0 {
			kept = append(kept, g)
		}
	}
	return kept
}

// initialDraft allocates citation numbers and drafts every body
// section. Numbers are assigned before any LLM call, walking sections
// in order and each section's learnings in listed order, so numbering
// depends only on the knowledge state, never on prose.
func (sz *Synthesizer) initialDraft(ctx context.Context, s *Session, groups []themeGroup, selectedByID map[string]*Source) (string, []*ReportSection, map[string][]citedLearning) {
	start := time.Now()

	cited := make(map[string][]citedLearning, len(groups))
	sections := make([]*ReportSection, 0, len(groups))
	for _, g := range groups {
		sec := &ReportSection{Title: g.title, Status: SectionThemed}
		var cls []citedLearning
		for _, l := range g.learnings {
			cl := citedLearning{learning: l}
			for _, sid := range l.SourceIDs {
				if src, ok := selectedByID[sid]; ok && src.Usable() {
					cl.markers = appendUniqueInt(cl.markers, sz.citations.Cite(sid))
				}
			}
			cls = append(cls, cl)
		}
		cited[g.title] = cls
		sections = append(sections, sec)
	}

	title := sz.generateTitle(ctx, s.Query)

	ok := true
	for _, sec := range sections {
		allowed := allowedSet(cited[sec.Title])
		text, err := sz.draftSection(ctx, s.Query, sec.Title, cited[sec.Title])
		if err != nil {
			logging.SynthesisWarn("%v", &SynthesisError{Pass: "initial_draft", Section: sec.Title, Err: err})
			text = draftFallback(cited[sec.Title])
			ok = false
		}
		sec.Text = filterMarkers(cleanReportText(text), allowed)
		sec.Citations = citationsInText(sec.Text)
		sec.Status = SectionDrafted
	}

	errMsg := ""
	if !ok {
		errMsg = "one or more sections fell back to finding lists"
	}
	logging.Synthesis("Drafted %d sections, %d citations assigned", len(sections), sz.citations.Count())
	logging.Audit().SynthesisPass("initial_draft", time.Since(start).Milliseconds(), ok, errMsg)
	return title, sections, cited
}

func (sz *Synthesizer) draftSection(ctx context.Context, query, sectionTitle string, cls []citedLearning) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the section %q of a research report on %q.\n\nFindings to cover, with their citation markers:\n", sectionTitle, query)
	for _, cl := range cls {
		fmt.Fprintf(&b, "- %s %s\n", cl.learning.Content, markerString(cl.markers))
	}
	fmt.Fprintf(&b, "\n%s\n", sz.detailBudget())
	b.WriteString("Write flowing markdown prose for the section body only, without the heading. Place the bracketed citation markers after the statements they support and use only the markers shown above.")
	return sz.llm.Complete(ctx, b.String())
}

func (sz *Synthesizer) detailBudget() string {
	switch sz.detail {
	case DetailBrief:
		return "Keep the section to one or two tight paragraphs."
	case DetailComprehensive:
		return "Write five or more detailed paragraphs, using sub-headings where they genuinely help."
	default:
		return "Write three to five substantial paragraphs."
	}
}

// draftFallback renders a section as its finding list when the draft
// call fails. Deterministic, citations intact.
func draftFallback(cls []citedLearning) string {
	var b strings.Builder
	for _, cl := range cls {
		fmt.Fprintf(&b, "- %s %s\n", cl.learning.Content, markerString(cl.markers))
	}
	return strings.TrimSpace(b.String())
}

// draftSummary writes the executive summary. Summaries carry no
// citation markers; the bibliography is anchored in the body sections.
func (sz *Synthesizer) draftSummary(ctx context.Context, query string, learnings []Learning) *ReportSection {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the executive summary of a research report on %q, based on these findings:\n", query)
	for _, l := range learnings {
		fmt.Fprintf(&b, "- %s\n", l.Content)
	}
	paragraphs := "two or three paragraphs"
	if sz.detail == DetailBrief {
		paragraphs = "one paragraph"
	}
	fmt.Fprintf(&b, "\nWrite %s of flowing prose. No headings, no citation markers, no bullet lists.", paragraphs)

	text, err := sz.llm.Complete(ctx, b.String())
	if err != nil {
		logging.SynthesisWarn("%v", &SynthesisError{Pass: "initial_draft", Section: "Executive Summary", Err: err})
		text = summaryFallback(learnings)
	}
	return &ReportSection{
		Title:  "Executive Summary",
		Text:   stripMarkers(cleanReportText(text)),
		Status: SectionDrafted,
	}
}

func summaryFallback(learnings []Learning) string {
	n := len(learnings)
	if n > 3 {
		n = 3
	}
	parts := make([]string, 0, n)
	for _, l := range learnings[:n] {
		parts = append(parts, l.Content)
	}
	return strings.Join(parts, " ")
}

func (sz *Synthesizer) draftConclusion(ctx context.Context, query string, learnings []Learning) *ReportSection {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the concluding section of a research report on %q. The report established these findings:\n", query)
	for _, l := range learnings {
		fmt.Fprintf(&b, "- %s\n", l.Content)
	}
	b.WriteString("\nSummarize what the findings add up to and what remains open. One or two paragraphs, no headings, no citation markers.")

	text, err := sz.llm.Complete(ctx, b.String())
	if err != nil {
		logging.SynthesisWarn("%v", &SynthesisError{Pass: "initial_draft", Section: "Conclusion", Err: err})
		text = "The findings above summarize the current state of knowledge on this topic."
	}
	return &ReportSection{
		Title:  "Conclusion",
		Text:   stripMarkers(cleanReportText(text)),
		Status: SectionDrafted,
	}
}

// enhance rewrites each body section for depth and clarity. The
// citation set must come through unchanged; a rewrite that gains or
// loses citations is discarded and the draft stands.
func (sz *Synthesizer) enhance(ctx context.Context, query string, body []*ReportSection) {
	start := time.Now()
	failures := 0

	for _, sec := range body {
		prompt := fmt.Sprintf(
			"Improve the following section %q of a research report on %q. Deepen the analysis, tighten the prose, keep the markdown structure, and keep every bracketed citation marker exactly where it supports the text. Do not add or remove citation markers.\n\n%s",
			sec.Title, query, sec.Text)

		resp, err := sz.llm.Complete(ctx, prompt)
		if err != nil {
			logging.SynthesisWarn("%v", &SynthesisError{Pass: "enhancement", Section: sec.Title, Err: err})
			failures++
			continue
		}
		cleaned := cleanReportText(resp)
		if !sameSet(citationsInText(cleaned), sec.Citations) {
			logging.SynthesisWarn("Enhancement changed citations in %q, keeping draft", sec.Title)
			failures++
			continue
		}
		sec.Text = cleaned
		sec.Citations = citationsInText(cleaned)
		sec.Status = SectionEnhanced
	}

	logging.Audit().SynthesisPass("enhancement", time.Since(start).Milliseconds(), failures == 0, "")
}

// expansionBudget scales the configured expansion count by detail
// level.
func expansionBudget(detail DetailLevel, configured int) int {
	if configured < 0 {
		configured = 0
	}
	switch detail {
	case DetailBrief:
		if configured > 1 {
			return 1
		}
		return configured
	case DetailComprehensive:
		return configured + 2
	default:
		return configured
	}
}

// expand re-drafts the weakest body sections, offering findings whose
// markers the draft dropped. Sections with nothing additional to offer
// are left untouched; the expanded text must keep every existing
// citation.
func (sz *Synthesizer) expand(ctx context.Context, query string, body []*ReportSection, cited map[string][]citedLearning) {
	budget := expansionBudget(sz.detail, sz.maxExpansions)
	if budget == 0 || len(body) == 0 {
		return
	}
	start := time.Now()

	ranked := make([]*ReportSection, len(body))
	copy(ranked, body)
	// Weakest first: fewest citations, stable on ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i].Citations) < len(ranked[j].Citations)
	})

	expanded := 0
	for _, sec := range ranked {
		if expanded >= budget {
			break
		}
		extras := missingLearnings(sec, cited[sec.Title])
		if len(extras) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Expand the section %q of a research report on %q. Keep everything already written, including every bracketed citation marker, and weave in these additional findings with their markers:\n", sec.Title, query)
		for _, cl := range extras {
			fmt.Fprintf(&b, "- %s %s\n", cl.learning.Content, markerString(cl.markers))
		}
		fmt.Fprintf(&b, "\nCurrent section text:\n%s", sec.Text)

		resp, err := sz.llm.Complete(ctx, b.String())
		if err != nil {
			logging.SynthesisWarn("%v", &SynthesisError{Pass: "section_expansion", Section: sec.Title, Err: err})
			continue
		}
		allowed := allowedSet(cited[sec.Title])
		cleaned := filterMarkers(cleanReportText(resp), allowed)
		if !containsAll(citationsInText(cleaned), sec.Citations) {
			logging.SynthesisWarn("Expansion dropped citations in %q, keeping previous text", sec.Title)
			continue
		}
		sec.Text = cleaned
		sec.Citations = citationsInText(cleaned)
		sec.Status = SectionExpanded
		expanded++
	}

	logging.Synthesis("Expanded %d sections (budget %d)", expanded, budget)
	logging.Audit().SynthesisPass("section_expansion", time.Since(start).Milliseconds(), true, "")
}

// missingLearnings returns the section's learnings whose markers do
// not all appear in its current text.
func missingLearnings(sec *ReportSection, cls []citedLearning) []citedLearning {
	present := make(map[int]bool, len(sec.Citations))
	for _, n := range sec.Citations {
		present[n] = true
	}
	var out []citedLearning
	for _, cl := range cls {
		if len(cl.markers) == 0 {
			continue
		}
		for _, n := range cl.markers {
			if !present[n] {
				out = append(out, cl)
				break
			}
		}
	}
	return out
}

// finalize scrubs artifacts, removes orphaned citations, renumbers
// contiguously, and assembles the section list plus bibliography.
// After it runs, every in-text number has exactly one bibliography
// entry and vice versa.
func (sz *Synthesizer) finalize(s *Session, summary *ReportSection, body []*ReportSection, conclusion *ReportSection) ([]ReportSection, []BibliographyEntry) {
	start := time.Now()

	// Orphans: markers whose source is gone, excluded, or unregistered.
	var keep []int
	orphaned := make(map[int]bool)
	for _, sec := range body {
		for _, n := range citationsInText(sec.Text) {
			if orphaned[n] {
				continue
			}
			sid, ok := sz.citations.SourceID(n)
			if !ok {
				orphaned[n] = true
				continue
			}
			src := s.SourceByID(sid)
			if src == nil || !src.Usable() {
				orphaned[n] = true
				continue
			}
			keep = appendUniqueInt(keep, n)
		}
	}
	for n := range orphaned {
		logging.Citations("Removing orphaned citation [%d]", n)
	}

	mapping := sz.citations.Renumber(keep)
	for _, sec := range body {
		text := sec.Text
		text = citationMarkerPattern.ReplaceAllStringFunc(text, func(marker string) string {
			n, err := strconv.Atoi(strings.Trim(marker, "[]"))
			if err != nil {
				return marker
			}
			if fresh, ok := mapping[n]; ok {
				return fmt.Sprintf("[%d]", fresh)
			}
			return ""
		})
		sec.Text = cleanReportText(text)
		sec.Citations = citationsInText(sec.Text)
		sec.Status = SectionFinal
	}
	summary.Status = SectionFinal
	conclusion.Status = SectionFinal

	var bib []BibliographyEntry
	for _, old := range sortedKeys(mapping) {
		sid, _ := sz.citations.SourceID(old)
		src := s.SourceByID(sid)
		if src == nil {
			continue
		}
		title := src.Title
		if title == "" {
			title = src.URL
		}
		bib = append(bib, BibliographyEntry{
			Number:     mapping[old],
			URL:        src.URL,
			Title:      title,
			AccessedAt: src.AccessedAt,
		})
	}

	sections := make([]ReportSection, 0, len(body)+2)
	sections = append(sections, *summary)
	for _, sec := range body {
		sections = append(sections, *sec)
	}
	sections = append(sections, *conclusion)

	logging.Synthesis("Finalized report: %d sections, %d bibliography entries", len(sections), len(bib))
	logging.Audit().SynthesisPass("finalize", time.Since(start).Milliseconds(), true, "")
	return sections, bib
}

// generateTitle asks for a short report title and falls back to the
// query itself when the response is unusable.
func (sz *Synthesizer) generateTitle(ctx context.Context, query string) string {
	prompt := fmt.Sprintf("Write the title for a research report on %q. Under 60 characters, no colon, no quotes, and do not start with the words Research Report. Respond with the title alone.", query)
	resp, err := sz.llm.Complete(ctx, prompt)
	if err != nil {
		logging.SynthesisWarn("Title generation failed: %v", err)
		return deriveTitle(query)
	}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `#*"'`)
		line = strings.TrimSuffix(line, ".")
		if line != "" && len(line) <= 90 {
			return line
		}
	}
	return deriveTitle(query)
}

func deriveTitle(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if q == "" {
		return "Research Report"
	}
	runes := []rune(q)
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	q = string(runes)
	if len(q) > 60 {
		if cut := strings.LastIndex(q[:60], " "); cut > 0 {
			q = q[:cut]
		} else {
			q = q[:60]
		}
	}
	return q
}

func insufficientFindingsArtifact(s *Session) *Artifact {
	return buildArtifact(s, deriveTitle(s.Query), []ReportSection{{
		Title:  "Insufficient Findings",
		Text:   insufficientFindingsText,
		Status: SectionFinal,
	}}, nil, 0)
}

// cleanReportText scrubs LLM output artifacts: code-fence wrappers,
// progress chatter, generation stamps, echoed framework blocks.
func cleanReportText(text string) string {
	if m := fenceWrapPattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = completedPattern.ReplaceAllString(text, "")
	text = queryEchoPattern.ReplaceAllString(text, "")
	text = generatedOnPattern.ReplaceAllString(text, "")
	text = frameworkPattern.ReplaceAllString(text, "")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// citationsInText lists the citation numbers in a text, deduplicated,
// in order of first appearance.
func citationsInText(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationMarkerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// filterMarkers removes citation markers outside the allowed set.
func filterMarkers(text string, allowed map[int]bool) string {
	return citationMarkerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(strings.Trim(marker, "[]"))
		if err == nil && allowed[n] {
			return marker
		}
		return ""
	})
}

// stripMarkers removes every citation marker from a text.
func stripMarkers(text string) string {
	return strings.TrimSpace(citationMarkerPattern.ReplaceAllString(text, ""))
}

func allowedSet(cls []citedLearning) map[int]bool {
	allowed := make(map[int]bool)
	for _, cl := range cls {
		for _, n := range cl.markers {
			allowed[n] = true
		}
	}
	return allowed
}

func markerString(markers []int) string {
	var b strings.Builder
	for _, n := range markers {
		fmt.Fprintf(&b, "[%d]", n)
	}
	return b.String()
}

func appendUniqueInt(list []int, n int) []int {
	for _, have := range list {
		if have == n {
			return list
		}
	}
	return append(list, n)
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}

func containsAll(super, sub []int) bool {
	set := make(map[int]bool, len(super))
	for _, n := range super {
		set[n] = true
	}
	for _, n := range sub {
		if !set[n] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
