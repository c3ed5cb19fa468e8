package research

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// RENDERING TESTS
// =============================================================================

func reportArtifact() *Artifact {
	return &Artifact{
		SessionID: "sid",
		Query:     "solid state batteries",
		Title:     "Solid State Battery Outlook",
		Outcome:   StateConverged,
		Detail:    DetailStandard,
		Sections: []ReportSection{
			{Title: "Executive Summary", Text: "The short version.", Status: SectionFinal},
			{Title: "Findings", Text: "Electrolytes improved [1].", Status: SectionFinal, Citations: []int{1}},
			{Title: "Conclusion", Text: "Work continues.", Status: SectionFinal},
		},
		Bibliography: []BibliographyEntry{
			{Number: 1, URL: "https://a.example/one", Title: "Electrolyte Advances",
				AccessedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)},
		},
		Plan: "**Objectives**\n\nScoped.",
		Stats: ResearchStats{
			Iterations: 2, Depth: 3, Breadth: 2,
			Directions: 4, SourcesExamined: 6, SourcesSelected: 3, Learnings: 5,
			Elapsed: 90 * time.Second,
		},
		Thoughts:    []Thought{{At: time.Date(2026, 8, 25, 10, 1, 2, 0, time.UTC), Text: "converged early"}},
		GeneratedAt: time.Now(),
	}
}

func TestArtifactMarkdown(t *testing.T) {
	t.Parallel()

	md := reportArtifact().Markdown()

	for _, want := range []string{
		"# Solid State Battery Outlook\n",
		"\n## Executive Summary\n\nThe short version.\n",
		"\n## Findings\n\nElectrolytes improved [1].\n",
		"\n## References\n\n",
		"[1] Electrolyte Advances. https://a.example/one (accessed 2026-08-25)\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "Research Process") {
		t.Error("appendix rendered without IncludeAppendix")
	}
}

func TestArtifactMarkdownAppendix(t *testing.T) {
	t.Parallel()

	a := reportArtifact()
	a.IncludeAppendix = true
	md := a.Markdown()

	for _, want := range []string{
		"\n---\n\n## Research Process\n\n",
		"- **Query**: solid state batteries\n",
		"- **Outcome**: converged after 2 of 3 iterations\n",
		"- **Sources examined**: 6 (3 selected for the report)\n",
		"- **Elapsed**: 1m30s\n",
		"### Research Plan\n\n**Objectives**\n\nScoped.\n",
		"### Thought Log\n\n- [10:01:02] converged early\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("appendix missing %q:\n%s", want, md)
		}
	}
}

func TestArtifactMarkdownNoBibliography(t *testing.T) {
	t.Parallel()

	a := reportArtifact()
	a.Bibliography = nil
	if md := a.Markdown(); strings.Contains(md, "## References") {
		t.Error("references heading rendered with an empty bibliography")
	}
}

func TestOutcomeLine(t *testing.T) {
	t.Parallel()

	stats := ResearchStats{Iterations: 2, Depth: 5}
	tests := []struct {
		outcome SessionState
		want    string
	}{
		{StateConverged, "converged after 2 of 5 iterations"},
		{StateExhausted, "explored the full depth of 5 iterations"},
		{StateFailed, "stopped after an iteration failure (2 of 5 iterations completed)"},
		{StateDone, "done"},
	}
	for _, tt := range tests {
		if got := outcomeLine(tt.outcome, stats); got != tt.want {
			t.Errorf("outcomeLine(%s) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestArtifactJSON(t *testing.T) {
	t.Parallel()

	raw, err := reportArtifact().JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("invalid JSON produced: %v", err)
	}
	for _, key := range []string{"session_id", "query", "title", "outcome", "sections", "bibliography", "stats"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON missing key %q", key)
		}
	}
	if decoded["outcome"] != "converged" {
		t.Errorf("outcome = %v, want converged", decoded["outcome"])
	}
}
