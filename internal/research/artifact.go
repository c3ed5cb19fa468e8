package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BibliographyEntry is one numbered reference in the final report.
type BibliographyEntry struct {
	Number     int       `json:"number"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	AccessedAt time.Time `json:"accessed_at,omitempty"`
}

// ResearchStats summarizes the exploration behind a report.
type ResearchStats struct {
	Iterations      int           `json:"iterations"`
	Depth           int           `json:"depth"`
	Breadth         int           `json:"breadth"`
	Directions      int           `json:"directions"`
	SourcesExamined int           `json:"sources_examined"`
	SourcesSelected int           `json:"sources_selected"`
	Learnings       int           `json:"learnings"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// Artifact is the finished research report plus the metadata needed to
// render or archive it. It is a plain value: safe to marshal, render,
// and store after the session is gone.
type Artifact struct {
	SessionID       string              `json:"session_id"`
	Query           string              `json:"query"`
	Title           string              `json:"title"`
	Outcome         SessionState        `json:"outcome"`
	Detail          DetailLevel         `json:"detail"`
	Sections        []ReportSection     `json:"sections"`
	Bibliography    []BibliographyEntry `json:"bibliography,omitempty"`
	Plan            string              `json:"plan,omitempty"`
	Stats           ResearchStats       `json:"stats"`
	Thoughts        []Thought           `json:"thoughts,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
	IncludeAppendix bool                `json:"-"`
}

// buildArtifact assembles an artifact from the session's final state.
func buildArtifact(s *Session, title string, sections []ReportSection, bib []BibliographyEntry, selectedCount int) *Artifact {
	outcome := s.Outcome()
	if outcome == "" {
		outcome = s.State()
	}
	return &Artifact{
		SessionID:    s.ID,
		Query:        s.Query,
		Title:        title,
		Outcome:      outcome,
		Detail:       s.Detail,
		Sections:     sections,
		Bibliography: bib,
		Plan:         s.Plan(),
		Stats: ResearchStats{
			Iterations:      s.Iteration(),
			Depth:           s.Depth,
			Breadth:         s.Breadth,
			Directions:      len(s.Directions()),
			SourcesExamined: len(s.Sources()),
			SourcesSelected: selectedCount,
			Learnings:       len(s.Learnings()),
			Elapsed:         s.Elapsed(),
		},
		Thoughts:    s.Thoughts(),
		GeneratedAt: time.Now(),
	}
}

// Markdown renders the full report: title, sections in order, numbered
// references, and the research process appendix when enabled.
func (a *Artifact) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", a.Title)
	for _, sec := range a.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", sec.Title, sec.Text)
	}

	if len(a.Bibliography) > 0 {
		b.WriteString("\n## References\n\n")
		for _, e := range a.Bibliography {
			fmt.Fprintf(&b, "[%d] %s. %s%s\n", e.Number, e.Title, e.URL, accessedNote(e.AccessedAt))
		}
	}

	if a.IncludeAppendix {
		b.WriteString("\n---\n\n## Research Process\n\n")
		fmt.Fprintf(&b, "- **Query**: %s\n", a.Query)
		fmt.Fprintf(&b, "- **Outcome**: %s\n", outcomeLine(a.Outcome, a.Stats))
		fmt.Fprintf(&b, "- **Directions explored**: %d\n", a.Stats.Directions)
		fmt.Fprintf(&b, "- **Sources examined**: %d (%d selected for the report)\n", a.Stats.SourcesExamined, a.Stats.SourcesSelected)
		fmt.Fprintf(&b, "- **Findings accumulated**: %d\n", a.Stats.Learnings)
		fmt.Fprintf(&b, "- **Elapsed**: %s\n", a.Stats.Elapsed.Round(time.Second))

		if a.Plan != "" {
			fmt.Fprintf(&b, "\n### Research Plan\n\n%s\n", a.Plan)
		}
		if len(a.Thoughts) > 0 {
			b.WriteString("\n### Thought Log\n\n")
			for _, t := range a.Thoughts {
				fmt.Fprintf(&b, "- [%s] %s\n", t.At.Format("15:04:05"), t.Text)
			}
		}
	}

	return b.String()
}

func accessedNote(at time.Time) string {
	if at.IsZero() {
		return ""
	}
	return fmt.Sprintf(" (accessed %s)", at.Format("2006-01-02"))
}

func outcomeLine(outcome SessionState, stats ResearchStats) string {
	switch outcome {
	case StateConverged:
		return fmt.Sprintf("converged after %d of %d iterations", stats.Iterations, stats.Depth)
	case StateExhausted:
		return fmt.Sprintf("explored the full depth of %d iterations", stats.Depth)
	case StateFailed:
		return fmt.Sprintf("stopped after an iteration failure (%d of %d iterations completed)", stats.Iterations, stats.Depth)
	default:
		return string(outcome)
	}
}

// JSON renders the artifact as indented JSON.
func (a *Artifact) JSON() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
