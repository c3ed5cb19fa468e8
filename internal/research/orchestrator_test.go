package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"researchnerd/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FULL PIPELINE TESTS
// =============================================================================

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig()
	search := newFakeSearch().
		on("ssb electrolytes", SearchResult{Title: "Electrolytes", URL: "https://a.example/electrolytes"}).
		on("ssb manufacturing", SearchResult{Title: "Manufacturing", URL: "https://b.example/manufacturing"})
	fetcher := newFakeFetcher().
		page("https://a.example/electrolytes", "Electrolyte Advances", strings.Repeat("electrolyte conductivity data. ", 20)).
		page("https://b.example/manufacturing", "Factory Economics", strings.Repeat("dry room cost analysis. ", 20))
	llm := (&scriptedLLM{}).
		on("Draft a short research plan", "Objectives: Map the field\nKey Areas: Chemistry, economics\nMethodology: Iterative web research\nExpected Outcomes: A cited report").
		on("distinct web search queries", "1. ssb electrolytes\n2. ssb manufacturing").
		on("HIGH, MEDIUM, or LOW", "HIGH").
		on("Extract the new factual findings", "- (chemistry) Sulfide conductivity crossed ten millisiemens [S1]\n- (economics) Dry rooms dominate cell cost [S2]").
		on("Group these findings", "## State of the Field\nFindings: 1, 2").
		on("Write the title", "Solid State Battery Outlook").
		on(`Write the section "State of the Field"`, "Conductivity milestones arrived [1] while dry rooms still dominate cost [2].").
		on("executive summary", "Fast progress against hard economics.").
		on("concluding section", "Scaling remains the bottleneck.").
		on(`Improve the following section "State of the Field"`, "Conductivity milestones arrived [1]; dry rooms still dominate cost [2].")

	o := NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "solid state batteries", Depth: 1, Breadth: 2})
	var events []ProgressEvent
	o.SetProgressCallback(func(ev ProgressEvent) { events = append(events, ev) })

	artifact, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if artifact.Title != "Solid State Battery Outlook" {
		t.Errorf("title = %q", artifact.Title)
	}
	if artifact.Outcome != StateExhausted {
		t.Errorf("outcome = %s, want %s", artifact.Outcome, StateExhausted)
	}
	if o.Session().State() != StateDone {
		t.Errorf("session state = %s, want %s", o.Session().State(), StateDone)
	}

	st := artifact.Stats
	if st.Iterations != 1 || st.Directions != 2 || st.SourcesExamined != 2 || st.SourcesSelected != 2 || st.Learnings != 2 {
		t.Errorf("stats = %+v", st)
	}
	if search.searchCount() != 2 {
		t.Errorf("searches = %d, want 2", search.searchCount())
	}
	if fetcher.totalFetches() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.totalFetches())
	}

	var titles []string
	for _, sec := range artifact.Sections {
		titles = append(titles, sec.Title)
	}
	want := []string{"Executive Summary", "State of the Field", "Conclusion"}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Fatalf("section titles mismatch (-want +got):\n%s", diff)
	}

	body := artifact.Sections[1]
	if strings.Contains(body.Text, "while dry rooms") {
		t.Errorf("enhancement pass not applied: %q", body.Text)
	}
	if len(citationsInText(artifact.Sections[0].Text)) != 0 || len(citationsInText(artifact.Sections[2].Text)) != 0 {
		t.Error("summary or conclusion carries citation markers")
	}

	if len(artifact.Bibliography) != 2 {
		t.Fatalf("bibliography has %d entries, want 2", len(artifact.Bibliography))
	}
	if artifact.Bibliography[0].Title != "Electrolyte Advances" || artifact.Bibliography[1].Title != "Factory Economics" {
		t.Errorf("bibliography order wrong: %+v", artifact.Bibliography)
	}
	inText := make(map[int]bool)
	for _, n := range body.Citations {
		inText[n] = true
	}
	for _, e := range artifact.Bibliography {
		if !inText[e.Number] {
			t.Errorf("bibliography entry [%d] never cited", e.Number)
		}
	}

	if !strings.Contains(artifact.Plan, "Map the field") {
		t.Errorf("research plan not captured: %q", artifact.Plan)
	}

	phases := make(map[string]bool)
	for _, ev := range events {
		phases[ev.Phase] = true
	}
	for _, phase := range []string{PhaseInitializing, PhasePlanning, PhaseRetrieving, PhaseEvaluating, PhaseAccumulating, PhaseSynthesizing, PhaseDone} {
		if !phases[phase] {
			t.Errorf("phase %q never emitted", phase)
		}
	}
	last := events[len(events)-1]
	if last.Phase != PhaseDone || last.State != StateDone {
		t.Errorf("last event = %+v", last)
	}
	if last.TotalSources != 2 || last.TotalLearnings != 2 {
		t.Errorf("last event counters = %+v", last)
	}
}

func TestRunConvergesWhenNothingNew(t *testing.T) {
	cfg := testConfig()
	search := newFakeSearch().
		on("alpha research angle", SearchResult{Title: "One", URL: "https://one.example/a"}).
		on("beta research angle", SearchResult{Title: "Two", URL: "https://two.example/b"})
	fetcher := newFakeFetcher().
		page("https://one.example/a", "Alpha Page", strings.Repeat("alpha measurement detail. ", 20)).
		page("https://two.example/b", "Beta Page", strings.Repeat("beta measurement detail. ", 20))
	// The second round re-extracts the same finding, so the ledger
	// stays put and the session converges with depth to spare.
	llm := (&scriptedLLM{}).
		on("distinct web search queries", "1. alpha research angle").
		on("new web search queries", "1. beta research angle").
		on("HIGH, MEDIUM, or LOW", "HIGH").
		on("https://two.example/b", "- The alpha constant was measured at twelve units [S1]").
		on("Extract the new factual findings", "- The alpha constant was measured at twelve units [S1]").
		on("well established", "Dig into beta next")

	o := NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "alpha constant", Depth: 3, Breadth: 1})
	artifact, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if artifact.Outcome != StateConverged {
		t.Errorf("outcome = %s, want %s", artifact.Outcome, StateConverged)
	}
	if artifact.Stats.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 of 3", artifact.Stats.Iterations)
	}
	if n := llm.callCount("well established"); n != 1 {
		t.Errorf("reflection ran %d times, want 1", n)
	}

	s := o.Session()
	if len(s.Learnings()) != 1 {
		t.Fatalf("ledger holds %d learnings, want 1 merged", len(s.Learnings()))
	}
	if ids := s.Learnings()[0].SourceIDs; len(ids) != 2 {
		t.Errorf("merged learning cites %d sources, want 2", len(ids))
	}
	// Both supporting sources make it into the bibliography even
	// though synthesis prompts were left unscripted and degraded.
	if len(artifact.Bibliography) != 2 {
		t.Errorf("bibliography has %d entries, want 2", len(artifact.Bibliography))
	}
}

func TestRunExhaustsDepthBudget(t *testing.T) {
	cfg := testConfig()
	search := newFakeSearch().
		on("gamma first angle", SearchResult{Title: "Gamma", URL: "https://gamma.example/page"}).
		on("delta second angle", SearchResult{Title: "Delta", URL: "https://delta.example/page"})
	fetcher := newFakeFetcher().
		page("https://gamma.example/page", "Gamma Page", strings.Repeat("gamma detail text. ", 20)).
		page("https://delta.example/page", "Delta Page", strings.Repeat("delta detail text. ", 20))
	llm := (&scriptedLLM{}).
		on("distinct web search queries", "1. gamma first angle").
		on("new web search queries", "1. delta second angle").
		on("HIGH, MEDIUM, or LOW", "HIGH").
		on("https://delta.example/page", "- Delta readings run hotter than gamma readings [S1]").
		on("Extract the new factual findings", "- Gamma readings hold steady across trials [S1]").
		on("well established", "Check delta next")

	o := NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "gamma and delta readings", Depth: 2, Breadth: 1})
	artifact, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if artifact.Outcome != StateExhausted {
		t.Errorf("outcome = %s, want %s", artifact.Outcome, StateExhausted)
	}
	if artifact.Stats.Iterations != 2 {
		t.Errorf("iterations = %d, want exactly the depth budget", artifact.Stats.Iterations)
	}
	if len(o.Session().Learnings()) != 2 {
		t.Errorf("ledger holds %d learnings, want 2", len(o.Session().Learnings()))
	}
	// No reflection after the final iteration.
	if n := llm.callCount("well established"); n != 1 {
		t.Errorf("reflection ran %d times, want 1", n)
	}
}

// =============================================================================
// DEGRADATION AND FAILURE TESTS
// =============================================================================

func TestRunDegradesAfterIterationFailure(t *testing.T) {
	cfg := testConfig()
	search := newFakeSearch().
		on("epsilon opening angle", SearchResult{Title: "Epsilon", URL: "https://epsilon.example/page"})
	fetcher := newFakeFetcher().
		page("https://epsilon.example/page", "Epsilon Page", strings.Repeat("epsilon detail text. ", 20))
	llm := (&scriptedLLM{}).
		on("distinct web search queries", "1. epsilon opening angle").
		onErr("new web search queries", errors.New("model timeout")).
		on("HIGH, MEDIUM, or LOW", "HIGH").
		on("Extract the new factual findings", "- Epsilon output doubled over the last decade [S1]").
		on("well established", "Look for the cause next")

	o := NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "epsilon output trend", Depth: 3, Breadth: 1})
	artifact, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should degrade to synthesis, got error: %v", err)
	}

	if artifact.Outcome != StateFailed {
		t.Errorf("outcome = %s, want %s", artifact.Outcome, StateFailed)
	}
	if o.Session().State() != StateDone {
		t.Errorf("session state = %s, want %s", o.Session().State(), StateDone)
	}
	if artifact.Stats.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 (failed on the second)", artifact.Stats.Iterations)
	}
	if len(artifact.Bibliography) != 1 {
		t.Errorf("bibliography has %d entries, want the surviving source", len(artifact.Bibliography))
	}
}

func TestRunFirstIterationFatal(t *testing.T) {
	cfg := testConfig()
	search := newFakeSearch().
		on("zeta only angle", SearchResult{Title: "Zeta", URL: "https://zeta.example/page"})
	fetcher := newFakeFetcher().
		page("https://zeta.example/page", "Zeta Page", strings.Repeat("zeta detail text. ", 20))
	llm := (&scriptedLLM{}).
		on("distinct web search queries", "1. zeta only angle").
		on("HIGH, MEDIUM, or LOW", "HIGH").
		onErr("Extract the new factual findings", errors.New("model unavailable"))

	o := NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "zeta readings", Depth: 2, Breadth: 1})
	artifact, err := o.Run(context.Background())
	if artifact != nil {
		t.Fatalf("expected no artifact, got %+v", artifact)
	}
	var aerr *AccumulationError
	if !errors.As(err, &aerr) {
		t.Fatalf("got err %v, want AccumulationError", err)
	}
	if aerr.Iteration != 1 {
		t.Errorf("failed iteration = %d, want 1", aerr.Iteration)
	}
	if o.Session().State() != StateFailed {
		t.Errorf("session state = %s, want %s", o.Session().State(), StateFailed)
	}
}

func TestRunPreflightErrors(t *testing.T) {
	search := newFakeSearch()
	fetcher := newFakeFetcher()
	llm := &scriptedLLM{}

	tests := []struct {
		name  string
		build func() *Orchestrator
		field string
	}{
		{
			"blank query",
			func() *Orchestrator {
				return NewOrchestrator(testConfig(), llm, search, fetcher, Options{Query: "   "})
			},
			"query",
		},
		{
			"missing llm",
			func() *Orchestrator {
				return NewOrchestrator(testConfig(), nil, search, fetcher, Options{Query: "q"})
			},
			"llm",
		},
		{
			"threshold out of range",
			func() *Orchestrator {
				cfg := testConfig()
				cfg.Research.RelevanceThreshold = 1.5
				return NewOrchestrator(cfg, llm, search, fetcher, Options{Query: "q"})
			},
			"research.relevance_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.build()
			artifact, err := o.Run(context.Background())
			if artifact != nil {
				t.Fatal("expected no artifact")
			}
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("got err %v, want ConfigurationError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("field = %q, want %q", cerr.Field, tt.field)
			}
			if o.Session().State() != StateFailed {
				t.Errorf("session state = %s, want %s", o.Session().State(), StateFailed)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	llm := (&scriptedLLM{}).
		on("distinct web search queries", "1. some research angle")
	o := NewOrchestrator(testConfig(), llm, newFakeSearch(), newFakeFetcher(), Options{Query: "anything", Depth: 2, Breadth: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifact, err := o.Run(ctx)
	if artifact != nil {
		t.Fatal("expected no artifact after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got err %v, want context.Canceled", err)
	}
	if o.Session().State() != StateFailed {
		t.Errorf("session state = %s, want %s", o.Session().State(), StateFailed)
	}
}

// =============================================================================
// BOUNDS AND OPTION HANDLING
// =============================================================================

func TestNewOrchestratorClampsBounds(t *testing.T) {
	cfg := testConfig()
	o := NewOrchestrator(cfg, &scriptedLLM{}, newFakeSearch(), newFakeFetcher(), Options{Query: "q", Depth: 99, Breadth: 99})
	s := o.Session()
	if s.Depth != config.MaxDepth || s.Breadth != config.MaxBreadth {
		t.Errorf("bounds = %d / %d, want clamped to %d / %d", s.Depth, s.Breadth, config.MaxDepth, config.MaxBreadth)
	}

	o = NewOrchestrator(cfg, &scriptedLLM{}, newFakeSearch(), newFakeFetcher(), Options{Query: "q"})
	s = o.Session()
	if s.Depth != cfg.Research.DefaultDepth || s.Breadth != cfg.Research.DefaultBreadth {
		t.Errorf("defaults = %d / %d, want %d / %d", s.Depth, s.Breadth, cfg.Research.DefaultDepth, cfg.Research.DefaultBreadth)
	}
	if s.Detail != DetailStandard {
		t.Errorf("detail = %s, want configured default", s.Detail)
	}
}
