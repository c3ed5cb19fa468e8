package research

import (
	"context"
	"strings"
	"time"

	"researchnerd/internal/config"
	"researchnerd/internal/logging"
)

// Options selects what to research and how hard. Zero values fall back
// to the configured defaults.
type Options struct {
	Query   string
	Depth   int
	Breadth int
	Detail  DetailLevel
}

// Orchestrator drives one research session end to end: plan, retrieve,
// evaluate, accumulate per iteration, then synthesis. It owns the
// session and is not reusable; create one per query.
type Orchestrator struct {
	cfg      *config.Config
	llm      LLMClient
	planner  *Planner
	coord    *Coordinator
	eval     *Evaluator
	accum    *Accumulator
	session  *Session
	progress ProgressCallback
}

// NewOrchestrator wires the research components around a new session.
// Depth and breadth are clamped into the configured bounds.
func NewOrchestrator(cfg *config.Config, llmClient LLMClient, search SearchProvider, fetcher PageFetcher, opts Options) *Orchestrator {
	depth := opts.Depth
	if depth <= 0 {
		depth = cfg.Research.DefaultDepth
	}
	breadth := opts.Breadth
	if breadth <= 0 {
		breadth = cfg.Research.DefaultBreadth
	}
	clampedDepth, clampedBreadth, adjusted := cfg.ClampResearchBounds(depth, breadth)
	if adjusted {
		logging.OrchestratorWarn("Requested depth %d / breadth %d out of bounds, using %d / %d",
			depth, breadth, clampedDepth, clampedBreadth)
	}

	detail := opts.Detail
	if detail == "" {
		parsed, err := ParseDetailLevel(cfg.Report.DetailLevel)
		if err != nil {
			logging.OrchestratorWarn("Unknown detail level %q, using standard", cfg.Report.DetailLevel)
			parsed = DetailStandard
		}
		detail = parsed
	}

	session := NewSession(strings.TrimSpace(opts.Query), clampedDepth, clampedBreadth, detail)
	cache := NewSourceCache(cfg.Research.CacheMaxEntries, cfg.GetCacheTTL())

	concurrency := clampedBreadth * 2
	if mc := cfg.Fetch.MaxConcurrent; mc > 0 && concurrency > mc {
		concurrency = mc
	}

	return &Orchestrator{
		cfg:     cfg,
		llm:     llmClient,
		planner: NewPlanner(llmClient),
		coord:   NewCoordinator(search, fetcher, cache, cfg.Research.MaxSourcesPerDirection, concurrency),
		eval:    NewEvaluator(llmClient, cfg.Research.RelevanceThreshold),
		accum:   NewAccumulator(llmClient),
		session: session,
	}
}

// SetProgressCallback registers an observer for lifecycle events. Must
// be called before Run.
func (o *Orchestrator) SetProgressCallback(cb ProgressCallback) {
	o.progress = cb
}

// Session exposes the underlying session for observers and archiving.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Run executes the session to completion. It returns an artifact for
// every outcome that produced any knowledge at all; the only error
// returns are pre-flight configuration problems, cancellation, and a
// first iteration that failed before anything was learned.
func (o *Orchestrator) Run(ctx context.Context) (*Artifact, error) {
	s := o.session
	if err := o.preflight(); err != nil {
		logging.OrchestratorError("Pre-flight check failed: %v", err)
		s.setState(StateFailed)
		s.End()
		return nil, err
	}

	audit := logging.AuditWithSession(s.ID)
	audit.SessionStart(s.ID, s.Query)
	logging.Orchestrator("Starting session %s: %q (depth %d, breadth %d, %s)",
		s.ID, s.Query, s.Depth, s.Breadth, s.Detail)
	o.emit(ProgressEvent{Phase: PhaseInitializing, Message: "Starting research"})

	// The plan preamble frames the whole session but is not worth
	// failing over.
	if plan, err := o.planner.ResearchPlan(ctx, s.Query); err != nil {
		if ctx.Err() != nil {
			return nil, o.fail(audit, ctx.Err())
		}
		logging.OrchestratorWarn("Research plan generation failed: %v", err)
	} else {
		s.SetPlan(plan)
		s.Think("Framed the research plan")
	}

	s.setState(StateExploring)
	exploreErr := o.explore(ctx, audit)
	if ctx.Err() != nil {
		return nil, o.fail(audit, ctx.Err())
	}
	if exploreErr != nil {
		s.setState(StateFailed)
		if s.Iteration() <= 1 && len(s.Learnings()) == 0 {
			logging.OrchestratorError("First iteration failed with nothing learned: %v", exploreErr)
			return nil, o.fail(audit, exploreErr)
		}
		logging.OrchestratorWarn("Iteration %d failed (%v), synthesizing from what was learned", s.Iteration(), exploreErr)
		s.Think("Iteration %d failed, continuing to synthesis with %d findings", s.Iteration(), len(s.Learnings()))
	}

	s.setState(StateSynthesizing)
	o.emit(ProgressEvent{Phase: PhaseSynthesizing, Message: "Synthesizing report"})

	selected := SelectSources(ctx, o.llm, s, o.cfg.Research.MaxSelectedSources)
	synth := NewSynthesizer(o.llm, s.Detail, o.cfg.Report.MaxSectionExpansions)
	artifact, err := synth.Synthesize(ctx, s, selected)
	if err != nil {
		return nil, o.fail(audit, err)
	}
	artifact.IncludeAppendix = o.cfg.Report.IncludeAppendix

	s.setState(StateDone)
	s.End()
	artifact.Stats.Elapsed = s.Elapsed()
	audit.SessionEnd(s.ID, string(s.Outcome()), s.Iteration(), s.Elapsed().Milliseconds())
	logging.Orchestrator("Session %s done: %d iterations, %d sources, %d findings, %d citations",
		s.ID, s.Iteration(), len(s.Sources()), len(s.Learnings()), len(artifact.Bibliography))
	o.emit(ProgressEvent{Phase: PhaseDone, Message: "Research complete"})
	return artifact, nil
}

// explore runs the iteration loop until the depth budget runs out, the
// session converges, or an iteration-fatal error occurs. The returned
// error is the iteration failure, nil on a clean stop; cancellation is
// left for the caller to read from ctx.
func (o *Orchestrator) explore(ctx context.Context, audit *logging.AuditLogger) error {
	s := o.session
	for s.Remaining() > 0 {
		if ctx.Err() != nil {
			return nil
		}
		iter := s.beginIteration()
		iterStart := time.Now()
		audit.IterationStart(iter, s.Remaining())
		logging.Orchestrator("Iteration %d of %d", iter, s.Depth)

		o.emit(ProgressEvent{Phase: PhasePlanning, Message: "Planning research directions"})
		dirs, err := o.planner.Plan(ctx, s)
		if err != nil {
			return err
		}
		o.emit(ProgressEvent{Phase: PhaseRetrieving, DirectionsPlanned: len(dirs), Message: "Searching and fetching sources"})

		batch, err := o.coord.Retrieve(ctx, iter, dirs)
		if err != nil {
			return err
		}
		fresh := s.commitSources(batch)
		o.emit(ProgressEvent{Phase: PhaseEvaluating, DirectionsPlanned: len(dirs), SourcesFound: fresh, Message: "Evaluating sources"})

		o.eval.Evaluate(ctx, s, iter, batch)
		o.emit(ProgressEvent{Phase: PhaseAccumulating, DirectionsPlanned: len(dirs), SourcesFound: fresh, Message: "Extracting findings"})

		appended, err := o.accum.Accumulate(ctx, s, iter, batch)
		if err != nil {
			return err
		}

		remaining := s.completeIteration(IterationStats{
			Iteration:         iter,
			DirectionsPlanned: len(dirs),
			SourcesFound:      fresh,
			LearningsAdded:    len(appended),
			Duration:          time.Since(iterStart),
		})
		audit.IterationEnd(iter, fresh, len(appended), time.Since(iterStart).Milliseconds())
		o.emit(ProgressEvent{
			Phase:             PhaseAccumulating,
			DirectionsPlanned: len(dirs),
			SourcesFound:      fresh,
			LearningsAdded:    len(appended),
			Message:           "Iteration complete",
		})

		if len(appended) == 0 {
			s.Think("Iteration %d produced no new findings, research has converged", iter)
			s.setState(StateConverged)
			return nil
		}
		if remaining == 0 {
			s.Think("Depth budget spent after iteration %d", iter)
			s.setState(StateExhausted)
			return nil
		}

		o.emit(ProgressEvent{Phase: PhaseReflecting, Message: "Reflecting on findings"})
		if refl, err := o.planner.Reflect(ctx, s, appended); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.OrchestratorWarn("Reflection failed after iteration %d: %v", iter, err)
		} else {
			s.SetReflection(refl)
			s.Think("Reflected on iteration %d findings", iter)
		}
	}
	s.setState(StateExhausted)
	return nil
}

// preflight rejects configurations the session cannot start with.
func (o *Orchestrator) preflight() error {
	if o.session.Query == "" {
		return &ConfigurationError{Field: "query", Reason: "must not be empty"}
	}
	if o.llm == nil {
		return &ConfigurationError{Field: "llm", Reason: "no language model client configured"}
	}
	if o.coord == nil || o.coord.search == nil {
		return &ConfigurationError{Field: "search", Reason: "no search provider configured"}
	}
	if o.coord.fetcher == nil {
		return &ConfigurationError{Field: "fetch", Reason: "no page fetcher configured"}
	}
	if t := o.cfg.Research.RelevanceThreshold; t < 0 || t > 1 {
		return &ConfigurationError{Field: "research.relevance_threshold", Reason: "must be between 0 and 1"}
	}
	return nil
}

func (o *Orchestrator) fail(audit *logging.AuditLogger, err error) error {
	s := o.session
	s.setState(StateFailed)
	s.End()
	audit.SessionEnd(s.ID, string(StateFailed), s.Iteration(), s.Elapsed().Milliseconds())
	return err
}

// emit fills in the session-wide counters and forwards the event.
func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.progress == nil {
		return
	}
	s := o.session
	ev.State = s.State()
	ev.Iteration = s.Iteration()
	ev.TotalDepth = s.Depth
	ev.TotalSources = len(s.Sources())
	ev.TotalLearnings = len(s.Learnings())
	o.progress(ev)
}
