package research

import (
	"fmt"
	"time"
)

// SessionState tracks where a session is in its lifecycle. Exploring
// covers the iterative loop; Converged, Exhausted, and Failed record
// why the loop ended before the session moves on to synthesis.
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateExploring    SessionState = "exploring"
	StateConverged    SessionState = "converged"
	StateExhausted    SessionState = "exhausted"
	StateFailed       SessionState = "failed"
	StateSynthesizing SessionState = "synthesizing"
	StateDone         SessionState = "done"
)

// DetailLevel scales synthesis prompt budgets and section expansion.
type DetailLevel string

const (
	DetailBrief         DetailLevel = "brief"
	DetailStandard      DetailLevel = "standard"
	DetailComprehensive DetailLevel = "comprehensive"
)

// ParseDetailLevel validates a detail level string.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch DetailLevel(s) {
	case DetailBrief, DetailStandard, DetailComprehensive:
		return DetailLevel(s), nil
	case "":
		return DetailStandard, nil
	}
	return "", fmt.Errorf("unknown detail level %q (want brief, standard, or comprehensive)", s)
}

// FetchStatus records the outcome of retrieving a source.
type FetchStatus string

const (
	StatusPending FetchStatus = "pending"
	StatusFetched FetchStatus = "fetched"
	StatusFailed  FetchStatus = "failed"
	StatusSkipped FetchStatus = "skipped"
)

// Direction is a pending sub-question spawned for investigation.
// Directions are consumed by retrieval within the iteration that
// planned them; the session keeps them only as deduplication history.
type Direction struct {
	Text       string `json:"text"`
	Normalized string `json:"normalized"`
	Iteration  int    `json:"iteration"`
	Index      int    `json:"index"`
	Provenance string `json:"provenance,omitempty"`
}

// Source is one retrieved document. There is at most one record per
// normalized URL per session: duplicate discoveries merge into the
// existing record instead of refetching. Records are never deleted,
// only excluded from selection.
type Source struct {
	ID                 string      `json:"id"`
	URL                string      `json:"url"`
	NormalizedURL      string      `json:"normalized_url"`
	Title              string      `json:"title,omitempty"`
	Snippet            string      `json:"snippet,omitempty"`
	Domain             string      `json:"domain,omitempty"`
	Status             FetchStatus `json:"status"`
	Content            string      `json:"-"`
	ContentHash        string      `json:"content_hash,omitempty"`
	Relevance          float64     `json:"relevance"`
	Credibility        float64     `json:"credibility"`
	Excluded           bool        `json:"excluded"`
	MergedInto         string      `json:"merged_into,omitempty"`
	FailureReason      string      `json:"failure_reason,omitempty"`
	FirstSeenIteration int         `json:"first_seen_iteration"`
	DirectionIndex     int         `json:"direction_index"`
	Directions         []int       `json:"directions,omitempty"`
	AccessedAt         time.Time   `json:"accessed_at"`
}

// Usable reports whether a source can feed scoring and accumulation.
func (s *Source) Usable() bool {
	return s.Status == StatusFetched && !s.Excluded
}

// AddDirection records that another direction discovered this source.
// The lowest direction index is kept as the stable ordering key.
func (s *Source) AddDirection(index int) {
	for _, d := range s.Directions {
		if d == index {
			return
		}
	}
	s.Directions = append(s.Directions, index)
	if index < s.DirectionIndex {
		s.DirectionIndex = index
	}
}

// Learning is a provenance-backed finding. The ledger is append-only;
// near-duplicates merge provenance into the existing entry rather than
// appending a new one.
type Learning struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Confidence float64  `json:"confidence"`
	SourceIDs  []string `json:"source_ids"`
	Iteration  int      `json:"iteration"`
	Hash       string   `json:"hash"`
}

// CitationEntry maps a source to its report-visible citation number.
type CitationEntry struct {
	Number   int    `json:"number"`
	SourceID string `json:"source_id"`
}

// SectionStatus is the last synthesis pass a section went through.
type SectionStatus string

const (
	SectionThemed   SectionStatus = "themed"
	SectionDrafted  SectionStatus = "drafted"
	SectionEnhanced SectionStatus = "enhanced"
	SectionExpanded SectionStatus = "expanded"
	SectionFinal    SectionStatus = "final"
)

// ReportSection is one named part of the evolving report. Citations
// holds the citation numbers used in the text, in order of first use.
type ReportSection struct {
	Title     string        `json:"title"`
	Text      string        `json:"text"`
	Status    SectionStatus `json:"status"`
	Citations []int         `json:"citations,omitempty"`
}

// IterationStats summarizes one completed iteration.
type IterationStats struct {
	Iteration         int           `json:"iteration"`
	DirectionsPlanned int           `json:"directions_planned"`
	SourcesFound      int           `json:"sources_found"`
	LearningsAdded    int           `json:"learnings_added"`
	Duration          time.Duration `json:"duration_ns"`
}

// Thought is one entry in the session's chain-of-thought log.
type Thought struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// ProgressEvent is pushed to the optional observer at phase
// transitions and after each completed iteration.
type ProgressEvent struct {
	State             SessionState `json:"state"`
	Phase             string       `json:"phase"`
	Iteration         int          `json:"iteration"`
	TotalDepth        int          `json:"total_depth"`
	DirectionsPlanned int          `json:"directions_planned"`
	SourcesFound      int          `json:"sources_found"`
	LearningsAdded    int          `json:"learnings_added"`
	TotalSources      int          `json:"total_sources"`
	TotalLearnings    int          `json:"total_learnings"`
	Message           string       `json:"message,omitempty"`
}

// ProgressCallback receives progress events. Callbacks run on the
// orchestrator goroutine and must not block.
type ProgressCallback func(ProgressEvent)

// Phase names carried on progress events.
const (
	PhaseInitializing = "initializing"
	PhasePlanning     = "planning"
	PhaseRetrieving   = "retrieving"
	PhaseEvaluating   = "evaluating"
	PhaseAccumulating = "accumulating"
	PhaseReflecting   = "reflecting"
	PhaseSynthesizing = "synthesizing"
	PhaseDone         = "done"
)
