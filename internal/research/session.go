package research

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"researchnerd/internal/logging"
)

// Session is the root aggregate for one research run. It owns the
// direction, source, and learning ledgers. Mutation happens only
// through its methods, called by the orchestrator and its components
// at sequential commit points; observers read consistent snapshots.
type Session struct {
	ID      string
	Query   string
	Depth   int
	Breadth int
	Detail  DetailLevel

	mu         sync.RWMutex
	state      SessionState
	outcome    SessionState // terminal exploration state, kept across synthesis
	iteration  int
	remaining  int
	plan       string
	reflection string
	directions []Direction
	seenDirs   map[string]bool
	sources    map[string]*Source // by normalized URL, ledger identity
	sourceIDs  map[string]*Source // by record ID
	order      []string           // normalized URLs in ledger order
	byHash     map[string]string  // content hash -> canonical normalized URL
	learnings  []Learning
	byLearning map[string]int // learning hash -> ledger index
	stats      []IterationStats
	thoughts   []Thought
	startedAt  time.Time
	endedAt    time.Time
}

// NewSession creates a session in the Initializing state. Depth and
// breadth are assumed to be clamped by the caller.
func NewSession(query string, depth, breadth int, detail DetailLevel) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Query:      query,
		Depth:      depth,
		Breadth:    breadth,
		Detail:     detail,
		state:      StateInitializing,
		remaining:  depth,
		seenDirs:   make(map[string]bool),
		sources:    make(map[string]*Source),
		sourceIDs:  make(map[string]*Source),
		byHash:     make(map[string]string),
		byLearning: make(map[string]int),
		startedAt:  time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	switch state {
	case StateConverged, StateExhausted, StateFailed:
		s.outcome = state
	}
	s.mu.Unlock()
	logging.Session("Session %s: %s -> %s", s.ID, prev, state)
}

// Outcome returns how exploration ended: converged, exhausted, or
// failed. Empty until exploration finishes.
func (s *Session) Outcome() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// Iteration returns the current (1-based) iteration index.
func (s *Session) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// Remaining returns the remaining-depth counter.
func (s *Session) Remaining() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remaining
}

// beginIteration advances the iteration counter and returns it.
func (s *Session) beginIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	return s.iteration
}

// completeIteration records the iteration's stats and decrements the
// remaining-depth counter, returning the new value. The counter is
// strictly decreasing; it is what guarantees termination.
func (s *Session) completeIteration(st IterationStats) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, st)
	s.remaining--
	return s.remaining
}

// Think appends a timestamped entry to the chain-of-thought log.
func (s *Session) Think(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.thoughts = append(s.thoughts, Thought{At: time.Now(), Text: text})
	s.mu.Unlock()
	logging.SessionDebug("Thought: %s", text)
}

// SetPlan stores the research plan preamble.
func (s *Session) SetPlan(plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = plan
}

// Plan returns the research plan preamble, if one was generated.
func (s *Session) Plan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// SetReflection stores the latest post-iteration reflection.
func (s *Session) SetReflection(r string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflection = r
}

// Reflection returns the latest reflection text.
func (s *Session) Reflection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reflection
}

// hasDirection reports whether a normalized direction was already
// planned at any point in the session.
func (s *Session) hasDirection(normalized string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seenDirs[normalized]
}

// commitDirections appends planner output to the direction ledger,
// assigning global indexes. Already-seen directions are dropped; the
// committed slice is returned.
func (s *Session) commitDirections(ds []Direction) []Direction {
	s.mu.Lock()
	defer s.mu.Unlock()

	committed := make([]Direction, 0, len(ds))
	for _, d := range ds {
		if s.seenDirs[d.Normalized] {
			continue
		}
		d.Index = len(s.directions)
		s.seenDirs[d.Normalized] = true
		s.directions = append(s.directions, d)
		committed = append(committed, d)
	}
	return committed
}

// DirectionText returns the text of the direction at a global index.
func (s *Session) DirectionText(index int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.directions) {
		return ""
	}
	return s.directions[index].Text
}

// Directions returns a copy of the direction ledger.
func (s *Session) Directions() []Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Direction(nil), s.directions...)
}

// commitSources publishes an iteration's fully scored batch to the
// source ledger. New records append in batch order; records already in
// the ledger are left in place. A record replacing an earlier one for
// the same normalized URL (a refetched stale failure) takes over that
// URL's ledger slot.
func (s *Session) commitSources(batch []*Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, src := range batch {
		existing, ok := s.sources[src.NormalizedURL]
		if !ok {
			s.sources[src.NormalizedURL] = src
			s.sourceIDs[src.ID] = src
			s.order = append(s.order, src.NormalizedURL)
			added++
		} else if existing != src {
			s.sources[src.NormalizedURL] = src
			s.sourceIDs[src.ID] = src
		}
		if src.Status == StatusFetched && src.ContentHash != "" {
			if _, claimed := s.byHash[src.ContentHash]; !claimed {
				s.byHash[src.ContentHash] = src.NormalizedURL
			}
		}
	}
	return added
}

// canonicalByHash returns the ledger source holding the given content
// hash, if any.
func (s *Session) canonicalByHash(hash string) *Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.byHash[hash]; ok {
		return s.sources[key]
	}
	return nil
}

// SourceByID looks up a ledger source by record ID.
func (s *Session) SourceByID(id string) *Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceIDs[id]
}

// Sources returns the ledger in commit order.
func (s *Session) Sources() []*Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Source, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.sources[key])
	}
	return out
}

// appendLearnings folds candidate learnings into the ledger. Exact and
// near duplicates merge into the existing entry (provenance union,
// confidence averaged); everything else appends. Only the appended
// learnings are returned; an empty return is the convergence signal.
func (s *Session) appendLearnings(cands []Learning) []Learning {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appended []Learning
	for _, cand := range cands {
		if idx, ok := s.byLearning[cand.Hash]; ok {
			s.mergeLearningLocked(idx, cand)
			continue
		}
		if idx, ok := s.findNearDuplicateLocked(cand); ok {
			s.mergeLearningLocked(idx, cand)
			continue
		}
		s.byLearning[cand.Hash] = len(s.learnings)
		s.learnings = append(s.learnings, cand)
		appended = append(appended, cand)
	}
	return appended
}

func (s *Session) findNearDuplicateLocked(cand Learning) (int, bool) {
	candSet := trigramSet(normalizeLearningText(cand.Content))
	for i := range s.learnings {
		set := trigramSet(normalizeLearningText(s.learnings[i].Content))
		if trigramJaccard(candSet, set) > nearDuplicateThreshold {
			return i, true
		}
	}
	return 0, false
}

func (s *Session) mergeLearningLocked(idx int, cand Learning) {
	existing := &s.learnings[idx]
	for _, sid := range cand.SourceIDs {
		found := false
		for _, have := range existing.SourceIDs {
			if have == sid {
				found = true
				break
			}
		}
		if !found {
			existing.SourceIDs = append(existing.SourceIDs, sid)
		}
	}
	existing.Confidence = (existing.Confidence + cand.Confidence) / 2
	logging.AccumulatorDebug("Merged near-duplicate learning into %s", existing.ID)
}

// Learnings returns a copy of the learning ledger.
func (s *Session) Learnings() []Learning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Learning(nil), s.learnings...)
}

// Stats returns the per-iteration stats recorded so far.
func (s *Session) Stats() []IterationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]IterationStats(nil), s.stats...)
}

// Thoughts returns a copy of the chain-of-thought log.
func (s *Session) Thoughts() []Thought {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Thought(nil), s.thoughts...)
}

// End stamps the session's finish time.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endedAt = time.Now()
}

// Elapsed returns the session duration so far, or the final duration
// once ended.
func (s *Session) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endedAt.IsZero() {
		return time.Since(s.startedAt)
	}
	return s.endedAt.Sub(s.startedAt)
}

// SessionSnapshot is a consistent, observer-safe copy of session
// state. Sources are value copies; mutating a snapshot never touches
// the live session.
type SessionSnapshot struct {
	ID         string           `json:"id"`
	Query      string           `json:"query"`
	Depth      int              `json:"depth"`
	Breadth    int              `json:"breadth"`
	Detail     DetailLevel      `json:"detail"`
	State      SessionState     `json:"state"`
	Outcome    SessionState     `json:"outcome,omitempty"`
	Iteration  int              `json:"iteration"`
	Remaining  int              `json:"remaining"`
	Plan       string           `json:"plan,omitempty"`
	Reflection string           `json:"reflection,omitempty"`
	Directions []Direction      `json:"directions"`
	Sources    []Source         `json:"sources"`
	Learnings  []Learning       `json:"learnings"`
	Stats      []IterationStats `json:"stats"`
	Thoughts   []Thought        `json:"thoughts,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitempty"`
}

// Snapshot captures the whole session under one read lock.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SessionSnapshot{
		ID:         s.ID,
		Query:      s.Query,
		Depth:      s.Depth,
		Breadth:    s.Breadth,
		Detail:     s.Detail,
		State:      s.state,
		Outcome:    s.outcome,
		Iteration:  s.iteration,
		Remaining:  s.remaining,
		Plan:       s.plan,
		Reflection: s.reflection,
		Directions: append([]Direction(nil), s.directions...),
		Learnings:  append([]Learning(nil), s.learnings...),
		Stats:      append([]IterationStats(nil), s.stats...),
		Thoughts:   append([]Thought(nil), s.thoughts...),
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
	}
	snap.Sources = make([]Source, 0, len(s.order))
	for _, key := range s.order {
		snap.Sources = append(snap.Sources, *s.sources[key])
	}
	return snap
}
