package research

import "fmt"

// ConfigurationError rejects a session before the first iteration.
// It is the only error class that never degrades: nothing ran yet.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// PlanningError marks an LLM failure during direction planning. It is
// iteration-fatal: the loop stops at this depth but prior progress is
// kept and the session proceeds to synthesis.
type PlanningError struct {
	Iteration int
	Err       error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// AccumulationError marks an LLM failure during knowledge
// accumulation. Same degradation policy as PlanningError.
type AccumulationError struct {
	Iteration int
	Err       error
}

func (e *AccumulationError) Error() string {
	return fmt.Sprintf("accumulation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *AccumulationError) Unwrap() error { return e.Err }

// RetrievalFailure records a failed search or fetch for one direction
// or URL. It never propagates past retrieval: the source carries a
// failed status instead.
type RetrievalFailure struct {
	Direction string
	URL       string
	Err       error
}

func (e *RetrievalFailure) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("retrieval failed for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("retrieval failed for direction %q: %v", e.Direction, e.Err)
}

func (e *RetrievalFailure) Unwrap() error { return e.Err }

// SynthesisError marks a failed synthesis pass for one section. The
// synthesizer absorbs it by keeping the previous pass's output.
type SynthesisError struct {
	Pass    string
	Section string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("synthesis pass %s failed for section %q: %v", e.Pass, e.Section, e.Err)
	}
	return fmt.Sprintf("synthesis pass %s failed: %v", e.Pass, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
