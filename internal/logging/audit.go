// Audit logging writes one JSON line per research event so a finished
// session can be replayed or analyzed offline. Events cover the full
// pipeline from planning through synthesis.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Session lifecycle events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Iteration lifecycle events
	AuditIterationStart AuditEventType = "iteration_start"
	AuditIterationEnd   AuditEventType = "iteration_end"

	// Planning events
	AuditDirectionsPlanned AuditEventType = "directions_planned"
	AuditPlanningError     AuditEventType = "planning_error"

	// Retrieval events
	AuditSearchQuery AuditEventType = "search_query"
	AuditFetchOK     AuditEventType = "fetch_ok"
	AuditFetchError  AuditEventType = "fetch_error"
	AuditCacheHit    AuditEventType = "cache_hit"

	// Evaluation events
	AuditSourceScored   AuditEventType = "source_scored"
	AuditSourceExcluded AuditEventType = "source_excluded"
	AuditSourceMerged   AuditEventType = "source_merged"

	// Accumulation events
	AuditLearningAdded   AuditEventType = "learning_added"
	AuditLearningDropped AuditEventType = "learning_dropped"

	// Citation events
	AuditCitationAssigned AuditEventType = "citation_assigned"

	// Synthesis events
	AuditSynthesisPass     AuditEventType = "synthesis_pass"
	AuditSynthesisFallback AuditEventType = "synthesis_fallback"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Error events
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorFatal    AuditEventType = "error_fatal"
	AuditErrorRecovery AuditEventType = "error_recovery"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`        // Unix milliseconds
	EventType  AuditEventType         `json:"event"`     // Event type
	Category   string                 `json:"cat"`       // Log category
	SessionID  string                 `json:"session"`   // Session correlation
	Iteration  int                    `json:"iteration"` // Exploration iteration (0 outside the loop)
	Target     string                 `json:"target"`    // Target of operation (URL, model, section)
	Action     string                 `json:"action"`    // Action being performed
	Success    bool                   `json:"success"`   // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`    // Duration in milliseconds
	Error      string                 `json:"error"`     // Error message if failed
	Message    string                 `json:"msg"`       // Human-readable message
	Fields     map[string]interface{} `json:"fields"`    // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging scoped to a session
type AuditLogger struct {
	sessionID string
	category  Category
	iteration int
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsEnabled() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	// Write header
	header := fmt.Sprintf("# Audit log started at %s\n# Format: one JSON event per line\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(sessionID string, iteration int, category Category) *AuditLogger {
	return &AuditLogger{
		sessionID: sessionID,
		iteration: iteration,
		category:  category,
	}
}

// WithIteration returns a copy of the audit logger scoped to an iteration
func (a *AuditLogger) WithIteration(iteration int) *AuditLogger {
	return &AuditLogger{
		sessionID: a.sessionID,
		category:  a.category,
		iteration: iteration,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsEnabled() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.Iteration == 0 && a.iteration != 0 {
		event.Iteration = a.iteration
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	// Write JSON line
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// SessionStart logs session start
func (a *AuditLogger) SessionStart(sessionID, query string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		SessionID: sessionID,
		Target:    query,
		Success:   true,
		Message:   fmt.Sprintf("Session started: %s", sessionID),
	})
}

// SessionEnd logs session end
func (a *AuditLogger) SessionEnd(sessionID, terminal string, iterations int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		SessionID:  sessionID,
		Action:     terminal,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"iterations": iterations},
		Message:    fmt.Sprintf("Session ended: %s (%s after %d iterations, %dms)", sessionID, terminal, iterations, durationMs),
	})
}

// IterationStart logs the beginning of an exploration iteration
func (a *AuditLogger) IterationStart(iteration, remainingDepth int) {
	a.Log(AuditEvent{
		EventType: AuditIterationStart,
		Iteration: iteration,
		Success:   true,
		Fields:    map[string]interface{}{"remaining_depth": remainingDepth},
		Message:   fmt.Sprintf("Iteration %d started (depth remaining: %d)", iteration, remainingDepth),
	})
}

// IterationEnd logs the completion of an exploration iteration
func (a *AuditLogger) IterationEnd(iteration, sourcesFound, learningsAdded int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditIterationEnd,
		Iteration:  iteration,
		Success:    true,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"sources_found":   sourcesFound,
			"learnings_added": learningsAdded,
		},
		Message: fmt.Sprintf("Iteration %d ended (%d sources, %d learnings, %dms)", iteration, sourcesFound, learningsAdded, durationMs),
	})
}

// DirectionsPlanned logs a completed planning step
func (a *AuditLogger) DirectionsPlanned(iteration, count int) {
	a.Log(AuditEvent{
		EventType: AuditDirectionsPlanned,
		Iteration: iteration,
		Success:   true,
		Fields:    map[string]interface{}{"count": count},
		Message:   fmt.Sprintf("Planned %d directions for iteration %d", count, iteration),
	})
}

// LLMCall logs an LLM API call
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": tokens},
		Message:    fmt.Sprintf("LLM call: %s -> %d tokens (%dms, success=%v)", model, tokens, durationMs, success),
	})
}

// SearchQuery logs a search engine query
func (a *AuditLogger) SearchQuery(engine, query string, resultCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSearchQuery,
		Target:     engine,
		Action:     query,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"results": resultCount},
		Message:    fmt.Sprintf("Search %s: %q -> %d results (%dms)", engine, query, resultCount, durationMs),
	})
}

// FetchOp logs a page fetch
func (a *AuditLogger) FetchOp(url string, size int64, durationMs int64, success bool, errMsg string) {
	eventType := AuditFetchOK
	if !success {
		eventType = AuditFetchError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     url,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"size": size},
		Message:    fmt.Sprintf("Fetch %s (%d bytes, %dms, success=%v)", url, size, durationMs, success),
	})
}

// SourceEvaluated logs a source scoring decision
func (a *AuditLogger) SourceEvaluated(url string, relevance, credibility float64, excluded bool) {
	eventType := AuditSourceScored
	if excluded {
		eventType = AuditSourceExcluded
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    url,
		Success:   !excluded,
		Fields: map[string]interface{}{
			"relevance":   relevance,
			"credibility": credibility,
		},
		Message: fmt.Sprintf("Source %s: relevance=%.2f credibility=%.2f excluded=%v", url, relevance, credibility, excluded),
	})
}

// LearningAdded logs a new learning entering the ledger
func (a *AuditLogger) LearningAdded(iteration int, sourceCount int, summary string) {
	a.Log(AuditEvent{
		EventType: AuditLearningAdded,
		Iteration: iteration,
		Success:   true,
		Fields:    map[string]interface{}{"source_count": sourceCount},
		Message:   fmt.Sprintf("Learning added (%d sources): %s", sourceCount, summary),
	})
}

// LearningDropped logs a learning rejected for missing provenance
func (a *AuditLogger) LearningDropped(iteration int, reason, summary string) {
	a.Log(AuditEvent{
		EventType: AuditLearningDropped,
		Iteration: iteration,
		Success:   false,
		Error:     reason,
		Message:   fmt.Sprintf("Learning dropped (%s): %s", reason, summary),
	})
}

// CitationAssigned logs a citation number assignment
func (a *AuditLogger) CitationAssigned(sourceID string, number int) {
	a.Log(AuditEvent{
		EventType: AuditCitationAssigned,
		Target:    sourceID,
		Success:   true,
		Fields:    map[string]interface{}{"number": number},
		Message:   fmt.Sprintf("Citation [%d] -> %s", number, sourceID),
	})
}

// SynthesisPass logs a report synthesis pass
func (a *AuditLogger) SynthesisPass(pass string, durationMs int64, success bool, errMsg string) {
	eventType := AuditSynthesisPass
	if !success {
		eventType = AuditSynthesisFallback
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Action:     pass,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Synthesis pass %s (%dms, success=%v)", pass, durationMs, success),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, fatal bool) {
	eventType := AuditErrorGeneric
	if fatal {
		eventType = AuditErrorFatal
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (fatal=%v)", category, errMsg, fatal),
	})
}
