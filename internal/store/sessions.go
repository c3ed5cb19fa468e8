package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"researchnerd/internal/logging"
	"researchnerd/internal/research"
)

var (
	// ErrNotFound is returned when no archived session matches the given ID.
	ErrNotFound = errors.New("session not found in archive")

	// ErrNoArtifact is returned when a session was archived without a report,
	// which happens for runs that failed before synthesis.
	ErrNoArtifact = errors.New("archived session has no report")
)

// SessionSummary is one row of the archive listing.
type SessionSummary struct {
	ID            string
	Query         string
	Title         string
	Outcome       string
	Detail        string
	Iterations    int
	SourceCount   int
	LearningCount int
	StartedAt     time.Time
	EndedAt       time.Time
}

// LearningHit is a single archived finding matched by FindLearnings.
type LearningHit struct {
	SessionID  string
	Query      string
	Content    string
	Category   string
	Confidence float64
	Iteration  int
}

// ==================== Writes ====================

// SaveSession archives a finished session. The artifact may be nil for runs
// that produced no report. Saving the same session ID again replaces the
// earlier row along with its flattened sources and learnings.
func (a *Archive) SaveSession(snap research.SessionSnapshot, artifact *research.Artifact) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSession")
	defer timer.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	snapshotJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	title := ""
	artifactJSON := ""
	if artifact != nil {
		title = artifact.Title
		raw, err := json.Marshal(artifact)
		if err != nil {
			return fmt.Errorf("failed to encode report artifact: %w", err)
		}
		artifactJSON = string(raw)
	}

	outcome := snap.Outcome
	if outcome == "" {
		outcome = snap.State
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO sessions
		 (id, query, title, state, outcome, detail, depth, breadth, iterations,
		  source_count, learning_count, started_at, ended_at, snapshot_json, artifact_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Query, title, string(snap.State), string(outcome), string(snap.Detail),
		snap.Depth, snap.Breadth, snap.Iteration,
		len(snap.Sources), len(snap.Learnings),
		unixNanos(snap.StartedAt), unixNanos(snap.EndedAt),
		string(snapshotJSON), artifactJSON,
	)
	if err != nil {
		logging.StoreError("Failed to store session %s: %v", snap.ID, err)
		return fmt.Errorf("failed to store session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM sources WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to clear archived sources: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM learnings WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to clear archived learnings: %w", err)
	}

	for _, src := range snap.Sources {
		_, err := tx.Exec(
			`INSERT INTO sources
			 (session_id, source_id, url, title, domain, status, relevance, credibility, excluded, first_seen_iteration)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, src.ID, src.URL, src.Title, src.Domain, string(src.Status),
			src.Relevance, src.Credibility, src.Excluded, src.FirstSeenIteration,
		)
		if err != nil {
			return fmt.Errorf("failed to store source %s: %w", src.ID, err)
		}
	}

	for _, l := range snap.Learnings {
		ids, err := json.Marshal(l.SourceIDs)
		if err != nil {
			return fmt.Errorf("failed to encode learning source ids: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO learnings
			 (session_id, learning_id, content, category, confidence, iteration, source_ids)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, l.ID, l.Content, l.Category, l.Confidence, l.Iteration, string(ids),
		)
		if err != nil {
			return fmt.Errorf("failed to store learning %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session archive: %w", err)
	}

	logging.Store("Archived session %s: %d sources, %d learnings",
		snap.ID, len(snap.Sources), len(snap.Learnings))
	return nil
}

// DeleteSession removes an archived session and its flattened rows.
func (a *Archive) DeleteSession(id string) error {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteSession")
	defer timer.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sources WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete archived sources: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM learnings WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete archived learnings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	logging.Store("Deleted archived session %s", id)
	return nil
}

// ==================== Reads ====================

// ListSessions returns archive rows newest first. A non-positive limit
// defaults to 20.
func (a *Archive) ListSessions(limit int) ([]SessionSummary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessions")
	defer timer.Stop()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.Query(
		`SELECT id, query, title, outcome, detail, iterations, source_count, learning_count, started_at, ended_at
		 FROM sessions
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		logging.StoreError("Failed to list sessions: %v", err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var startNS, endNS int64
		if err := rows.Scan(&s.ID, &s.Query, &s.Title, &s.Outcome, &s.Detail,
			&s.Iterations, &s.SourceCount, &s.LearningCount, &startNS, &endNS); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		s.StartedAt = fromUnixNanos(startNS)
		s.EndedAt = fromUnixNanos(endNS)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadSnapshot returns the full archived state of one session.
func (a *Archive) LoadSnapshot(id string) (research.SessionSnapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadSnapshot")
	defer timer.Stop()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var raw string
	err := a.db.QueryRow(`SELECT snapshot_json FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return research.SessionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return research.SessionSnapshot{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var snap research.SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return research.SessionSnapshot{}, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return snap, nil
}

// LoadArtifact returns the archived report for one session.
func (a *Archive) LoadArtifact(id string) (*research.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadArtifact")
	defer timer.Stop()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var raw string
	err := a.db.QueryRow(`SELECT artifact_json FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", id, err)
	}
	if raw == "" {
		return nil, ErrNoArtifact
	}

	var artifact research.Artifact
	if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode report artifact: %w", err)
	}
	return &artifact, nil
}

// ResolveID expands a session ID prefix to the full stored ID. An exact
// match wins; otherwise the prefix must identify exactly one session.
func (a *Archive) ResolveID(prefix string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var id string
	err := a.db.QueryRow(`SELECT id FROM sessions WHERE id = ?`, prefix).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to resolve session id: %w", err)
	}

	rows, err := a.db.Query(`SELECT id FROM sessions WHERE id LIKE ? ORDER BY id LIMIT 2`, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("failed to resolve session id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", fmt.Errorf("failed to scan session id: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("session id prefix %q is ambiguous", prefix)
	}
}

// FindLearnings searches archived findings across all sessions with a
// case-insensitive substring match. A non-positive limit defaults to 50.
func (a *Archive) FindLearnings(term string, limit int) ([]LearningHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "FindLearnings")
	defer timer.Stop()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.Query(
		`SELECT l.session_id, s.query, l.content, l.category, l.confidence, l.iteration
		 FROM learnings l
		 JOIN sessions s ON s.id = l.session_id
		 WHERE l.content LIKE ?
		 ORDER BY s.started_at DESC, l.iteration ASC
		 LIMIT ?`,
		"%"+term+"%", limit)
	if err != nil {
		logging.StoreError("Failed to search learnings: %v", err)
		return nil, fmt.Errorf("failed to search learnings: %w", err)
	}
	defer rows.Close()

	var out []LearningHit
	for rows.Next() {
		var h LearningHit
		if err := rows.Scan(&h.SessionID, &h.Query, &h.Content, &h.Category, &h.Confidence, &h.Iteration); err != nil {
			return nil, fmt.Errorf("failed to scan learning row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ==================== Helpers ====================

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
