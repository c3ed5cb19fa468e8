package research

import (
	"regexp"
	"sort"
	"strconv"

	"researchnerd/internal/logging"
)

var citationMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

// CitationRegistry assigns report-visible citation numbers to sources.
// Numbers are sequential from 1 in order of first use and never change
// within a session; Finalize renumbers only through an explicit
// remapping after orphan removal. The registry is owned by the
// synthesis phase and mutated sequentially, so it carries no lock.
type CitationRegistry struct {
	bySource map[string]int
	byNumber map[int]string
	order    []string
}

// NewCitationRegistry creates an empty registry.
func NewCitationRegistry() *CitationRegistry {
	return &CitationRegistry{
		bySource: make(map[string]int),
		byNumber: make(map[int]string),
	}
}

// Cite returns the citation number for a source, allocating the next
// sequential number on first use. Idempotent.
func (r *CitationRegistry) Cite(sourceID string) int {
	if n, ok := r.bySource[sourceID]; ok {
		return n
	}
	n := len(r.order) + 1
	r.bySource[sourceID] = n
	r.byNumber[n] = sourceID
	r.order = append(r.order, sourceID)
	logging.CitationsDebug("Assigned citation [%d] to source %s", n, sourceID)
	logging.Audit().CitationAssigned(sourceID, n)
	return n
}

// Number returns the assigned number for a source, if any.
func (r *CitationRegistry) Number(sourceID string) (int, bool) {
	n, ok := r.bySource[sourceID]
	return n, ok
}

// SourceID resolves a citation number back to its source.
func (r *CitationRegistry) SourceID(number int) (string, bool) {
	id, ok := r.byNumber[number]
	return id, ok
}

// Count returns how many citations have been assigned.
func (r *CitationRegistry) Count() int {
	return len(r.order)
}

// Entries returns the registry in ascending number order.
func (r *CitationRegistry) Entries() []CitationEntry {
	out := make([]CitationEntry, 0, len(r.order))
	for i, id := range r.order {
		out = append(out, CitationEntry{Number: i + 1, SourceID: id})
	}
	return out
}

// CitationCheck classifies the bracketed markers found in a text
// against the registry.
type CitationCheck struct {
	Used       []int // registered numbers, in first-appearance order
	OutOfRange []int // markers with no registry entry
	Unused     []int // registered numbers absent from the text, ascending
}

// Validate scans a text for [n] markers and classifies them.
func (r *CitationRegistry) Validate(text string) CitationCheck {
	var check CitationCheck
	seen := make(map[int]bool)
	for _, m := range citationMarkerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := r.byNumber[n]; ok {
			check.Used = append(check.Used, n)
		} else {
			check.OutOfRange = append(check.OutOfRange, n)
		}
	}
	for n := 1; n <= len(r.order); n++ {
		if !seen[n] {
			check.Unused = append(check.Unused, n)
		}
	}
	return check
}

// Renumber builds the contiguous remapping for the kept citation
// numbers: the lowest surviving number becomes 1, and so on.
func (r *CitationRegistry) Renumber(keep []int) map[int]int {
	sorted := append([]int(nil), keep...)
	sort.Ints(sorted)
	mapping := make(map[int]int, len(sorted))
	for i, old := range sorted {
		mapping[old] = i + 1
	}
	return mapping
}
