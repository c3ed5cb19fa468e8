// Package research implements the iterative deep-research engine: a
// depth-bounded loop of planning, retrieval, evaluation, and knowledge
// accumulation over live web sources, followed by multi-pass synthesis
// of a cited markdown report.
//
// The engine talks to its collaborators (LLM, search, page fetching)
// only through the narrow interfaces declared in this package, so the
// whole loop runs against in-memory fakes in tests. All session state
// is owned by the Orchestrator and published atomically at sequential
// commit points; the Source Cache is the only structure shared across
// concurrent tasks within an iteration.
package research
