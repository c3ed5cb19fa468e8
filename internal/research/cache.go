package research

import (
	"context"
	"errors"
	"sync"
	"time"

	"researchnerd/internal/logging"
)

// ErrCacheFull is returned when the session already holds the
// configured maximum number of source records.
var ErrCacheFull = errors.New("source cache full")

// SourceCache deduplicates fetches within a session, keyed by
// normalized URL. Concurrent discovery of the same URL dispatches
// exactly one fetch: the first claimant fills the record, everyone
// else waits for it. Records are never evicted mid-session; a failed
// record may be refetched once it is older than failTTL.
type SourceCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	failTTL    time.Duration
}

type cacheEntry struct {
	ready  chan struct{}
	source *Source
}

// NewSourceCache creates a session-scoped cache. maxEntries <= 0 means
// unbounded; failTTL <= 0 disables failed-record refetching.
func NewSourceCache(maxEntries int, failTTL time.Duration) *SourceCache {
	return &SourceCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		failTTL:    failTTL,
	}
}

// GetOrFetch returns the record for key, invoking fetch exactly once
// per key no matter how many goroutines ask concurrently. The boolean
// reports whether an existing record was reused. fetch must return a
// fully populated record (failed fetches included) and never nil.
func (c *SourceCache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) *Source) (*Source, bool, error) {
	for {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if !ok {
			if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
				c.mu.Unlock()
				return nil, false, ErrCacheFull
			}
			entry = &cacheEntry{ready: make(chan struct{})}
			c.entries[key] = entry
			c.mu.Unlock()

			entry.source = fetch(ctx)
			close(entry.ready)
			return entry.source, false, nil
		}
		c.mu.Unlock()

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}

		src := entry.source
		if c.failTTL > 0 && src.Status == StatusFailed && time.Since(src.AccessedAt) > c.failTTL {
			if c.reclaim(key, entry) {
				logging.Cache("Refetching stale failed record for %s", key)
				fresh := fetch(ctx)
				carryIdentity(fresh, src)
				fresh.AccessedAt = time.Now()
				c.publish(key, fresh)
				return fresh, false, nil
			}
			// Another goroutine reclaimed first; wait on its entry.
			continue
		}
		return src, true, nil
	}
}

// reclaim swaps in a fresh unready entry for key if stale is still the
// current one. Returns whether the caller won the claim.
func (c *SourceCache) reclaim(key string, stale *cacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] != stale {
		return false
	}
	c.entries[key] = &cacheEntry{ready: make(chan struct{})}
	return true
}

func (c *SourceCache) publish(key string, src *Source) {
	c.mu.Lock()
	entry := c.entries[key]
	c.mu.Unlock()
	entry.source = src
	close(entry.ready)
}

// carryIdentity preserves the stable identity of a record across a
// refetch so citations and first-seen bookkeeping survive.
func carryIdentity(fresh, old *Source) {
	fresh.ID = old.ID
	fresh.FirstSeenIteration = old.FirstSeenIteration
	fresh.DirectionIndex = old.DirectionIndex
	fresh.Directions = append([]int(nil), old.Directions...)
}

// Get returns the record for key if one is ready, without blocking.
func (c *SourceCache) Get(key string) (*Source, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-entry.ready:
		return entry.source, true
	default:
		return nil, false
	}
}

// Len reports the number of claimed records, ready or not.
func (c *SourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
