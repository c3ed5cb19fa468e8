package research

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// SOURCE CACHE TESTS
// =============================================================================

func TestCacheFetchesOncePerKey(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, 0)
	var fetches atomic.Int32
	fetch := func(ctx context.Context) *Source {
		fetches.Add(1)
		return usableSource("https://example.com/a", 1, 0, "content")
	}

	first, reused, err := cache.GetOrFetch(context.Background(), "https://example.com/a", fetch)
	if err != nil {
		t.Fatalf("first GetOrFetch failed: %v", err)
	}
	if reused {
		t.Error("first call should not report reuse")
	}

	second, reused, err := cache.GetOrFetch(context.Background(), "https://example.com/a", fetch)
	if err != nil {
		t.Fatalf("second GetOrFetch failed: %v", err)
	}
	if !reused {
		t.Error("second call should report reuse")
	}
	if first != second {
		t.Error("both calls should return the same record")
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetch invoked %d times, want 1", n)
	}
}

func TestCacheConcurrentClaimants(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, 0)
	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) *Source {
		fetches.Add(1)
		<-release
		return usableSource("https://example.com/a", 1, 0, "content")
	}

	const claimants = 8
	results := make([]*Source, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src, _, err := cache.GetOrFetch(context.Background(), "https://example.com/a", fetch)
			if err != nil {
				t.Errorf("claimant %d failed: %v", i, err)
				return
			}
			results[i] = src
		}(i)
	}

	// Give the losers time to park on the ready channel, then let the
	// single winner finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch invoked %d times under contention, want 1", n)
	}
	for i, src := range results {
		if src != results[0] {
			t.Errorf("claimant %d got a different record", i)
		}
	}
}

func TestCacheCapacity(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(2, 0)
	fetchFor := func(key string) func(ctx context.Context) *Source {
		return func(ctx context.Context) *Source {
			return usableSource(key, 1, 0, "content of "+key)
		}
	}

	for _, key := range []string{"https://example.com/1", "https://example.com/2"} {
		if _, _, err := cache.GetOrFetch(context.Background(), key, fetchFor(key)); err != nil {
			t.Fatalf("GetOrFetch(%q) failed: %v", key, err)
		}
	}

	_, _, err := cache.GetOrFetch(context.Background(), "https://example.com/3", fetchFor("https://example.com/3"))
	if !errors.Is(err, ErrCacheFull) {
		t.Fatalf("third key: got err %v, want ErrCacheFull", err)
	}

	// Known keys stay reachable at capacity.
	src, reused, err := cache.GetOrFetch(context.Background(), "https://example.com/1", fetchFor("https://example.com/1"))
	if err != nil || !reused {
		t.Fatalf("existing key after capacity: src=%v reused=%v err=%v", src, reused, err)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestCacheRefetchesStaleFailures(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, 10*time.Millisecond)
	key := "https://example.com/flaky"

	failed := usableSource(key, 1, 0, "")
	failed.Status = StatusFailed
	failed.Content = ""
	failed.AccessedAt = time.Now().Add(-time.Minute)

	var fetches atomic.Int32
	fetch := func(ctx context.Context) *Source {
		if fetches.Add(1) == 1 {
			return failed
		}
		return usableSource(key, 2, 3, "recovered content")
	}

	first, _, err := cache.GetOrFetch(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("first GetOrFetch failed: %v", err)
	}
	if first.Status != StatusFailed {
		t.Fatalf("first record should be failed, got %s", first.Status)
	}

	second, reused, err := cache.GetOrFetch(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if reused {
		t.Error("refetch of a stale failure should not count as reuse")
	}
	if second.Status != StatusFetched {
		t.Fatalf("refetched record should be fetched, got %s", second.Status)
	}

	// Identity survives the refetch; provenance of discovery does not
	// reset.
	if second.ID != first.ID {
		t.Errorf("refetch changed record ID: %s -> %s", first.ID, second.ID)
	}
	if second.FirstSeenIteration != first.FirstSeenIteration {
		t.Errorf("refetch changed first-seen iteration: %d -> %d", first.FirstSeenIteration, second.FirstSeenIteration)
	}
	if second.DirectionIndex != first.DirectionIndex {
		t.Errorf("refetch changed direction index: %d -> %d", first.DirectionIndex, second.DirectionIndex)
	}

	if n := fetches.Load(); n != 2 {
		t.Errorf("fetch invoked %d times, want 2", n)
	}
}

func TestCacheFreshFailureNotRefetched(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, time.Hour)
	key := "https://example.com/down"

	var fetches atomic.Int32
	fetch := func(ctx context.Context) *Source {
		fetches.Add(1)
		src := usableSource(key, 1, 0, "")
		src.Status = StatusFailed
		src.AccessedAt = time.Now()
		return src
	}

	if _, _, err := cache.GetOrFetch(context.Background(), key, fetch); err != nil {
		t.Fatalf("first GetOrFetch failed: %v", err)
	}
	_, reused, err := cache.GetOrFetch(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("second GetOrFetch failed: %v", err)
	}
	if !reused {
		t.Error("fresh failure should be served from cache")
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetch invoked %d times, want 1", n)
	}
}

func TestCacheGetNonBlocking(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, 0)
	if _, ok := cache.Get("https://example.com/missing"); ok {
		t.Error("Get on missing key should report no record")
	}

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.GetOrFetch(context.Background(), "https://example.com/slow", func(ctx context.Context) *Source {
			<-release
			return usableSource("https://example.com/slow", 1, 0, "content")
		})
	}()

	// While the fetch is in flight the entry is claimed but not ready.
	deadline := time.After(time.Second)
	for cache.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("claim never appeared")
		case <-time.After(time.Millisecond):
		}
	}
	if _, ok := cache.Get("https://example.com/slow"); ok {
		t.Error("Get should not return an unready record")
	}

	close(release)
	<-done
	if _, ok := cache.Get("https://example.com/slow"); !ok {
		t.Error("Get should return the record once ready")
	}
}

func TestCacheContextCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	cache := NewSourceCache(0, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		cache.GetOrFetch(context.Background(), "https://example.com/a", func(ctx context.Context) *Source {
			close(started)
			<-release
			return usableSource("https://example.com/a", 1, 0, "content")
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := cache.GetOrFetch(ctx, "https://example.com/a", func(ctx context.Context) *Source {
		t.Error("waiter must not fetch")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got err %v, want context.Canceled", err)
	}
	close(release)
}
