package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter rate-limits fetches per host using a token bucket, so a
// burst of candidates on one site does not hammer it while other hosts
// proceed unimpeded.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostLimiter creates a limiter allowing rps sustained requests per
// host with the given burst size.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if rps <= 0 {
		rps = 1.0
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until a request to the URL's host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}

// hostOf extracts the lowercased host from a URL, falling back to the
// raw string so unparseable URLs still share one bucket.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Host)
}
