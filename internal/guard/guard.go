// Package guard is the node-local ingress limiter: a per-client token bucket
// in front of the public API. It is deliberately separate from the
// cluster-wide window counter. The guard answers "is this client hammering
// this node", the cluster counter answers "has this key spent its quota". The
// guard keeps working when the cluster owner is unreachable.
package guard

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quotad/internal/models"
)

// Limiter is the guard contract. Implementations must be safe for concurrent
// use.
type Limiter interface {
	// Allow reports whether a request from client may pass, plus the state
	// needed for X-RateLimit response headers.
	Allow(client string) (allowed bool, info Info)

	// Close stops background goroutines.
	Close()
}

// Info holds bucket state for response headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keys one token bucket per client address and evicts buckets
// not seen for two sweep intervals.
type ClientLimiter struct {
	fill  rate.Limit
	burst int
	limit int
	sweep time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewClientLimiter builds a limiter refilling at requestsPerMinute with the
// given burst, and starts the eviction goroutine.
func NewClientLimiter(requestsPerMinute, burst int, sweep time.Duration) *ClientLimiter {
	c := &ClientLimiter{
		fill:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   burst,
		limit:   requestsPerMinute,
		sweep:   sweep,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// FromConfig builds the limiter the config asks for, or nil when the guard is
// disabled.
func FromConfig(cfg models.GuardConfig) *ClientLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewClientLimiter(cfg.RequestsPerMinute, cfg.BurstSize, cfg.CleanupInterval)
}

func (c *ClientLimiter) Allow(client string) (bool, Info) {
	c.mu.Lock()
	b, ok := c.buckets[client]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(c.fill, c.burst)}
		c.buckets[client] = b
	}
	b.lastSeen = time.Now()
	c.mu.Unlock()

	allowed := b.lim.Allow()

	now := time.Now()
	tokens := b.lim.TokensAt(now)

	info := Info{
		Limit:     c.limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now,
	}
	if missing := float64(c.burst) - tokens; missing > 0 {
		info.ResetAt = now.Add(time.Duration(missing / float64(c.fill) * float64(time.Second)))
	}
	if !allowed {
		res := b.lim.Reserve()
		info.RetryAfter = res.Delay()
		res.Cancel()
	}

	return allowed, info
}

func (c *ClientLimiter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *ClientLimiter) run() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evict(time.Now().Add(-2 * c.sweep))
		}
	}
}

func (c *ClientLimiter) evict(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client, b := range c.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(c.buckets, client)
		}
	}
}
