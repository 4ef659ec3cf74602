// Package limiter provides per-client token buckets for HTTP rate limiting.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a per-client budget.
type Policy struct {
	RPM   int
	Burst int
}

// perSecond converts RPM to a refill rate. Non-positive RPM falls back to one
// token per second.
func (p Policy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		return 1
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst < 1 {
		return 1
	}
	return p.Burst
}

// RetryAfter is the suggested client backoff in whole seconds.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	s := 60 / p.RPM
	if s < 1 {
		s = 1
	}
	return s
}

// Store decides whether key may spend cost tokens now.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// MemoryStore keeps one rate.Limiter per key in process memory. Buckets idle
// for longer than the idle window are swept on access.
type MemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, cost), nil
}

// Len reports the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.idle {
		return
	}
	s.lastSweep = now
	for k, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.idle {
			delete(s.buckets, k)
		}
	}
}
