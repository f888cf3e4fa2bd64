// Package ratelimit provides per-provider token-bucket limiting shared
// across all concurrently executing pipeline runs.
package ratelimit

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// BucketSpec configures one provider bucket.
type BucketSpec struct {
	RequestsPerMinute float64
	Burst             int
}

// Limiter holds one token bucket per external provider. Exhausting a bucket
// never errors: Acquire blocks until capacity is available or ctx is done.
// Limiter instances are injected, never package-level, so tests can
// substitute deterministic buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	waiting map[string]int
}

// New creates a Limiter from provider bucket specs.
func New(specs map[string]BucketSpec) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*rate.Limiter, len(specs)),
		waiting: make(map[string]int, len(specs)),
	}
	for name, spec := range specs {
		burst := spec.Burst
		if burst < 1 {
			burst = 1
		}
		l.buckets[name] = rate.NewLimiter(rate.Limit(spec.RequestsPerMinute/60.0), burst)
	}
	return l
}

// Acquire blocks until the provider bucket grants a token. It returns the
// caller's queue position at entry (0 = no wait expected), surfaced to
// progress reporting. Unknown providers pass through without limiting.
func (l *Limiter) Acquire(ctx context.Context, provider string) (int, error) {
	if provider == "" {
		return 0, nil
	}

	l.mu.Lock()
	bucket, ok := l.buckets[provider]
	if !ok {
		l.mu.Unlock()
		return 0, nil
	}
	pos := l.waiting[provider]
	l.waiting[provider]++
	l.mu.Unlock()

	err := bucket.Wait(ctx)

	l.mu.Lock()
	l.waiting[provider]--
	l.mu.Unlock()

	if err != nil {
		return pos, eris.Wrapf(err, "ratelimit: acquire %s", provider)
	}
	return pos, nil
}

// Waiting returns the number of callers currently blocked on the provider
// bucket.
func (l *Limiter) Waiting(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting[provider]
}

// SetLimit replaces the provider's refill rate and burst, creating the bucket
// if it does not exist.
func (l *Limiter) SetLimit(provider string, spec BucketSpec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	burst := spec.Burst
	if burst < 1 {
		burst = 1
	}
	if b, ok := l.buckets[provider]; ok {
		b.SetLimit(rate.Limit(spec.RequestsPerMinute / 60.0))
		b.SetBurst(burst)
		return
	}
	l.buckets[provider] = rate.NewLimiter(rate.Limit(spec.RequestsPerMinute/60.0), burst)
}
