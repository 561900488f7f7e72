package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fallbackBuckets bounds fail-open traffic while Redis is down. Each key gets a
// token bucket that refills the policy's Max over its Window, so a single
// instance never admits more than the shared budget would have.
type fallbackBuckets struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	idle      time.Duration
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newFallbackBuckets(idle time.Duration, now func() time.Time) *fallbackBuckets {
	return &fallbackBuckets{
		buckets:   make(map[string]*bucket),
		idle:      idle,
		lastSweep: now(),
	}
}

func (f *fallbackBuckets) allow(key string, p Policy, now time.Time) (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastSweep) >= f.idle {
		f.sweepLocked(now)
	}

	b, ok := f.buckets[key]
	if !ok {
		every := p.Window / time.Duration(p.Max)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), p.Max)}
		f.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	left := int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
	return allowed, left
}

func (f *fallbackBuckets) forget(key string) {
	f.mu.Lock()
	delete(f.buckets, key)
	f.mu.Unlock()
}

func (f *fallbackBuckets) sweepLocked(now time.Time) {
	for k, b := range f.buckets {
		if now.Sub(b.lastSeen) > f.idle {
			delete(f.buckets, k)
		}
	}
	f.lastSweep = now
}

func (f *fallbackBuckets) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}
