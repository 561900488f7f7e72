package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/shopGuard/internal/rate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const anonymousClient = "anonymous"

// KeyHasher turns a raw client identifier into the form stored in Redis.
// crypto.KeyedHasher satisfies it.
type KeyHasher interface {
	Hash(value string) string
}

// Decision describes the outcome of one Check.
type Decision struct {
	Allowed   bool
	Policy    string
	Limit     int
	Count     int64
	Remaining int
	ResetAt   time.Time

	// Degraded is set when the decision came from the in-process fallback
	// or from a fail-closed denial because Redis was unreachable.
	Degraded bool

	// Window identifies the Redis window that counted this request. Refund
	// only gives the hit back to that window. Empty when nothing was counted
	// in Redis.
	Window string
}

// RetryAfter is the wait until ResetAt, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	return ((wait + time.Second - 1) / time.Second) * time.Second
}

// Config tunes a Limiter.
type Config struct {
	// KeyPrefix namespaces counters in Redis. Defaults to "rl".
	KeyPrefix string
	// FallbackIdleTTL evicts in-process fallback buckets unused for this long.
	FallbackIdleTTL time.Duration
}

// Limiter applies Policies against shared Redis counters.
type Limiter struct {
	counter  *rate.Counter
	hasher   KeyHasher
	logger   *zap.Logger
	now      func() time.Time
	fallback *fallbackBuckets
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithKeyHasher hashes client identifiers before they reach Redis.
func WithKeyHasher(h KeyHasher) Option {
	return func(l *Limiter) { l.hasher = h }
}

// WithClock overrides the wall clock used for ResetAt and the fallback buckets.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over redisClient. A nil logger disables logging.
func New(redisClient redis.UniversalClient, cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackIdleTTL <= 0 {
		cfg.FallbackIdleTTL = 3 * time.Minute
	}

	l := &Limiter{
		counter: rate.NewCounter(redisClient, cfg.KeyPrefix),
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.fallback = newFallbackBuckets(cfg.FallbackIdleTTL, l.now)
	return l
}

// Check counts one request for clientID under policy.
//
// A denied request returns ErrRateLimited. When Redis fails, a FailClosed policy
// returns a denial wrapping ErrStoreUnavailable; a FailOpen policy logs and
// decides from a local token bucket sized to the same budget.
func (l *Limiter) Check(ctx context.Context, policy Policy, clientID string) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{Policy: policy.Name}, err
	}

	client := l.clientKey(clientID)
	key := l.counter.Key(policy.Name, client)
	now := l.now()

	hit, err := l.counter.Hit(ctx, key, policy.Window)
	if err != nil {
		return l.degraded(policy, key, client, now, err)
	}

	d := Decision{
		Allowed:   hit.Count <= int64(policy.Max),
		Policy:    policy.Name,
		Limit:     policy.Max,
		Count:     hit.Count,
		Remaining: remaining(policy.Max, hit.Count),
		ResetAt:   now.Add(hit.TTL),
		Window:    hit.Window,
	}
	if !d.Allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("policy", policy.Name),
			zap.String("client", client),
			zap.Int64("count", hit.Count),
			zap.Int("limit", policy.Max),
			zap.Time("reset_at", d.ResetAt),
		)
		return d, ErrRateLimited
	}
	return d, nil
}

// Refund returns the hit recorded by d, for policies with SkipSuccessful.
// Other policies are left untouched. When d's window has since expired or
// been reset the refund is dropped, so a request that outlived its window
// cannot erase a failure counted in the next one.
func (l *Limiter) Refund(ctx context.Context, policy Policy, clientID string, d Decision) error {
	if !policy.SkipSuccessful || d.Window == "" {
		return nil
	}
	client := l.clientKey(clientID)
	applied, err := l.counter.Refund(ctx, l.counter.Key(policy.Name, client), d.Window)
	if err != nil {
		l.logger.Warn("rate limit refund failed",
			zap.String("policy", policy.Name),
			zap.String("client", client),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !applied {
		l.logger.Debug("rate limit refund dropped, window rolled over",
			zap.String("policy", policy.Name),
			zap.String("client", client),
		)
	}
	return nil
}

// Status reports the current window for clientID without counting a hit.
func (l *Limiter) Status(ctx context.Context, policy Policy, clientID string) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{Policy: policy.Name}, err
	}
	count, ttl, err := l.counter.Peek(ctx, l.counter.Key(policy.Name, l.clientKey(clientID)))
	if err != nil {
		return Decision{Policy: policy.Name, Limit: policy.Max}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	now := l.now()
	if ttl == 0 {
		ttl = policy.Window
	}
	return Decision{
		Allowed:   count < int64(policy.Max),
		Policy:    policy.Name,
		Limit:     policy.Max,
		Count:     count,
		Remaining: remaining(policy.Max, count),
		ResetAt:   now.Add(ttl),
	}, nil
}

// Reset clears clientID's window under policy, e.g. after support unblocks an account.
func (l *Limiter) Reset(ctx context.Context, policy Policy, clientID string) error {
	key := l.counter.Key(policy.Name, l.clientKey(clientID))
	l.fallback.forget(key)
	if err := l.counter.Reset(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (l *Limiter) degraded(policy Policy, key, client string, now time.Time, cause error) (Decision, error) {
	d := Decision{
		Policy:   policy.Name,
		Limit:    policy.Max,
		ResetAt:  now.Add(policy.Window),
		Degraded: true,
	}

	if policy.FailureMode == FailClosed {
		l.logger.Error("rate limit store unavailable, denying",
			zap.String("policy", policy.Name),
			zap.String("client", client),
			zap.String("mode", policy.FailureMode.String()),
			zap.Error(cause),
		)
		return d, fmt.Errorf("%w: %w", ErrStoreUnavailable, cause)
	}

	allowed, remainingTokens := l.fallback.allow(key, policy, now)
	d.Allowed = allowed
	d.Remaining = remainingTokens
	l.logger.Warn("rate limit store unavailable, using local fallback",
		zap.String("policy", policy.Name),
		zap.String("client", client),
		zap.String("mode", policy.FailureMode.String()),
		zap.Bool("allowed", allowed),
		zap.Error(cause),
	)
	if !allowed {
		return d, ErrRateLimited
	}
	return d, nil
}

func (l *Limiter) clientKey(clientID string) string {
	if clientID == "" {
		clientID = anonymousClient
	}
	if l.hasher != nil {
		return l.hasher.Hash(clientID)
	}
	return clientID
}

func remaining(max int, count int64) int {
	r := int64(max) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

// IsDenied reports whether err is a denial rather than a configuration problem.
func IsDenied(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrStoreUnavailable)
}
