package main

import (
	"context"
	"testing"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[int]time.Duration{0: 1, 50: 5, 99: 9, 100: 10}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("p%d: expected %d, got %d", p, want, got)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("expected 0 for no samples, got %d", got)
	}
}

func TestLimiterPhaseNeverOverAdmits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := shopGuard.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	gate, err := shopGuard.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = gate.Close() })

	policy := ratelimit.Policy{Name: "lt", Window: time.Minute, Max: 7, FailureMode: ratelimit.FailClosed}
	stats, admitted := runLimiterPhase(context.Background(), gate, policy, 3, 300, 32)

	if stats.failures != 0 {
		t.Fatalf("expected no store failures, got %d", stats.failures)
	}
	for id, n := range admitted {
		if n != 7 {
			t.Fatalf("client %s: expected exactly 7 admissions, got %d", id, n)
		}
	}
}
