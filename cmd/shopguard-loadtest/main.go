// Command shopguard-loadtest drives a gate from many goroutines and checks
// that the fixed-window limiter never admits more than its limit.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/logging"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		clients     = flag.Int("clients", 50, "distinct rate-limit clients")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		limit       = flag.Int("limit", 100, "requests admitted per client per window")
		window      = flag.Duration("window", time.Minute, "rate-limit window")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 || *window <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, ops, limit and window must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	logger, err := logging.New(logging.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	cfg := shopGuard.DefaultConfig()
	cfg.JWT.Secret = secret
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.RateLimit.KeyPrefix = "loadtest-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	gate, err := shopGuard.New().WithConfig(cfg).WithRedis(client).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build gate: %v\n", err)
		os.Exit(1)
	}
	defer gate.Close()

	policy := ratelimit.Policy{
		Name:        "loadtest",
		Window:      *window,
		Max:         *limit,
		FailureMode: ratelimit.FailClosed,
	}

	ctx := context.Background()
	limiterStats, admitted := runLimiterPhase(ctx, gate, policy, *clients, *ops, *concurrency)
	verifyStats := runVerifyPhase(gate, *ops, *concurrency)
	csrfStats := runCSRFPhase(ctx, gate, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("ratelimit", limiterStats)
	printStats("verify", verifyStats)
	printStats("csrf", csrfStats)

	overAdmitted := false
	for id, n := range admitted {
		if n > int64(*limit) {
			fmt.Fprintf(os.Stderr, "client %s admitted %d requests, limit %d\n", id, n, *limit)
			overAdmitted = true
		}
	}
	if overAdmitted {
		os.Exit(1)
	}
	fmt.Printf("limiter held: no client exceeded %d admissions\n", *limit)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

// runPhase spreads ops calls of op over concurrency workers and records
// per-call latency. op returns false on failure.
func runPhase(ops, concurrency int, op func(r *mrand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runLimiterPhase counts admissions per client. Denials are expected and
// are not failures; store errors are.
func runLimiterPhase(ctx context.Context, gate *shopGuard.Gate, policy ratelimit.Policy, clients, ops, concurrency int) (phaseStats, map[string]int64) {
	counts := make([]int64, clients)
	stats := runPhase(ops, concurrency, func(r *mrand.Rand, _ int) bool {
		idx := r.IntN(clients)
		_, err := gate.CheckRateLimit(ctx, policy, "client-"+strconv.Itoa(idx))
		switch {
		case err == nil:
			atomic.AddInt64(&counts[idx], 1)
			return true
		case errors.Is(err, ratelimit.ErrRateLimited):
			return true
		default:
			return false
		}
	})

	admitted := make(map[string]int64, clients)
	for i, n := range counts {
		admitted["client-"+strconv.Itoa(i)] = n
	}
	return stats, admitted
}

func runVerifyPhase(gate *shopGuard.Gate, ops, concurrency int) phaseStats {
	tokens := make([]string, 64)
	for i := range tokens {
		t, err := gate.IssueAccessToken("user-"+strconv.Itoa(i), "customer")
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = t
	}
	return runPhase(ops, concurrency, func(r *mrand.Rand, _ int) bool {
		_, err := gate.Verify(tokens[r.IntN(len(tokens))])
		return err == nil
	})
}

// runCSRFPhase issues and redeems a token per operation.
func runCSRFPhase(ctx context.Context, gate *shopGuard.Gate, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(_ *mrand.Rand, i int) bool {
		session := "session-" + strconv.Itoa(i)
		token, err := gate.IssueCSRF(ctx, session)
		if err != nil {
			return false
		}
		ok, err := gate.ValidateCSRF(ctx, token, session)
		return ok && err == nil
	})
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
