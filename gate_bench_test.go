package shopGuard

import (
	"context"
	"net/netip"
	"strconv"
	"testing"

	"github.com/MrEthical07/shopGuard/risk"
)

func BenchmarkVerify(b *testing.B) {
	_, rdb := newTestRedis(b)
	g, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer g.Close()

	token, err := g.IssueAccessToken("user-1", "customer")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Verify(token); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCheckRateLimit(b *testing.B) {
	_, rdb := newTestRedis(b)
	g, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer g.Close()

	policy := g.APIPolicy()
	policy.Max = 1 << 30
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.CheckRateLimit(ctx, policy, "client-"+strconv.Itoa(i&63)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAssessRisk(b *testing.B) {
	_, rdb := newTestRedis(b)
	cfg := testConfig()
	cfg.Risk.RelayAddresses = []string{"185.220.101.1"}
	geo, err := risk.NewStaticGeoResolver(map[string]string{"81.2.69.0/24": "GB"})
	if err != nil {
		b.Fatal(err)
	}
	g, err := New().WithConfig(cfg).WithRedis(rdb).WithGeoResolver(geo).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer g.Close()

	req := risk.Request{
		IP:             netip.MustParseAddr("81.2.69.160"),
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
		AcceptLanguage: "en-GB,en;q=0.9",
		Fingerprint:    "c2f1d6a7b9e04f3a8d21",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.AssessRisk(req)
	}
}
