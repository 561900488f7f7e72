// Command shopguard-server runs a small storefront API behind the shopGuard
// gate. With -memory it needs no external services.
//
//	SHOPGUARD_JWT_SECRET=$(openssl rand -hex 32) SHOPGUARD_COOKIE_SECURE=false \
//	SHOPGUARD_JWT_ACCESS_TTL=15m SHOPGUARD_JWT_REFRESH_TTL=168h \
//	  go run ./cmd/shopguard-server -memory
//
//	curl -i -c jar.txt -X POST localhost:8080/auth/login \
//	  -H 'Content-Type: application/json' -H 'User-Agent: Mozilla/5.0 Firefox/128.0' \
//	  -d '{"email":"alice@example.com","password":"correct-horse"}'
//
//	curl -i -b jar.txt localhost:8080/api/me
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/config"
	"github.com/MrEthical07/shopGuard/logging"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	configPath   = flag.String("config", "", "config file; defaults to ./shopguard.yaml or /etc/shopguard/shopguard.yaml")
	memory       = flag.Bool("memory", false, "use an in-process Redis instead of the configured one")
	localCountry = flag.String("local-country", "ZZ", "country reported for private and loopback addresses when no GeoIP database is configured")
	seed         = flag.Bool("seed", true, "create demo accounts")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	var opts []config.Option
	if *memory {
		opts = append(opts, config.WithoutRedis())
	}
	file, err := config.Load(*configPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(file.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	client, cleanup, err := openRedis(file.Redis, logger)
	if err != nil {
		logger.Error("failed to open redis", zap.Error(err))
		return 1
	}
	defer cleanup()

	users := newDirectory()
	builder := shopGuard.New().
		WithConfig(file.Gate).
		WithRedis(client).
		WithLogger(logger).
		WithAuditSink(shopGuard.NewZapAuditSink(logger.Named("audit"))).
		WithRoleProvider(users)
	if file.Gate.Risk.GeoIPDatabase == "" {
		geo, err := localGeo(*localCountry)
		if err != nil {
			logger.Error("invalid local country", zap.Error(err))
			return 1
		}
		builder = builder.WithGeoResolver(geo)
	}
	gate, err := builder.Build()
	if err != nil {
		logger.Error("failed to build gate", zap.Error(err))
		return 1
	}
	defer func() {
		if err := gate.Close(); err != nil {
			logger.Error("failed to close gate", zap.Error(err))
		}
	}()
	users.gate = gate

	report := gate.SecurityReport()
	logger.Info("gate ready",
		zap.String("signing", report.SigningAlgorithm),
		zap.Bool("production", report.ProductionMode),
		zap.Bool("field_encryption", report.FieldEncryption),
		zap.Bool("auth_fail_open", report.AuthFailOpen),
	)
	for _, w := range report.Warnings {
		logger.Warn("insecure setting", zap.String("detail", w))
	}

	if *seed {
		if err := seedAccounts(users, logger); err != nil {
			logger.Error("failed to seed accounts", zap.Error(err))
			return 1
		}
	}

	server := &http.Server{
		Addr:         file.Server.Addr,
		Handler:      newRouter(gate, users, logger),
		ReadTimeout:  file.Server.ReadTimeout,
		WriteTimeout: file.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	case <-quit:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), file.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return 1
	}
	return 0
}

func openRedis(cfg config.RedisConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if *memory {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using in-process redis; rate limits and CSRF tokens are not shared", zap.String("addr", mr.Addr()))
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := cfg.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// The gate still starts: fail-open policies degrade, fail-closed ones refuse.
		logger.Warn("redis not reachable at start-up", zap.Strings("addrs", cfg.Addrs), zap.Error(err))
	}
	return client, func() { _ = client.Close() }, nil
}

func localGeo(country string) (*risk.StaticGeoResolver, error) {
	table := make(map[string]string)
	for _, cidr := range []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128", "fc00::/7"} {
		table[cidr] = country
	}
	return risk.NewStaticGeoResolver(table)
}

func seedAccounts(users *directory, logger *zap.Logger) error {
	demo := []struct{ email, password, role, address string }{
		{"alice@example.com", "correct-horse", "customer", "1 Market Street, Springfield"},
		{"root@example.com", "battery-staple", "admin", "Head Office, Springfield"},
	}
	for _, d := range demo {
		id, err := users.add(d.email, d.password, d.role, d.address)
		if err != nil {
			return err
		}
		logger.Info("seeded account", zap.String("email", d.email), zap.String("role", d.role), zap.String("id", id))
	}
	return nil
}
