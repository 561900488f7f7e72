package shopGuard

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/shopGuard/crypto"
	"github.com/MrEthical07/shopGuard/csrf"
	"github.com/MrEthical07/shopGuard/jwt"
	"github.com/MrEthical07/shopGuard/password"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/MrEthical07/shopGuard/risk/geoip"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoleProvider returns a subject's current role when a refresh token is
// exchanged, so demotions take effect at the next refresh.
type RoleProvider interface {
	RoleFor(ctx context.Context, subject string) (string, error)
}

// RoleProviderFunc adapts a function to RoleProvider.
type RoleProviderFunc func(ctx context.Context, subject string) (string, error)

func (f RoleProviderFunc) RoleFor(ctx context.Context, subject string) (string, error) {
	return f(ctx, subject)
}

// Builder collects dependencies for a Gate. Each Builder builds once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *zap.Logger
	geo       risk.GeoResolver
	agents    risk.AgentClassifier
	auditSink AuditSink
	roles     RoleProvider
	now       func() time.Time

	built bool
}

// New starts from DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared cache used for rate-limit counters and CSRF tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithGeoResolver overrides Risk.GeoIPDatabase.
func (b *Builder) WithGeoResolver(geo risk.GeoResolver) *Builder {
	b.geo = geo
	return b
}

func (b *Builder) WithAgentClassifier(c risk.AgentClassifier) *Builder {
	b.agents = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithRoleProvider(p RoleProvider) *Builder {
	b.roles = p
	return b
}

// WithClock replaces time.Now for token issuance, verification and rate-limit
// reset times.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
// All failures wrap ErrConfig.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, fmt.Errorf("%w: %w", ErrConfig, ErrBuilderUsed)
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrConfig)
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("shopguard")
	now := b.now
	if now == nil {
		now = time.Now
	}

	g := &Gate{
		config:     cloneConfig(cfg),
		logger:     logger,
		roles:      b.roles,
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
		adminRoles: make(map[string]struct{}, len(cfg.JWT.AdminRoles)),
		apiPolicy:  cfg.RateLimit.API.Policy("api"),
		authPolicy: cfg.RateLimit.Auth.Policy("auth"),
	}
	for _, r := range cfg.JWT.AdminRoles {
		g.adminRoles[strings.TrimSpace(r)] = struct{}{}
	}

	// -------- TOKENS --------
	signKey := cfg.JWT.Secret
	if cfg.JWT.SigningMethod == string(jwt.MethodEd25519) {
		signKey = cfg.JWT.PrivateKey
	}
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(signKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	g.tokens = jm

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: password: %v", ErrConfig, err)
	}
	g.passwords = password.NewHasher(argon)

	// -------- FIELD CRYPTO --------
	var clientKeys *crypto.KeyedHasher
	if len(cfg.Crypto.MasterKey) > 0 {
		if g.cipher, g.index, clientKeys, err = deriveCrypto(cfg.Crypto.MasterKey); err != nil {
			return nil, fmt.Errorf("%w: crypto: %v", ErrConfig, err)
		}
	}

	// -------- RATE LIMITS & CSRF --------
	limiterOpts := []ratelimit.Option{ratelimit.WithClock(now)}
	csrfOpts := []csrf.Option{csrf.WithLogger(logger)}
	if clientKeys != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithKeyHasher(clientKeys))
		csrfOpts = append(csrfOpts, csrf.WithKeyHasher(clientKeys))
	}
	g.limiter = ratelimit.New(b.redis, ratelimit.Config{
		KeyPrefix:       cfg.RateLimit.KeyPrefix,
		FallbackIdleTTL: cfg.RateLimit.FallbackIdleTTL,
	}, logger, limiterOpts...)

	g.csrf, err = csrf.NewStore(b.redis, cfg.CSRF, csrfOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// -------- RISK --------
	geo := b.geo
	if geo == nil && cfg.Risk.GeoIPDatabase != "" {
		resolver, err := geoip.Open(cfg.Risk.GeoIPDatabase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		geo = resolver
		g.closers = append(g.closers, resolver)
	}
	relays, err := loadRelays(cfg.Risk)
	if err != nil {
		g.closeResources()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	g.scorer, err = risk.NewScorerWithRelays(cfg.Risk.scorerConfig(), relays, geo, b.agents)
	if err != nil {
		g.closeResources()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	g.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	b.built = true

	return g, nil
}

func deriveCrypto(master []byte) (*crypto.Cipher, *crypto.KeyedHasher, *crypto.KeyedHasher, error) {
	cipherKey, err := crypto.DeriveKey(master, "field-cipher", crypto.KeySize)
	if err != nil {
		return nil, nil, nil, err
	}
	cipher, err := crypto.NewCipher(cipherKey)
	if err != nil {
		return nil, nil, nil, err
	}
	indexKey, err := crypto.DeriveKey(master, "blind-index", crypto.MinHashKeySize)
	if err != nil {
		return nil, nil, nil, err
	}
	index, err := crypto.NewKeyedHasher(indexKey)
	if err != nil {
		return nil, nil, nil, err
	}
	clientKey, err := crypto.DeriveKey(master, "client-keys", crypto.MinHashKeySize)
	if err != nil {
		return nil, nil, nil, err
	}
	clients, err := crypto.NewKeyedHasher(clientKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return cipher, index, clients, nil
}

func loadRelays(cfg RiskConfig) (*risk.RelayList, error) {
	if cfg.RelayListPath == "" {
		return risk.NewRelayList(cfg.RelayAddresses)
	}
	f, err := os.Open(cfg.RelayListPath)
	if err != nil {
		return nil, fmt.Errorf("relay list: %w", err)
	}
	defer f.Close()

	relays, err := risk.LoadRelayList(f)
	if err != nil {
		return nil, err
	}
	if err := relays.Add(cfg.RelayAddresses...); err != nil {
		return nil, err
	}
	return relays, nil
}
