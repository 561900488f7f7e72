// Package config loads a shopGuard deployment from a file and the
// environment.
//
// Priority, highest first:
//  1. Environment variables with the SHOPGUARD_ prefix (SHOPGUARD_JWT_SECRET)
//  2. The config file (YAML, TOML or JSON)
//  3. shopGuard.DefaultConfig and the defaults below
//
// The signing secret, both token lifetimes and the Redis address have no
// default; Load fails with shopGuard.ErrConfig when any of them is absent.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const envPrefix = "SHOPGUARD"

// File is everything a shopGuard process reads at start-up.
type File struct {
	Gate   shopGuard.Config
	Redis  RedisConfig
	Log    logging.Config
	Server ServerConfig
}

// RedisConfig points at the shared cache. Addrs with more than one entry
// selects a cluster client.
type RedisConfig struct {
	Addrs        []string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewClient opens a client for r. The caller owns and closes it.
func (r RedisConfig) NewClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        r.Addrs,
		Username:     r.Username,
		Password:     r.Password,
		DB:           r.DB,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		PoolSize:     r.PoolSize,
	})
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Option adjusts Load.
type Option func(*loadOptions)

type loadOptions struct {
	redisOptional bool
}

// WithoutRedis lets Load succeed without redis.addrs, for processes that
// bring their own in-process store.
func WithoutRedis() Option {
	return func(o *loadOptions) { o.redisOptional = true }
}

// Load reads path (optional) and the environment. With an empty path it
// looks for shopguard.{yaml,toml,json} in the working directory and
// /etc/shopguard; a missing file is not an error. The gate config is
// validated before returning.
func Load(path string, opts ...Option) (*File, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("shopguard")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shopguard")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	f, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := f.Gate.Validate(); err != nil {
		return nil, err
	}
	if len(f.Redis.Addrs) == 0 && !o.redisOptional {
		return nil, fmt.Errorf("%w: redis.addrs is required", shopGuard.ErrConfig)
	}
	return f, nil
}

func setDefaults(v *viper.Viper) {
	d := shopGuard.DefaultConfig()

	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.leeway", d.JWT.Leeway)
	v.SetDefault("jwt.admin_roles", d.JWT.AdminRoles)

	v.SetDefault("cookie.access_token_name", d.Cookie.AccessTokenName)
	v.SetDefault("cookie.refresh_token_name", d.Cookie.RefreshTokenName)
	v.SetDefault("cookie.csrf_name", d.Cookie.CSRFName)
	v.SetDefault("cookie.domain", d.Cookie.Domain)
	v.SetDefault("cookie.path", d.Cookie.Path)
	v.SetDefault("cookie.secure", d.Cookie.Secure)
	v.SetDefault("cookie.same_site", d.Cookie.SameSite)

	v.SetDefault("rate_limit.key_prefix", d.RateLimit.KeyPrefix)
	v.SetDefault("rate_limit.fallback_idle_ttl", d.RateLimit.FallbackIdleTTL)
	for name, p := range map[string]shopGuard.PolicyConfig{"api": d.RateLimit.API, "auth": d.RateLimit.Auth} {
		v.SetDefault("rate_limit."+name+".window", p.Window)
		v.SetDefault("rate_limit."+name+".max", p.Max)
		v.SetDefault("rate_limit."+name+".skip_successful", p.SkipSuccessful)
		v.SetDefault("rate_limit."+name+".fail_open", p.FailOpen)
	}

	v.SetDefault("risk.high_risk_countries", []string{})
	v.SetDefault("risk.relay_addresses", []string{})
	v.SetDefault("risk.relay_list_path", "")
	v.SetDefault("risk.allowed_browsers", d.Risk.AllowedBrowsers)
	v.SetDefault("risk.min_fingerprint_length", d.Risk.MinFingerprintLength)
	v.SetDefault("risk.thresholds.review_above", d.Risk.Thresholds.ReviewAbove)
	v.SetDefault("risk.thresholds.challenge_above", d.Risk.Thresholds.ChallengeAbove)
	v.SetDefault("risk.thresholds.block_above", d.Risk.Thresholds.BlockAbove)
	v.SetDefault("risk.geoip_database", "")
	v.SetDefault("risk.fingerprint_header", d.Risk.FingerprintHeader)

	v.SetDefault("csrf.ttl", d.CSRF.TTL)
	v.SetDefault("csrf.key_prefix", d.CSRF.KeyPrefix)
	v.SetDefault("csrf.single_use", d.CSRF.SingleUse)
	v.SetDefault("csrf.token_bytes", d.CSRF.TokenBytes)

	v.SetDefault("crypto.master_key", "")

	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)
	v.SetDefault("password.max_password_bytes", d.Password.MaxPasswordBytes)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("security.production_mode", d.Security.ProductionMode)
	v.SetDefault("security.trust_proxy", d.Security.TrustProxy)

	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("redis.write_timeout", 500*time.Millisecond)
	v.SetDefault("redis.pool_size", 0)

	l := logging.DefaultConfig()
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.output", l.Output)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

func fromViper(v *viper.Viper) (*File, error) {
	masterKey, err := decodeKey(v.GetString("crypto.master_key"))
	if err != nil {
		return nil, fmt.Errorf("%w: crypto.master_key: %v", shopGuard.ErrConfig, err)
	}

	gate := shopGuard.DefaultConfig()
	gate.JWT = shopGuard.JWTConfig{
		AccessTTL:     v.GetDuration("jwt.access_ttl"),
		RefreshTTL:    v.GetDuration("jwt.refresh_ttl"),
		SigningMethod: strings.ToLower(v.GetString("jwt.signing_method")),
		Secret:        bytesOrNil(v.GetString("jwt.secret")),
		PrivateKey:    bytesOrNil(v.GetString("jwt.private_key")),
		PublicKey:     bytesOrNil(v.GetString("jwt.public_key")),
		Issuer:        v.GetString("jwt.issuer"),
		Audience:      v.GetString("jwt.audience"),
		Leeway:        v.GetDuration("jwt.leeway"),
		AdminRoles:    list(v, "jwt.admin_roles"),
	}
	gate.Cookie = shopGuard.CookieConfig{
		AccessTokenName:  v.GetString("cookie.access_token_name"),
		RefreshTokenName: v.GetString("cookie.refresh_token_name"),
		CSRFName:         v.GetString("cookie.csrf_name"),
		Domain:           v.GetString("cookie.domain"),
		Path:             v.GetString("cookie.path"),
		Secure:           v.GetBool("cookie.secure"),
		SameSite:         strings.ToLower(v.GetString("cookie.same_site")),
	}
	gate.RateLimit = shopGuard.RateLimitConfig{
		KeyPrefix:       v.GetString("rate_limit.key_prefix"),
		FallbackIdleTTL: v.GetDuration("rate_limit.fallback_idle_ttl"),
		API:             policyFrom(v, "api"),
		Auth:            policyFrom(v, "auth"),
	}
	gate.Risk.HighRiskCountries = upper(list(v, "risk.high_risk_countries"))
	gate.Risk.RelayAddresses = list(v, "risk.relay_addresses")
	gate.Risk.RelayListPath = v.GetString("risk.relay_list_path")
	gate.Risk.AllowedBrowsers = list(v, "risk.allowed_browsers")
	gate.Risk.MinFingerprintLength = v.GetInt("risk.min_fingerprint_length")
	gate.Risk.Thresholds.ReviewAbove = v.GetInt("risk.thresholds.review_above")
	gate.Risk.Thresholds.ChallengeAbove = v.GetInt("risk.thresholds.challenge_above")
	gate.Risk.Thresholds.BlockAbove = v.GetInt("risk.thresholds.block_above")
	gate.Risk.GeoIPDatabase = v.GetString("risk.geoip_database")
	gate.Risk.FingerprintHeader = v.GetString("risk.fingerprint_header")

	gate.CSRF.TTL = v.GetDuration("csrf.ttl")
	gate.CSRF.KeyPrefix = v.GetString("csrf.key_prefix")
	gate.CSRF.SingleUse = v.GetBool("csrf.single_use")
	gate.CSRF.TokenBytes = v.GetInt("csrf.token_bytes")

	gate.Crypto.MasterKey = masterKey

	gate.Password = shopGuard.PasswordConfig{
		Memory:           v.GetUint32("password.memory"),
		Time:             v.GetUint32("password.time"),
		Parallelism:      uint8(v.GetUint("password.parallelism")),
		SaltLength:       v.GetUint32("password.salt_length"),
		KeyLength:        v.GetUint32("password.key_length"),
		MaxPasswordBytes: v.GetInt("password.max_password_bytes"),
	}
	gate.Audit = shopGuard.AuditConfig{
		Enabled:    v.GetBool("audit.enabled"),
		BufferSize: v.GetInt("audit.buffer_size"),
		DropIfFull: v.GetBool("audit.drop_if_full"),
	}
	gate.Metrics = shopGuard.MetricsConfig{
		Enabled:                 v.GetBool("metrics.enabled"),
		EnableLatencyHistograms: v.GetBool("metrics.enable_latency_histograms"),
	}
	gate.Security = shopGuard.SecurityConfig{
		ProductionMode: v.GetBool("security.production_mode"),
		TrustProxy:     v.GetBool("security.trust_proxy"),
	}

	return &File{
		Gate: gate,
		Redis: RedisConfig{
			Addrs:        list(v, "redis.addrs"),
			Username:     v.GetString("redis.username"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			PoolSize:     v.GetInt("redis.pool_size"),
		},
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
	}, nil
}

func policyFrom(v *viper.Viper, name string) shopGuard.PolicyConfig {
	prefix := "rate_limit." + name + "."
	return shopGuard.PolicyConfig{
		Window:         v.GetDuration(prefix + "window"),
		Max:            v.GetInt(prefix + "max"),
		SkipSuccessful: v.GetBool(prefix + "skip_successful"),
		FailOpen:       v.GetBool(prefix + "fail_open"),
	}
}

// decodeKey accepts standard base64; binary keys do not survive env vars.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

// list reads a string slice that may also arrive comma-separated from the
// environment.
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
