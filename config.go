package shopGuard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/shopGuard/csrf"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/go-playground/validator/v10"
)

// Config is assembled once, validated by Build and never mutated afterwards.
type Config struct {
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Risk      RiskConfig      `mapstructure:"risk"`
	CSRF      csrf.Config     `mapstructure:"csrf"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Password  PasswordConfig  `mapstructure:"password"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects the signing key and token lifetimes.
//
// hs256 (default) signs with Secret. ed25519 signs with PrivateKey and
// verifies with PublicKey; a verify-only gate may omit PrivateKey.
type JWTConfig struct {
	AccessTTL     time.Duration `mapstructure:"access_ttl" validate:"gt=0"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl" validate:"gt=0"`
	SigningMethod string        `mapstructure:"signing_method" validate:"oneof=hs256 ed25519"`
	Secret        []byte        `mapstructure:"secret"`
	PrivateKey    []byte        `mapstructure:"private_key"`
	PublicKey     []byte        `mapstructure:"public_key"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	Leeway        time.Duration `mapstructure:"leeway" validate:"gte=0,lte=2m"`

	// AdminRoles receive LevelElevated in issued access tokens.
	AdminRoles []string `mapstructure:"admin_roles"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

type CookieConfig struct {
	AccessTokenName  string `mapstructure:"access_token_name" validate:"required"`
	RefreshTokenName string `mapstructure:"refresh_token_name" validate:"required"`
	CSRFName         string `mapstructure:"csrf_name" validate:"required"`
	Domain           string `mapstructure:"domain"`
	Path             string `mapstructure:"path"`
	Secure           bool   `mapstructure:"secure"`
	SameSite         string `mapstructure:"same_site" validate:"oneof=strict lax none"`
}

// SameSiteMode converts SameSite to its net/http value.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

type RateLimitConfig struct {
	KeyPrefix       string        `mapstructure:"key_prefix" validate:"required"`
	FallbackIdleTTL time.Duration `mapstructure:"fallback_idle_ttl" validate:"gte=0"`
	API             PolicyConfig  `mapstructure:"api"`
	Auth            PolicyConfig  `mapstructure:"auth"`
}

// PolicyConfig is the configurable part of a ratelimit.Policy.
type PolicyConfig struct {
	Window         time.Duration `mapstructure:"window" validate:"gt=0"`
	Max            int           `mapstructure:"max" validate:"gt=0"`
	SkipSuccessful bool          `mapstructure:"skip_successful"`
	FailOpen       bool          `mapstructure:"fail_open"`
}

// Policy names p for use with the limiter.
func (p PolicyConfig) Policy(name string) ratelimit.Policy {
	mode := ratelimit.FailClosed
	if p.FailOpen {
		mode = ratelimit.FailOpen
	}
	return ratelimit.Policy{
		Name:           name,
		Window:         p.Window,
		Max:            p.Max,
		SkipSuccessful: p.SkipSuccessful,
		FailureMode:    mode,
	}
}

/*
====================================
RISK CONFIG
====================================
*/

type RiskConfig struct {
	HighRiskCountries    []string        `mapstructure:"high_risk_countries" validate:"dive,len=2,alpha"`
	RelayAddresses       []string        `mapstructure:"relay_addresses"`
	RelayListPath        string          `mapstructure:"relay_list_path"`
	AllowedBrowsers      []string        `mapstructure:"allowed_browsers"`
	MinFingerprintLength int             `mapstructure:"min_fingerprint_length" validate:"gte=0"`
	Thresholds           risk.Thresholds `mapstructure:"thresholds"`
	GeoIPDatabase        string          `mapstructure:"geoip_database"`
	FingerprintHeader    string          `mapstructure:"fingerprint_header"`
}

func (r RiskConfig) scorerConfig() risk.Config {
	return risk.Config{
		HighRiskCountries:    r.HighRiskCountries,
		RelayAddresses:       r.RelayAddresses,
		AllowedBrowsers:      r.AllowedBrowsers,
		MinFingerprintLength: r.MinFingerprintLength,
		Thresholds:           r.Thresholds,
	}
}

/*
====================================
CRYPTO / PASSWORD CONFIG
====================================
*/

// CryptoConfig enables field encryption and blind indexes. MasterKey is
// expanded with HKDF into independent cipher and hashing keys.
type CryptoConfig struct {
	MasterKey []byte `mapstructure:"master_key"`
}

type PasswordConfig struct {
	Memory           uint32 `mapstructure:"memory"` // in KB
	Time             uint32 `mapstructure:"time"`
	Parallelism      uint8  `mapstructure:"parallelism"`
	SaltLength       uint32 `mapstructure:"salt_length"`
	KeyLength        uint32 `mapstructure:"key_length"`
	MaxPasswordBytes int    `mapstructure:"max_password_bytes"`
}

/*
====================================
AUDIT / METRICS / SECURITY
====================================
*/

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gte=0"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

type SecurityConfig struct {
	// ProductionMode tightens Validate: long secrets and Secure cookies.
	ProductionMode bool `mapstructure:"production_mode"`
	// TrustProxy makes client IP extraction honour X-Forwarded-For / X-Real-IP.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig has every knob set except signing material and token
// lifetimes, which a deployment must choose explicitly.
func DefaultConfig() Config {
	api := ratelimit.APIPolicy()
	auth := ratelimit.AuthPolicy()
	riskDefaults := risk.DefaultConfig()

	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			AdminRoles:    []string{"admin"},
		},
		Cookie: CookieConfig{
			AccessTokenName:  "access_token",
			RefreshTokenName: "refresh_token",
			CSRFName:         csrf.CookieName,
			Path:             "/",
			Secure:           true,
			SameSite:         "strict",
		},
		RateLimit: RateLimitConfig{
			KeyPrefix:       "rl",
			FallbackIdleTTL: 3 * time.Minute,
			API: PolicyConfig{
				Window:         api.Window,
				Max:            api.Max,
				SkipSuccessful: api.SkipSuccessful,
				FailOpen:       api.FailureMode == ratelimit.FailOpen,
			},
			Auth: PolicyConfig{
				Window:         auth.Window,
				Max:            auth.Max,
				SkipSuccessful: auth.SkipSuccessful,
				FailOpen:       auth.FailureMode == ratelimit.FailOpen,
			},
		},
		Risk: RiskConfig{
			AllowedBrowsers:      riskDefaults.AllowedBrowsers,
			MinFingerprintLength: riskDefaults.MinFingerprintLength,
			Thresholds:           riskDefaults.Thresholds,
			FingerprintHeader:    risk.DefaultFingerprintHeader,
		},
		CSRF: csrf.DefaultConfig(),
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.AdminRoles = cloneStrings(cfg.JWT.AdminRoles)
	out.Crypto.MasterKey = cloneBytes(cfg.Crypto.MasterKey)
	out.Risk.HighRiskCountries = cloneStrings(cfg.Risk.HighRiskCountries)
	out.Risk.RelayAddresses = cloneStrings(cfg.Risk.RelayAddresses)
	out.Risk.AllowedBrowsers = cloneStrings(cfg.Risk.AllowedBrowsers)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

/*
====================================
VALIDATION
====================================
*/

var structValidator = validator.New(validator.WithRequiredStructEnabled())

const minProductionSecret = 32

// Validate checks struct tags, then the rules that span fields.
// Every error wraps ErrConfig.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, describeValidation(err))
	}

	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.Secret) == 0 {
			return fmt.Errorf("%w: hs256 requires JWT.Secret", ErrConfig)
		}
		if c.Security.ProductionMode && len(c.JWT.Secret) < minProductionSecret {
			return fmt.Errorf("%w: JWT.Secret must be at least %d bytes in production", ErrConfig, minProductionSecret)
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return fmt.Errorf("%w: ed25519 requires JWT.PublicKey", ErrConfig)
		}
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("%w: JWT.RefreshTTL must exceed AccessTTL", ErrConfig)
	}

	if c.Security.ProductionMode && !c.Cookie.Secure {
		return fmt.Errorf("%w: Cookie.Secure is required in production", ErrConfig)
	}
	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return fmt.Errorf("%w: SameSite=None cookies must be Secure", ErrConfig)
	}

	if n := len(c.Crypto.MasterKey); n > 0 && n < 32 {
		return fmt.Errorf("%w: Crypto.MasterKey must be at least 32 bytes", ErrConfig)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: Audit.BufferSize must be > 0 when enabled", ErrConfig)
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: latency histograms require Metrics.Enabled", ErrConfig)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
