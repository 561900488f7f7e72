package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig    = errors.New("csrf: invalid config")
	ErrMissingSession   = errors.New("csrf: session key required")
	ErrStoreUnavailable = errors.New("csrf: token store unavailable")
)

const (
	DefaultTTL        = time.Hour
	DefaultTokenBytes = 32
	DefaultKeyPrefix  = "csrf"

	// HeaderName is the canonical channel for the token.
	HeaderName = "X-CSRF-Token"
	// CookieName carries the double-submit copy.
	CookieName = "csrf_token"
)

// consumeScript deletes the stored token only if it still equals the
// presented one, so two concurrent submissions cannot both succeed.
var consumeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Config controls token lifetime and consumption.
type Config struct {
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	SingleUse  bool          `mapstructure:"single_use"`
	TokenBytes int           `mapstructure:"token_bytes" validate:"omitempty,gte=16"`
}

func DefaultConfig() Config {
	return Config{
		TTL:        DefaultTTL,
		KeyPrefix:  DefaultKeyPrefix,
		SingleUse:  true,
		TokenBytes: DefaultTokenBytes,
	}
}

// KeyHasher hides session identifiers in Redis key names.
type KeyHasher interface {
	Hash(value string) string
}

// Store issues and validates per-session anti-forgery tokens.
type Store struct {
	rdb    redis.UniversalClient
	cfg    Config
	hasher KeyHasher
	logger *zap.Logger
}

type Option func(*Store)

func WithKeyHasher(h KeyHasher) Option { return func(s *Store) { s.hasher = h } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l.Named("csrf")
		}
	}
}

// NewStore checks cfg and fills zero TokenBytes and KeyPrefix with defaults.
func NewStore(rdb redis.UniversalClient, cfg Config, opts ...Option) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrInvalidConfig)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TokenBytes == 0 {
		cfg.TokenBytes = DefaultTokenBytes
	}
	if cfg.TokenBytes < 16 {
		return nil, fmt.Errorf("%w: token must be at least 16 bytes", ErrInvalidConfig)
	}

	s := &Store{rdb: rdb, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate creates a fresh token for sessionKey, replacing any previous one.
func (s *Store) Generate(ctx context.Context, sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", ErrMissingSession
	}
	buf := make([]byte, s.cfg.TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("csrf: random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.rdb.Set(ctx, s.key(sessionKey), token, s.cfg.TTL).Err(); err != nil {
		s.logger.Warn("csrf token store failed", zap.String("op", "generate"), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Validate compares presented against the stored token in constant time.
// Missing, expired and mismatched tokens return (false, nil); only store
// failures return an error. With SingleUse a matching token is consumed.
func (s *Store) Validate(ctx context.Context, presented, sessionKey string) (bool, error) {
	if presented == "" || sessionKey == "" {
		return false, nil
	}
	key := s.key(sessionKey)

	stored, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("csrf token store failed", zap.String("op", "validate"), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !TokensMatch(stored, presented) {
		return false, nil
	}
	if !s.cfg.SingleUse {
		return true, nil
	}

	deleted, err := consumeScript.Run(ctx, s.rdb, []string{key}, stored).Int64()
	if err != nil {
		s.logger.Warn("csrf token store failed", zap.String("op", "consume"), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return deleted == 1, nil
}

// Revoke drops the session's token, e.g. on logout.
func (s *Store) Revoke(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return ErrMissingSession
	}
	if err := s.rdb.Del(ctx, s.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// TTL is the configured token lifetime.
func (s *Store) TTL() time.Duration { return s.cfg.TTL }

func (s *Store) key(sessionKey string) string {
	if s.hasher != nil {
		return s.cfg.KeyPrefix + ":" + s.hasher.Hash(sessionKey)
	}
	sum := sha256.Sum256([]byte(sessionKey))
	return s.cfg.KeyPrefix + ":" + hex.EncodeToString(sum[:])
}

// TokensMatch is a constant-time comparison that never matches empty tokens.
func TokensMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
