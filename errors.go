package shopGuard

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/shopGuard/jwt"
)

var (
	// ErrConfig is wrapped by every construction-time failure.
	ErrConfig = jwt.ErrConfig
	// ErrTokenMissing means neither the access cookie nor a bearer header was present.
	ErrTokenMissing = errors.New("authentication required")
	// ErrTokenMalformed, ErrTokenExpired, ErrSignatureInvalid and ErrClaimsInvalid
	// are the token service's failure reasons.
	ErrTokenMalformed   = jwt.ErrTokenMalformed
	ErrTokenExpired     = jwt.ErrTokenExpired
	ErrSignatureInvalid = jwt.ErrSignatureInvalid
	ErrClaimsInvalid    = jwt.ErrClaimsInvalid
	// ErrUnknownSubject is returned by a RoleProvider for deleted or disabled accounts.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrCryptoDisabled is returned by Seal, Open and BlindIndex without a master key.
	ErrCryptoDisabled = errors.New("field encryption not configured")
	// ErrBuilderUsed is returned by Build on a builder that already produced a Gate.
	ErrBuilderUsed = errors.New("builder already used")
)

// Kind classifies an authentication failure.
type Kind int

const (
	KindMissing Kind = iota + 1
	KindMalformed
	KindExpired
	KindInvalidSignature
	KindInvalidClaims
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindMalformed:
		return "malformed"
	case KindExpired:
		return "expired"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindInvalidClaims:
		return "invalid_claims"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AuthError is returned by Verify, AuthenticateRequest and Refresh.
// Its Error text is for logs; clients only ever see PublicMessage.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.String()
	}
	return "auth: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// PublicMessage is the only text safe to send to a client.
func (e *AuthError) PublicMessage() string { return "Authentication required" }

// KindOf extracts the Kind from err, or 0 when err is not an AuthError.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

func authError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	kind := KindInvalidClaims
	switch {
	case errors.Is(err, ErrTokenMissing):
		kind = KindMissing
	case errors.Is(err, ErrTokenMalformed):
		kind = KindMalformed
	case errors.Is(err, ErrTokenExpired):
		kind = KindExpired
	case errors.Is(err, ErrSignatureInvalid):
		kind = KindInvalidSignature
	case errors.Is(err, ErrConfig):
		kind = KindConfig
	}
	return &AuthError{Kind: kind, Err: err}
}
