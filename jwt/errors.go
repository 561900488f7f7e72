package jwt

import "errors"

// Verification failures are reported as one of these sentinels, wrapped with the
// library's detail. Use errors.Is to branch; ErrTokenExpired in particular tells
// the caller to attempt a refresh rather than a fresh login.
var (
	// ErrConfig is returned by NewManager and by issuance when keys or TTLs are missing.
	ErrConfig = errors.New("jwt: configuration invalid")
	// ErrTokenMalformed means the token is not a decodable three-part JWT.
	ErrTokenMalformed = errors.New("jwt: token malformed")
	// ErrTokenExpired means the signature is valid but exp has passed.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrSignatureInvalid covers bad signatures, wrong algorithms and unknown key ids.
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
	// ErrClaimsInvalid covers missing subject or role, wrong token type, and
	// issuer, audience or time-window violations other than expiry.
	ErrClaimsInvalid = errors.New("jwt: claims invalid")
)
