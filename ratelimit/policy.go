package ratelimit

import (
	"fmt"
	"time"
)

// FailureMode decides what a policy does when the counter store is unreachable.
type FailureMode int

const (
	// FailClosed denies the request and returns ErrStoreUnavailable.
	FailClosed FailureMode = iota
	// FailOpen admits the request through a bounded in-process bucket and logs.
	FailOpen
)

func (m FailureMode) String() string {
	switch m {
	case FailOpen:
		return "fail-open"
	default:
		return "fail-closed"
	}
}

// Policy is a named fixed-window budget.
type Policy struct {
	Name   string
	Window time.Duration
	Max    int

	// SkipSuccessful exempts successful requests: every hit is counted up front
	// and refunded once the handler reports success.
	SkipSuccessful bool

	FailureMode FailureMode
}

// APIPolicy is the general storefront policy: 100 requests per 15 minutes,
// failing open so a cache outage does not take the catalog down.
func APIPolicy() Policy {
	return Policy{
		Name:        "api",
		Window:      15 * time.Minute,
		Max:         100,
		FailureMode: FailOpen,
	}
}

// AuthPolicy guards login, registration and password reset: 5 failed attempts
// per 15 minutes, failing closed so brute-force protection never lapses.
func AuthPolicy() Policy {
	return Policy{
		Name:           "auth",
		Window:         15 * time.Minute,
		Max:            5,
		SkipSuccessful: true,
		FailureMode:    FailClosed,
	}
}

// Validate reports configuration mistakes as ErrInvalidPolicy.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPolicy)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: %s window must be > 0", ErrInvalidPolicy, p.Name)
	}
	if p.Max <= 0 {
		return fmt.Errorf("%w: %s max must be > 0", ErrInvalidPolicy, p.Name)
	}
	if p.FailureMode != FailClosed && p.FailureMode != FailOpen {
		return fmt.Errorf("%w: %s failure mode unknown", ErrInvalidPolicy, p.Name)
	}
	return nil
}
