package risk

import "errors"

var (
	// ErrInvalidConfig is returned by NewScorer for malformed tables or thresholds.
	ErrInvalidConfig = errors.New("risk: invalid config")
	// ErrInvalidRelay is returned for relay entries that are neither addresses nor CIDRs.
	ErrInvalidRelay = errors.New("risk: invalid relay entry")
)
