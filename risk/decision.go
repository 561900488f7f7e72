package risk

import "fmt"

// Decision is the action a handler should take for a score.
type Decision int

const (
	Allow Decision = iota
	Review
	Challenge
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Review:
		return "review"
	case Challenge:
		return "challenge"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Thresholds are exclusive lower bounds: a score strictly above BlockAbove blocks.
type Thresholds struct {
	ReviewAbove    int `mapstructure:"review_above"`
	ChallengeAbove int `mapstructure:"challenge_above"`
	BlockAbove     int `mapstructure:"block_above"`
}

// DefaultThresholds: >70 block, >40 challenge, >20 review.
func DefaultThresholds() Thresholds {
	return Thresholds{ReviewAbove: 20, ChallengeAbove: 40, BlockAbove: 70}
}

// Decide maps score onto the thresholds.
func (t Thresholds) Decide(score int) Decision {
	switch {
	case score > t.BlockAbove:
		return Block
	case score > t.ChallengeAbove:
		return Challenge
	case score > t.ReviewAbove:
		return Review
	default:
		return Allow
	}
}

func (t Thresholds) validate() error {
	if t.ReviewAbove < 0 || t.BlockAbove > MaxScore ||
		t.ReviewAbove > t.ChallengeAbove || t.ChallengeAbove > t.BlockAbove {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= review <= challenge <= block <= %d", ErrInvalidConfig, MaxScore)
	}
	return nil
}

// Decide applies DefaultThresholds.
func Decide(score int) Decision {
	return DefaultThresholds().Decide(score)
}

// Assessment is the full result of scoring one request.
type Assessment struct {
	Score    int
	Rules    []Rule
	Decision Decision
	// Country is the resolved ISO code, empty when unresolved.
	Country string
}

// Fired reports whether rule contributed to the score.
func (a Assessment) Fired(rule Rule) bool {
	for _, r := range a.Rules {
		if r == rule {
			return true
		}
	}
	return false
}
