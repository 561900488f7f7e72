package risk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rule names a scoring signal. Assessments list the rules that fired.
type Rule string

const (
	RuleGeoUnresolved   Rule = "geo_unresolved"
	RuleHighRiskCountry Rule = "high_risk_country"
	RuleRelay           Rule = "anonymizing_relay"
	RuleUnknownAgent    Rule = "unknown_agent"
	RuleWeakFingerprint Rule = "weak_fingerprint"
	RuleBadLanguage     Rule = "bad_language"
)

// Points added by each rule.
const (
	WeightGeoUnresolved   = 25
	WeightHighRiskCountry = 30
	WeightRelay           = 50
	WeightUnknownAgent    = 20
	WeightWeakFingerprint = 10
	WeightBadLanguage     = 5

	MaxScore = 100
)

// DefaultMinFingerprintLength is the shortest fingerprint that does not score.
const DefaultMinFingerprintLength = 10

var languageTag = regexp.MustCompile(`^[a-zA-Z]{2}(-[a-zA-Z]{2})?$`)

// Config holds the tables the rules read. Slices are copied by NewScorer.
type Config struct {
	HighRiskCountries    []string   `mapstructure:"high_risk_countries"`
	RelayAddresses       []string   `mapstructure:"relay_addresses"`
	AllowedBrowsers      []string   `mapstructure:"allowed_browsers"`
	MinFingerprintLength int        `mapstructure:"min_fingerprint_length" validate:"gte=0"`
	Thresholds           Thresholds `mapstructure:"thresholds"`
}

// DefaultConfig allows the mainstream desktop and mobile browsers and has no
// high-risk countries or relays until the operator configures them.
func DefaultConfig() Config {
	return Config{
		AllowedBrowsers:      []string{"Chrome", "Firefox", "Safari", "Edge", "Opera"},
		MinFingerprintLength: DefaultMinFingerprintLength,
		Thresholds:           DefaultThresholds(),
	}
}

type rule struct {
	name   Rule
	weight int
	fires  func(*Scorer, Request, *geoResult) bool
}

// geoResult memoises the single resolver lookup shared by the two geo rules.
type geoResult struct {
	done     bool
	country  string
	resolved bool
}

// Scorer computes additive risk scores. It is immutable after construction
// and safe for concurrent use.
type Scorer struct {
	highRisk   map[string]struct{}
	browsers   map[string]struct{}
	relays     *RelayList
	minFP      int
	thresholds Thresholds
	geo        GeoResolver
	agents     AgentClassifier
	rules      []rule
}

// NewScorer validates cfg and binds the resolvers. A nil geo resolver leaves
// every address unresolved; a nil classifier defaults to BrowserFamily.
func NewScorer(cfg Config, geo GeoResolver, agents AgentClassifier) (*Scorer, error) {
	relays, err := NewRelayList(cfg.RelayAddresses)
	if err != nil {
		return nil, err
	}
	return NewScorerWithRelays(cfg, relays, geo, agents)
}

// NewScorerWithRelays is NewScorer with a prebuilt relay list, e.g. one read
// by LoadRelayList. cfg.RelayAddresses is ignored.
func NewScorerWithRelays(cfg Config, relays *RelayList, geo GeoResolver, agents AgentClassifier) (*Scorer, error) {
	if cfg.MinFingerprintLength < 0 {
		return nil, fmt.Errorf("%w: min fingerprint length must be >= 0", ErrInvalidConfig)
	}
	th := cfg.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	if err := th.validate(); err != nil {
		return nil, err
	}
	if agents == nil {
		agents = BrowserFamily{}
	}
	if relays == nil {
		relays = &RelayList{}
	}

	s := &Scorer{
		highRisk:   make(map[string]struct{}, len(cfg.HighRiskCountries)),
		browsers:   make(map[string]struct{}, len(cfg.AllowedBrowsers)),
		relays:     relays,
		minFP:      cfg.MinFingerprintLength,
		thresholds: th,
		geo:        geo,
		agents:     agents,
	}
	for _, c := range cfg.HighRiskCountries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 2 {
			return nil, fmt.Errorf("%w: country code %q must be ISO 3166-1 alpha-2", ErrInvalidConfig, c)
		}
		s.highRisk[c] = struct{}{}
	}
	for _, b := range cfg.AllowedBrowsers {
		if b = strings.TrimSpace(b); b != "" {
			s.browsers[strings.ToLower(b)] = struct{}{}
		}
	}

	s.rules = []rule{
		{RuleGeoUnresolved, WeightGeoUnresolved, (*Scorer).geoUnresolved},
		{RuleHighRiskCountry, WeightHighRiskCountry, (*Scorer).highRiskCountry},
		{RuleRelay, WeightRelay, (*Scorer).relay},
		{RuleUnknownAgent, WeightUnknownAgent, (*Scorer).unknownAgent},
		{RuleWeakFingerprint, WeightWeakFingerprint, (*Scorer).weakFingerprint},
		{RuleBadLanguage, WeightBadLanguage, (*Scorer).badLanguage},
	}
	return s, nil
}

// Score returns min(sum of fired rule weights, 100).
func (s *Scorer) Score(req Request) int {
	return s.Assess(req).Score
}

// Assess scores req and reports which rules fired and the resulting decision.
func (s *Scorer) Assess(req Request) Assessment {
	var (
		geo   geoResult
		total int
		fired []Rule
	)
	for _, r := range s.rules {
		if r.fires(s, req, &geo) {
			total += r.weight
			fired = append(fired, r.name)
		}
	}
	if total > MaxScore {
		total = MaxScore
	}
	return Assessment{
		Score:    total,
		Rules:    fired,
		Decision: s.thresholds.Decide(total),
		Country:  geo.country,
	}
}

func (s *Scorer) lookup(req Request, g *geoResult) {
	if g.done {
		return
	}
	g.done = true
	if s.geo == nil || !req.IP.IsValid() {
		return
	}
	g.country, g.resolved = s.geo.Country(req.IP.Unmap())
	g.country = strings.ToUpper(g.country)
	if g.country == "" {
		g.resolved = false
	}
}

func (s *Scorer) geoUnresolved(req Request, g *geoResult) bool {
	s.lookup(req, g)
	return !g.resolved
}

func (s *Scorer) highRiskCountry(req Request, g *geoResult) bool {
	s.lookup(req, g)
	if !g.resolved {
		return false
	}
	_, hit := s.highRisk[g.country]
	return hit
}

func (s *Scorer) relay(req Request, _ *geoResult) bool {
	return s.relays.Contains(req.IP)
}

func (s *Scorer) unknownAgent(req Request, _ *geoResult) bool {
	family := s.agents.Family(req.UserAgent)
	if family == "" {
		return true
	}
	_, ok := s.browsers[strings.ToLower(family)]
	return !ok
}

func (s *Scorer) weakFingerprint(req Request, _ *geoResult) bool {
	return utf8.RuneCountInString(strings.TrimSpace(req.Fingerprint)) < s.minFP
}

func (s *Scorer) badLanguage(req Request, _ *geoResult) bool {
	return !languageTag.MatchString(primaryLanguage(req.AcceptLanguage))
}

// primaryLanguage returns the first tag of an Accept-Language value,
// without its quality parameter.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}
