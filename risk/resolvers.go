package risk

import (
	"fmt"
	"net/http"
	"net/netip"
	"sort"
	"strings"

	"github.com/mssola/user_agent"
)

// DefaultFingerprintHeader carries the client-computed device fingerprint.
const DefaultFingerprintHeader = "X-Device-Fingerprint"

// Request is the metadata the scorer reads. It holds no time or random input,
// so identical requests always score identically.
type Request struct {
	IP             netip.Addr
	UserAgent      string
	Fingerprint    string
	AcceptLanguage string
}

// RequestFromHTTP extracts a Request from r. clientIP is the address already
// chosen by the caller's proxy policy; an unparsable value leaves IP invalid.
func RequestFromHTTP(r *http.Request, clientIP, fingerprintHeader string) Request {
	if fingerprintHeader == "" {
		fingerprintHeader = DefaultFingerprintHeader
	}
	ip, _ := netip.ParseAddr(strings.TrimSpace(clientIP))
	return Request{
		IP:             ip,
		UserAgent:      r.UserAgent(),
		Fingerprint:    r.Header.Get(fingerprintHeader),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

// GeoResolver maps an address to an ISO 3166-1 alpha-2 country code.
type GeoResolver interface {
	Country(ip netip.Addr) (code string, ok bool)
}

// AgentClassifier reduces a User-Agent string to a browser family name.
// An empty family means the agent could not be classified.
type AgentClassifier interface {
	Family(userAgent string) string
}

// BrowserFamily classifies with github.com/mssola/user_agent. Crawlers are
// reported as "Bot" whatever browser they claim.
type BrowserFamily struct{}

func (BrowserFamily) Family(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}
	parsed := user_agent.New(ua)
	if parsed.Bot() {
		return "Bot"
	}
	name, _ := parsed.Browser()
	return name
}

// StaticGeoResolver resolves from a fixed CIDR table using longest-prefix match.
type StaticGeoResolver struct {
	entries []geoEntry
}

type geoEntry struct {
	prefix  netip.Prefix
	country string
}

// NewStaticGeoResolver builds a resolver from CIDR (or single address) → country.
func NewStaticGeoResolver(table map[string]string) (*StaticGeoResolver, error) {
	r := &StaticGeoResolver{entries: make([]geoEntry, 0, len(table))}
	for cidr, country := range table {
		var p netip.Prefix
		var err error
		if strings.Contains(cidr, "/") {
			p, err = netip.ParsePrefix(cidr)
		} else {
			var a netip.Addr
			a, err = netip.ParseAddr(cidr)
			if err == nil {
				p = netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen())
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: geo entry %q", ErrInvalidConfig, cidr)
		}
		country = strings.ToUpper(strings.TrimSpace(country))
		if len(country) != 2 {
			return nil, fmt.Errorf("%w: geo entry %q has bad country %q", ErrInvalidConfig, cidr, country)
		}
		r.entries = append(r.entries, geoEntry{prefix: p.Masked(), country: country})
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].prefix.Bits() > r.entries[j].prefix.Bits()
	})
	return r, nil
}

func (r *StaticGeoResolver) Country(ip netip.Addr) (string, bool) {
	ip = ip.Unmap()
	for _, e := range r.entries {
		if e.prefix.Contains(ip) {
			return e.country, true
		}
	}
	return "", false
}
