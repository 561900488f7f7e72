package risk

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"
)

// RelayList is a set of anonymizing relay addresses and ranges.
// A nil *RelayList contains nothing.
type RelayList struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// NewRelayList parses entries as single addresses or CIDR prefixes.
func NewRelayList(entries []string) (*RelayList, error) {
	l := &RelayList{addrs: make(map[netip.Addr]struct{}, len(entries))}
	for _, e := range entries {
		if err := l.add(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// LoadRelayList reads one entry per line. Blank lines and # comments are
// skipped, and Tor "ExitAddress <ip> <date>" records are accepted as well as
// the bulk exit list's bare addresses.
func LoadRelayList(r io.Reader) (*RelayList, error) {
	l := &RelayList{addrs: make(map[netip.Addr]struct{})}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		entry := fields[0]
		if entry == "ExitAddress" {
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: line %d: ExitAddress without address", ErrInvalidRelay, line)
			}
			entry = fields[1]
		} else if len(fields) > 1 {
			// Other Tor descriptor keywords (ExitNode, Published, LastStatus).
			continue
		}
		if err := l.add(entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("risk: read relay list: %w", err)
	}
	return l, nil
}

// Add appends entries to l. It is not safe to call while the list is being
// read by a Scorer.
func (l *RelayList) Add(entries ...string) error {
	if l.addrs == nil {
		l.addrs = make(map[netip.Addr]struct{}, len(entries))
	}
	for _, e := range entries {
		if err := l.add(e); err != nil {
			return err
		}
	}
	return nil
}

func (l *RelayList) add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidRelay, entry)
		}
		l.prefixes = append(l.prefixes, p.Masked())
		return nil
	}
	a, err := netip.ParseAddr(entry)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRelay, entry)
	}
	l.addrs[a.Unmap()] = struct{}{}
	return nil
}

// Contains reports whether addr is a listed relay or inside a listed range.
func (l *RelayList) Contains(addr netip.Addr) bool {
	if l == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if _, ok := l.addrs[addr]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Len is the number of addresses plus ranges.
func (l *RelayList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.addrs) + len(l.prefixes)
}
