// Package simple contains the admission policy consulted before each source
// fetch and headless promotion.
package simple

import (
	"net/url"
	"slices"
	"strings"
	"sync"
)

// Config controls admission.
type Config struct {
	// BlockedHosts lists exact hosts or "*.suffix" / ".suffix" wildcards.
	BlockedHosts []string
	// HeadlessPerRun caps headless promotions per run; zero means unlimited.
	HeadlessPerRun int
}

// Policy gates fetches by host and meters headless renders per run.
type Policy struct {
	blocked  *hostBlocklist
	headless int

	mu   sync.Mutex
	used map[string]int
}

// New creates a new Policy.
func New(cfg Config) *Policy {
	return &Policy{
		blocked:  newHostBlocklist(cfg.BlockedHosts),
		headless: cfg.HeadlessPerRun,
		used:     make(map[string]int),
	}
}

// AllowFetch reports whether rawURL may be fetched.
func (p *Policy) AllowFetch(_ string, rawURL string) bool {
	if p == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !p.blocked.IsBlocked(u.Hostname())
}

// AllowHeadless reserves one headless render for runID, returning false once
// the run's budget is spent.
func (p *Policy) AllowHeadless(runID string, rawURL string) bool {
	if p == nil {
		return true
	}
	if !p.AllowFetch(runID, rawURL) {
		return false
	}
	if p.headless <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used[runID] >= p.headless {
		return false
	}
	p.used[runID]++
	return true
}

// Release forgets the headless usage recorded for runID.
func (p *Policy) Release(runID string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.used, runID)
	p.mu.Unlock()
}

// hostBlocklist stores exact hosts and suffix wildcards.
type hostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostBlocklist(patterns []string) *hostBlocklist {
	matcher := &hostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."), strings.HasPrefix(value, "."):
			suffix := strings.TrimLeft(strings.TrimPrefix(value, "*"), ".")
			if suffix != "" && !slices.Contains(matcher.suffixes, suffix) {
				matcher.suffixes = append(matcher.suffixes, suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

// IsBlocked reports whether host matches the list.
func (b *hostBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
