package proxy

import "strings"

// Matcher decides which paths go through the access gate
type Matcher struct {
	apiPrefix      string
	bypassPrefixes []string
	bypassExact    map[string]struct{}
}

// NewMatcher creates a Matcher from the proxy configuration
func NewMatcher(cfg Config) *Matcher {
	m := &Matcher{
		apiPrefix:      strings.TrimRight(cfg.APIPrefix, "/"),
		bypassPrefixes: append([]string(nil), cfg.BypassPrefixes...),
		bypassExact:    make(map[string]struct{}, len(cfg.BypassExact)),
	}
	for _, p := range cfg.BypassExact {
		m.bypassExact[p] = struct{}{}
	}
	return m
}

// IsAPI reports whether path is under the API prefix
func (m *Matcher) IsAPI(path string) bool {
	return hasSegmentPrefix(path, m.apiPrefix)
}

// ShouldGate reports whether the access gate evaluates path
func (m *Matcher) ShouldGate(path string) bool {
	if m.IsAPI(path) {
		return false
	}
	if _, ok := m.bypassExact[path]; ok {
		return false
	}
	for _, prefix := range m.bypassPrefixes {
		if hasSegmentPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// hasSegmentPrefix matches prefix on a path segment boundary
func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
