// Package timeout resolves the wall-clock budget for a statement.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultQueryTimeout applies when Config.DefaultTimeout is zero.
const DefaultQueryTimeout = 30 * time.Second

// Rule maps a regex over the executed SQL to a timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

type Config struct {
	DefaultTimeout time.Duration
	// CatalogTimeout bounds introspection queries (list, describe, stats,
	// search). Zero means DefaultTimeout.
	CatalogTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts. Immutable and safe for concurrent use.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
	catalogTimeout time.Duration
}

// NewManager compiles the rules. It fails on an invalid pattern or a
// non-positive rule timeout.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %w", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a positive timeout", r.Pattern)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	m := &Manager{
		rules:          compiled,
		defaultTimeout: config.DefaultTimeout,
		catalogTimeout: config.CatalogTimeout,
	}
	if m.defaultTimeout <= 0 {
		m.defaultTimeout = DefaultQueryTimeout
	}
	if m.catalogTimeout <= 0 {
		m.catalogTimeout = m.defaultTimeout
	}
	return m, nil
}

// GetTimeout returns the timeout for the given SQL.
// First matching rule wins. Falls back to default.
func (m *Manager) GetTimeout(sql string) time.Duration {
	d, _ := m.GetTimeoutWithPattern(sql)
	return d
}

// GetTimeoutWithPattern is GetTimeout that also returns the pattern of the
// matching rule, or "" when the default applied.
func (m *Manager) GetTimeoutWithPattern(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Catalog returns the timeout for introspection queries.
func (m *Manager) Catalog() time.Duration {
	return m.catalogTimeout
}
