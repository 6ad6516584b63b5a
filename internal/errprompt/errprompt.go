// Package errprompt attaches operator-written guidance to error payloads.
// A rule's pattern is matched against both the error kind (for example
// "TableNotFound") and the error message.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks errors against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %w", r.Pattern, err)
		}
		if strings.TrimSpace(r.Message) == "" {
			return nil, fmt.Errorf("errprompt: rule %q has an empty message", r.Pattern)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks kind and message against all rules (top to bottom) and
// returns the messages of every matching rule joined by newlines, or "".
func (m *Matcher) Match(kind, message string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.matches(kind, message) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns of the rules that matched.
func (m *Matcher) MatchedPatterns(kind, message string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.matches(kind, message) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

func (r compiledRule) matches(kind, message string) bool {
	return r.pattern.MatchString(kind) || r.pattern.MatchString(message)
}
