// Package sanitize redacts string values in result rows before they leave
// the process.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule replaces matches of Pattern with Replacement. When Columns is set the
// rule only applies to those result columns (case-insensitive).
type Rule struct {
	Pattern     string
	Replacement string
	Columns     []string
	Description string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	columns     map[string]struct{}
}

func (r compiledRule) appliesTo(column string) bool {
	if len(r.columns) == 0 {
		return true
	}
	_, ok := r.columns[strings.ToLower(column)]
	return ok
}

// Sanitizer applies regex-based sanitization to result row field values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %w", r.Pattern, err)
		}
		cr := compiledRule{pattern: re, replacement: r.Replacement}
		if len(r.Columns) > 0 {
			cr.columns = make(map[string]struct{}, len(r.Columns))
			for _, c := range r.Columns {
				cr.columns[strings.ToLower(c)] = struct{}{}
			}
		}
		compiled[i] = cr
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows rewrites string values in place, recursing into JSON objects
// and arrays. It returns the number of values that changed.
func (s *Sanitizer) SanitizeRows(rows []map[string]any) int {
	if !s.HasRules() {
		return 0
	}
	changed := 0
	for _, row := range rows {
		for col, v := range row {
			nv, n := s.sanitizeValue(col, v)
			row[col] = nv
			changed += n
		}
	}
	return changed
}

func (s *Sanitizer) sanitizeValue(column string, v any) (any, int) {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range s.rules {
			if rule.appliesTo(column) {
				result = rule.pattern.ReplaceAllString(result, rule.replacement)
			}
		}
		if result != val {
			return result, 1
		}
		return val, 0
	case map[string]any:
		total := 0
		for k, item := range val {
			nv, n := s.sanitizeValue(column, item)
			val[k] = nv
			total += n
		}
		return val, total
	case []any:
		total := 0
		for i, item := range val {
			nv, n := s.sanitizeValue(column, item)
			val[i] = nv
			total += n
		}
		return val, total
	default:
		return v, 0
	}
}
