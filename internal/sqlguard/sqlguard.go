// Package sqlguard is the text-level gate for caller-supplied SQL. It decides
// whether a statement looks like a single read-only SELECT and rewrites it so
// the number of returned rows is bounded.
//
// The classifier is conservative, not a parser. It tokenizes just enough of
// PostgreSQL's lexical grammar (quoted strings, dollar quotes, quoted
// identifiers, nested comments) to avoid matching keywords inside literals.
// internal/protection verifies the rewritten statement with the real parser.
package sqlguard

import (
	"fmt"
	"strconv"
	"strings"
)

// Class is the outcome of classification.
type Class string

const (
	Unclassified Class = ""
	SafeSelect   Class = "safe_select"
	Rejected     Class = "rejected"
)

// Reason identifies why a statement was rejected.
type Reason string

const (
	ReasonNotSelect          Reason = "not_a_select_statement"
	ReasonDangerousKeyword   Reason = "dangerous_keyword"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonSyntax             Reason = "syntax_error"
	ReasonInvalidLimit       Reason = "invalid_limit"
)

// State tracks a statement through the execution pipeline. sqlguard moves a
// statement up to Rewritten; the caller records the later states.
type State string

const (
	StateReceived   State = "received"
	StateNormalized State = "normalized"
	StateRejected   State = "rejected"
	StateSafe       State = "classified_safe"
	StateRewritten  State = "rewritten"
	StateExecuted   State = "executed"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// BlockedKeywords are the words that reject a statement when they appear as
// a bare token outside strings, quoted identifiers and comments.
var BlockedKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create", "truncate",
	"grant", "revoke", "exec", "call", "copy", "commit", "rollback",
	"savepoint", "set", "reset", "do",
}

// Rejection describes why a statement was refused.
type Rejection struct {
	Reason  Reason
	Keyword string // set for ReasonDangerousKeyword
	Detail  string
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonDangerousKeyword:
		return fmt.Sprintf("statement contains blocked keyword %q", strings.ToUpper(r.Keyword))
	case ReasonNotSelect:
		return "only SELECT statements are allowed"
	case ReasonMultipleStatements:
		return "multiple statements are not allowed"
	}
	return r.Detail
}

// Statement is one caller query as it moves through classification.
type Statement struct {
	Raw        string
	Normalized string
	Lower      string
	Class      Class
	State      State
	Rejection  *Rejection
	// Body is the normalized statement without its trailing semicolon and
	// without the appended LIMIT.
	Body         string
	Rewritten    string
	LimitApplied bool
	AppliedLimit int
}

// Config configures a Classifier.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// Classifier classifies and rewrites statements. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	blocked      map[string]struct{}
	defaultLimit int
	maxLimit     int
}

// NewClassifier creates a Classifier. Non-positive limits fall back to 100
// (default) and 1000 (max).
func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{
		blocked:      make(map[string]struct{}, len(BlockedKeywords)),
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
	if c.defaultLimit <= 0 {
		c.defaultLimit = 100
	}
	if c.maxLimit <= 0 {
		c.maxLimit = 1000
	}
	if c.defaultLimit > c.maxLimit {
		c.defaultLimit = c.maxLimit
	}
	for _, kw := range BlockedKeywords {
		c.blocked[kw] = struct{}{}
	}
	return c
}

// DefaultLimit returns the limit used when the caller gives none.
func (c *Classifier) DefaultLimit() int { return c.defaultLimit }

// MaxLimit returns the ceiling applied to caller-requested limits.
func (c *Classifier) MaxLimit() int { return c.maxLimit }

// ClampLimit resolves a caller-requested limit: nil means the default, and
// anything above the maximum is lowered to it.
func (c *Classifier) ClampLimit(requested *int) int {
	if requested == nil {
		return c.defaultLimit
	}
	if *requested > c.maxLimit {
		return c.maxLimit
	}
	return *requested
}

// Classify runs the text gate on raw. requested is the caller's row limit
// (nil for the default). The returned Statement is always non-nil; when
// Class is Rejected, Rejection says why.
func (c *Classifier) Classify(raw string, requested *int) *Statement {
	st := &Statement{Raw: raw, State: StateReceived}

	if requested != nil && *requested < 0 {
		return st.reject(&Rejection{Reason: ReasonInvalidLimit, Detail: "limit must be >= 0"})
	}

	st.Normalized = normalize(raw)
	st.Lower = strings.ToLower(st.Normalized)
	st.State = StateNormalized

	tokens, err := lex(st.Normalized)
	if err != nil {
		return st.reject(&Rejection{Reason: ReasonSyntax, Detail: err.Error()})
	}

	if len(tokens) == 0 || tokens[0].kind != tokWord || tokens[0].text != "select" || tokens[0].start != 0 {
		return st.reject(&Rejection{Reason: ReasonNotSelect})
	}

	for _, tok := range tokens {
		if tok.kind != tokWord {
			continue
		}
		if _, ok := c.blocked[tok.text]; ok {
			return st.reject(&Rejection{Reason: ReasonDangerousKeyword, Keyword: tok.text})
		}
	}

	// A semicolon is only acceptable as the very last token.
	body := st.Normalized
	for i, tok := range tokens {
		if tok.kind != tokSemicolon {
			continue
		}
		if i != len(tokens)-1 {
			return st.reject(&Rejection{Reason: ReasonMultipleStatements})
		}
		body = strings.TrimRight(st.Normalized[:tok.start], " \t\r\n\f\v")
		tokens = tokens[:i]
	}

	hasLimit, unbounded := topLevelLimit(tokens)
	if unbounded {
		return st.reject(&Rejection{Reason: ReasonInvalidLimit, Detail: "LIMIT ALL is not allowed, give an explicit row count"})
	}

	st.Class = SafeSelect
	st.State = StateSafe

	st.Body = body
	st.Rewritten = body
	if !hasLimit {
		st.AppliedLimit = c.ClampLimit(requested)
		st.LimitApplied = true
		st.Rewritten = body + "\nLIMIT " + strconv.Itoa(st.AppliedLimit)
	}
	st.State = StateRewritten
	return st
}

func (st *Statement) reject(r *Rejection) *Statement {
	st.Class = Rejected
	st.State = StateRejected
	st.Rejection = r
	return st
}

// normalize trims surrounding whitespace and one trailing semicolon.
func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	return s
}

// topLevelLimit reports whether LIMIT or FETCH {FIRST|NEXT} appears outside
// any parentheses, and whether that limit is LIMIT ALL or LIMIT NULL, which
// PostgreSQL treats as no limit.
func topLevelLimit(tokens []token) (found, unbounded bool) {
	for i, tok := range tokens {
		if tok.kind != tokWord || tok.depth != 0 {
			continue
		}
		switch tok.text {
		case "limit":
			return true, i+1 < len(tokens) && tokens[i+1].kind == tokWord &&
				(tokens[i+1].text == "all" || tokens[i+1].text == "null")
		case "fetch":
			if i+1 < len(tokens) && (tokens[i+1].text == "first" || tokens[i+1].text == "next") {
				return true, false
			}
		}
	}
	return false, false
}
