package sqlguard

import (
	"errors"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokQuotedIdent
	tokSemicolon
	tokLParen
	tokRParen
	tokOther
)

// token is a lexical unit found outside comments. Strings and quoted
// identifiers are kept as single opaque tokens so their contents are never
// mistaken for keywords.
type token struct {
	kind  tokenKind
	text  string // lower-cased for words
	start int
	end   int
	depth int // parenthesis depth the token sits at
}

var (
	errUnterminatedString  = errors.New("unterminated quoted string")
	errUnterminatedIdent   = errors.New("unterminated quoted identifier")
	errUnterminatedComment = errors.New("unterminated block comment")
	errUnterminatedDollar  = errors.New("unterminated dollar-quoted string")
)

// lex splits sql into tokens, skipping whitespace, -- line comments and
// (nested) /* */ block comments.
func lex(sql string) ([]token, error) {
	var tokens []token
	depth := 0
	i := 0
	n := len(sql)

	for i < n {
		c := sql[i]
		switch {
		case isSpace(c):
			i++

		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			end, err := skipBlockComment(sql, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			end, err := skipString(sql, i, false)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: sql[i:end], start: i, end: end, depth: depth})
			i = end

		case c == '"':
			end, err := skipQuotedIdent(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokQuotedIdent, text: sql[i:end], start: i, end: end, depth: depth})
			i = end

		case c == '$' && dollarTag(sql, i) != "":
			tag := dollarTag(sql, i)
			closing := strings.Index(sql[i+len(tag):], tag)
			if closing < 0 {
				return nil, errUnterminatedDollar
			}
			end := i + len(tag) + closing + len(tag)
			tokens = append(tokens, token{kind: tokString, text: sql[i:end], start: i, end: end, depth: depth})
			i = end

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(sql[i]) {
				i++
			}
			word := strings.ToLower(sql[start:i])
			// E'...' escape strings honour backslash escapes.
			if word == "e" && i < n && sql[i] == '\'' {
				end, err := skipString(sql, i, true)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokString, text: sql[start:end], start: start, end: end, depth: depth})
				i = end
				continue
			}
			tokens = append(tokens, token{kind: tokWord, text: word, start: start, end: i, depth: depth})

		case isDigit(c):
			start := i
			for i < n && (isIdentPart(sql[i]) || sql[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: sql[start:i], start: start, end: i, depth: depth})

		case c == ';':
			tokens = append(tokens, token{kind: tokSemicolon, text: ";", start: i, end: i + 1, depth: depth})
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", start: i, end: i + 1, depth: depth})
			depth++
			i++

		case c == ')':
			if depth > 0 {
				depth--
			}
			tokens = append(tokens, token{kind: tokRParen, text: ")", start: i, end: i + 1, depth: depth})
			i++

		default:
			tokens = append(tokens, token{kind: tokOther, text: sql[i : i+1], start: i, end: i + 1, depth: depth})
			i++
		}
	}
	return tokens, nil
}

func skipBlockComment(sql string, i int) (int, error) {
	nesting := 0
	n := len(sql)
	for i < n {
		switch {
		case sql[i] == '/' && i+1 < n && sql[i+1] == '*':
			nesting++
			i += 2
		case sql[i] == '*' && i+1 < n && sql[i+1] == '/':
			nesting--
			i += 2
			if nesting == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, errUnterminatedComment
}

// skipString returns the index just past the string literal opening at i.
// A doubled quote is an escaped quote; with backslashes set, \x escapes x.
func skipString(sql string, i int, backslashes bool) (int, error) {
	n := len(sql)
	i++ // opening quote
	for i < n {
		switch {
		case backslashes && sql[i] == '\\':
			i += 2
		case sql[i] == '\'':
			if i+1 < n && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, errUnterminatedString
}

func skipQuotedIdent(sql string, i int) (int, error) {
	n := len(sql)
	i++
	for i < n {
		if sql[i] == '"' {
			if i+1 < n && sql[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, errUnterminatedIdent
}

// dollarTag returns the $tag$ opening at i, or "" if i does not start one.
// A $ inside an identifier (a$b) or a positional parameter ($1) is not a tag.
func dollarTag(sql string, i int) string {
	if i > 0 && isIdentPart(sql[i-1]) {
		return ""
	}
	j := i + 1
	if j < len(sql) && isDigit(sql[j]) {
		return ""
	}
	for j < len(sql) && isIdentPart(sql[j]) && sql[j] != '$' {
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		return sql[i : j+1]
	}
	return ""
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
