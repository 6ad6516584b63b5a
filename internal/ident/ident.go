// Package ident validates and quotes SQL identifiers (schema, table and column
// names) before they are interpolated into generated SQL.
//
// Values that travel as bound query parameters never need this check. Names
// that must appear in the query text itself (FROM clauses, regclass literals)
// must pass Check first.
package ident

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is PostgreSQL's identifier limit (NAMEDATALEN - 1).
const MaxLength = 63

var pattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved holds PostgreSQL keywords that are reserved (or reserved-but-can-be-
// function-or-type) and therefore cannot appear as bare identifiers.
var reserved = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		all analyse analyze and any array as asc asymmetric authorization binary both
		case cast check collate collation column concurrently constraint create cross
		current_catalog current_date current_role current_schema current_time
		current_timestamp current_user default deferrable desc distinct do else end
		except false fetch for foreign freeze from full grant group having ilike in
		initially inner intersect into is isnull join lateral leading left like limit
		localtime localtimestamp natural not notnull null offset on only or order outer
		overlaps placing primary references returning right select session_user similar
		some symmetric system_user table tablesample then to trailing true union unique
		user using variadic verbose when where window with`) {
		reserved[w] = struct{}{}
	}
}

// Error reports an identifier that failed validation.
type Error struct {
	Kind   string // "schema", "table", "column"
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Kind, e.Name, e.Reason)
}

// Validate reports whether name is safe to interpolate into SQL.
func Validate(name string) bool {
	return reason(name) == ""
}

// IsReserved reports whether name is a reserved keyword, ignoring case.
func IsReserved(name string) bool {
	_, ok := reserved[strings.ToLower(name)]
	return ok
}

// Check validates name and returns a descriptive *Error on failure.
// kind names the role of the identifier in error messages.
func Check(kind, name string) error {
	if r := reason(name); r != "" {
		return &Error{Kind: kind, Name: name, Reason: r}
	}
	return nil
}

func reason(name string) string {
	switch {
	case name == "":
		return "must not be empty"
	case len(name) > MaxLength:
		return fmt.Sprintf("exceeds %d characters", MaxLength)
	case !pattern.MatchString(name):
		return "must start with a letter or underscore and contain only letters, digits and underscores"
	case IsReserved(name):
		return "is a reserved keyword"
	}
	return ""
}

// Quote wraps name in double quotes, doubling embedded quotes. Case is
// preserved, so Quote("Users") refers to the mixed-case relation.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Qualify returns the quoted schema-qualified name "schema"."table".
func Qualify(schema, table string) string {
	return Quote(schema) + "." + Quote(table)
}
