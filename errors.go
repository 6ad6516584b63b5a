package pgscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickchristie/pgscope/internal/ident"
	"github.com/rickchristie/pgscope/internal/protection"
	"github.com/rickchristie/pgscope/internal/sqlguard"
)

// ErrorKind classifies every error an operation can return.
type ErrorKind string

const (
	KindConnectionUnavailable ErrorKind = "ConnectionUnavailable"
	KindInvalidIdentifier     ErrorKind = "InvalidIdentifier"
	KindNotASelectStatement   ErrorKind = "NotASelectStatement"
	KindDangerousKeyword      ErrorKind = "DangerousKeyword"
	KindMultipleStatements    ErrorKind = "MultipleStatements"
	KindQueryTimeout          ErrorKind = "QueryTimeout"
	KindTableNotFound         ErrorKind = "TableNotFound"
	KindSyntaxError           ErrorKind = "SyntaxError"
	KindPermissionDenied      ErrorKind = "PermissionDenied"
	KindInvalidArgument       ErrorKind = "InvalidArgument"
	KindQueryFailed           ErrorKind = "QueryFailed"
)

// Error is the only error type returned by Explorer operations.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Keyword is the offending keyword for DangerousKeyword.
	Keyword string `json:"keyword,omitempty"`
	// Hint carries guidance from the server and from error_prompts rules.
	Hint string `json:"hint,omitempty"`
	Err  error  `json:"-"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrTableNotFound)
// holds for any TableNotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnectionUnavailable = &Error{Kind: KindConnectionUnavailable}
	ErrInvalidIdentifier     = &Error{Kind: KindInvalidIdentifier}
	ErrNotASelectStatement   = &Error{Kind: KindNotASelectStatement}
	ErrDangerousKeyword      = &Error{Kind: KindDangerousKeyword}
	ErrMultipleStatements    = &Error{Kind: KindMultipleStatements}
	ErrQueryTimeout          = &Error{Kind: KindQueryTimeout}
	ErrTableNotFound         = &Error{Kind: KindTableNotFound}
	ErrSyntaxError           = &Error{Kind: KindSyntaxError}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrQueryFailed           = &Error{Kind: KindQueryFailed}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func tableNotFound(schema, table string) *Error {
	return &Error{
		Kind:    KindTableNotFound,
		Message: fmt.Sprintf("table %q.%q does not exist or is not visible to this user", schema, table),
	}
}

func schemaNotFound(schema string) *Error {
	return &Error{
		Kind:    KindTableNotFound,
		Message: fmt.Sprintf("schema %q does not exist", schema),
	}
}

// connUnavailableMessage never includes host, user or connection string.
const connUnavailableMessage = "database connection unavailable"

// PostgreSQL error codes this package distinguishes.
const (
	codeSyntaxError          = "42601"
	codeUndefinedTable       = "42P01"
	codeInsufficientPriv     = "42501"
	codeReadOnlyTransaction  = "25006"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
	codeTooManyConnections   = "53300"
	classConnectionException = "08"
)

// classifyError converts any error raised while serving an operation into
// an *Error. timeout is the budget the operation ran under, for messages.
func classifyError(err error, timeout time.Duration) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var identErr *ident.Error
	if errors.As(err, &identErr) {
		return &Error{Kind: KindInvalidIdentifier, Message: identErr.Error(), Err: err}
	}

	var rejection *sqlguard.Rejection
	if errors.As(err, &rejection) {
		return fromRejection(rejection)
	}

	var violation *protection.Violation
	if errors.As(err, &violation) {
		return fromViolation(violation)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromPgError(pgErr, timeout)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return timeoutError(timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindQueryFailed, Message: "operation cancelled by caller", Err: err}
	}
	if isConnError(err) {
		return &Error{Kind: KindConnectionUnavailable, Message: connUnavailableMessage, Err: err}
	}
	return &Error{Kind: KindQueryFailed, Message: err.Error(), Err: err}
}

func timeoutError(timeout time.Duration, err error) *Error {
	return &Error{
		Kind:    KindQueryTimeout,
		Message: fmt.Sprintf("query exceeded the %s timeout and was cancelled", timeout),
		Err:     err,
	}
}

func fromPgError(pgErr *pgconn.PgError, timeout time.Duration) *Error {
	e := &Error{Message: pgErr.Message, Hint: pgErr.Hint, Err: pgErr}
	switch {
	case pgErr.Code == codeSyntaxError:
		e.Kind = KindSyntaxError
		if pgErr.Position > 0 {
			e.Message = fmt.Sprintf("%s (at character %d)", pgErr.Message, pgErr.Position)
		}
	case pgErr.Code == codeUndefinedTable:
		e.Kind = KindTableNotFound
	case pgErr.Code == codeInsufficientPriv || pgErr.Code == codeReadOnlyTransaction:
		e.Kind = KindPermissionDenied
	case pgErr.Code == codeQueryCanceled:
		return timeoutError(timeout, pgErr)
	case pgErr.Code == codeAdminShutdown || pgErr.Code == codeCannotConnectNow ||
		pgErr.Code == codeTooManyConnections || len(pgErr.Code) == 5 && pgErr.Code[:2] == classConnectionException:
		return &Error{Kind: KindConnectionUnavailable, Message: connUnavailableMessage, Err: pgErr}
	default:
		e.Kind = KindQueryFailed
	}
	return e
}

func fromRejection(r *sqlguard.Rejection) *Error {
	e := &Error{Message: r.Error(), Err: r}
	switch r.Reason {
	case sqlguard.ReasonNotSelect:
		e.Kind = KindNotASelectStatement
	case sqlguard.ReasonDangerousKeyword:
		e.Kind = KindDangerousKeyword
		e.Keyword = r.Keyword
	case sqlguard.ReasonMultipleStatements:
		e.Kind = KindMultipleStatements
	case sqlguard.ReasonSyntax:
		e.Kind = KindSyntaxError
	default:
		e.Kind = KindInvalidArgument
	}
	return e
}

func fromViolation(v *protection.Violation) *Error {
	e := &Error{Message: v.Message, Keyword: v.Keyword, Err: v}
	switch v.Rule {
	case protection.RuleParse:
		e.Kind = KindSyntaxError
	case protection.RuleStatementCount:
		e.Kind = KindMultipleStatements
	case protection.RuleInto, protection.RuleLocking, protection.RuleFunction:
		e.Kind = KindDangerousKeyword
	default:
		e.Kind = KindNotASelectStatement
	}
	return e
}

// isConnError reports whether err means the session itself is unusable, so
// the pooled connection must be destroyed rather than reused.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	// Deadline errors satisfy net.Error; the cancel request leaves the
	// session usable, and pgxpool drops it on Release if it did close.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeAdminShutdown || len(pgErr.Code) == 5 && pgErr.Code[:2] == classConnectionException
	}
	return pgconn.SafeToRetry(err)
}
