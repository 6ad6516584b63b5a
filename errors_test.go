package pgscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickchristie/pgscope/internal/ident"
	"github.com/rickchristie/pgscope/internal/protection"
	"github.com/rickchristie/pgscope/internal/sqlguard"
)

func TestErrorIs_MatchesByKind(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("wrapped: %w", tableNotFound("public", "nope"))

	assert.True(t, errors.Is(err, ErrTableNotFound))
	assert.False(t, errors.Is(err, ErrSyntaxError))
	// A concrete error is not a sentinel for another concrete error.
	assert.False(t, errors.Is(tableNotFound("a", "b"), tableNotFound("a", "b")))
}

func TestClassifyError_PgCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		kind ErrorKind
	}{
		{"42601", KindSyntaxError},
		{"42P01", KindTableNotFound},
		{"42501", KindPermissionDenied},
		{"25006", KindPermissionDenied},
		{"57014", KindQueryTimeout},
		{"57P01", KindConnectionUnavailable},
		{"53300", KindConnectionUnavailable},
		{"08006", KindConnectionUnavailable},
		{"22012", KindQueryFailed},
	}
	for _, tt := range tests {
		pgErr := &pgconn.PgError{Code: tt.code, Message: "server says " + tt.code}
		got := classifyError(fmt.Errorf("query: %w", pgErr), 3*time.Second)
		require.NotNil(t, got)
		assert.Equal(t, tt.kind, got.Kind, "code %s", tt.code)
	}
}

func TestClassifyError_QueryFailedKeepsServerMessage(t *testing.T) {
	t.Parallel()
	got := classifyError(&pgconn.PgError{Code: "22012", Message: "division by zero", Hint: "check divisor"}, time.Second)
	assert.Equal(t, "division by zero", got.Message)
	assert.Equal(t, "check divisor", got.Hint)
}

func TestClassifyError_SyntaxPosition(t *testing.T) {
	t.Parallel()
	got := classifyError(&pgconn.PgError{Code: "42601", Message: `syntax error at or near "FORM"`, Position: 10}, time.Second)
	assert.Equal(t, KindSyntaxError, got.Kind)
	assert.Contains(t, got.Message, "at character 10")
}

func TestClassifyError_Timeout(t *testing.T) {
	t.Parallel()
	got := classifyError(fmt.Errorf("%w: read tcp: i/o timeout", context.DeadlineExceeded), 2*time.Second)
	assert.Equal(t, KindQueryTimeout, got.Kind)
	assert.Contains(t, got.Message, "2s")
}

func TestClassifyError_ConnectionMessageHasNoDetails(t *testing.T) {
	t.Parallel()
	got := classifyError(fmt.Errorf("dial postgres://admin:secret@db:5432: %w", io.ErrUnexpectedEOF), time.Second)
	assert.Equal(t, KindConnectionUnavailable, got.Kind)
	assert.Equal(t, connUnavailableMessage, got.Message)
	assert.NotContains(t, got.Error(), "secret")
}

func TestClassifyError_Gates(t *testing.T) {
	t.Parallel()

	got := classifyError(ident.Check("table", "1abc"), time.Second)
	assert.Equal(t, KindInvalidIdentifier, got.Kind)

	got = classifyError(&sqlguard.Rejection{Reason: sqlguard.ReasonDangerousKeyword, Keyword: "drop"}, time.Second)
	assert.Equal(t, KindDangerousKeyword, got.Kind)
	assert.Equal(t, "drop", got.Keyword)

	got = classifyError(&sqlguard.Rejection{Reason: sqlguard.ReasonInvalidLimit, Detail: "limit must be >= 0"}, time.Second)
	assert.Equal(t, KindInvalidArgument, got.Kind)

	got = classifyError(&protection.Violation{Rule: protection.RuleInto, Keyword: "into", Message: "SELECT INTO is not allowed"}, time.Second)
	assert.Equal(t, KindDangerousKeyword, got.Kind)

	got = classifyError(&protection.Violation{Rule: protection.RuleNotSelect, Message: "only SELECT"}, time.Second)
	assert.Equal(t, KindNotASelectStatement, got.Kind)

	got = classifyError(&protection.Violation{Rule: protection.RuleStatementCount, Message: "one statement"}, time.Second)
	assert.Equal(t, KindMultipleStatements, got.Kind)
}

func TestClassifyError_PassesThroughError(t *testing.T) {
	t.Parallel()
	orig := newError(KindInvalidArgument, "offset must be >= 0")
	assert.Same(t, orig, classifyError(fmt.Errorf("wrap: %w", orig), time.Second))
	assert.Nil(t, classifyError(nil, time.Second))
}

func TestIsConnError(t *testing.T) {
	t.Parallel()
	assert.False(t, isConnError(nil))
	assert.False(t, isConnError(context.DeadlineExceeded))
	assert.False(t, isConnError(fmt.Errorf("%w: canceled", context.Canceled)))
	assert.False(t, isConnError(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, isConnError(&pgconn.PgError{Code: "57P01"}))
	assert.True(t, isConnError(io.ErrUnexpectedEOF))
}
