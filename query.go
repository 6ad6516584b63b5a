package pgscope

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rickchristie/pgscope/internal/protection"
	"github.com/rickchristie/pgscope/internal/sqlguard"
)

// ExecuteQuery runs one caller-supplied SELECT.
//
// The statement goes through the text classifier (first word must be SELECT,
// no blocked keywords, one statement), gets a LIMIT appended when it has none
// at the top level, is verified against the PostgreSQL parse tree, and runs
// in a read-only transaction under the matching timeout rule. Rows are
// sanitized and the payload is truncated to Query.MaxResultLength.
func (e *Explorer) ExecuteQuery(ctx context.Context, input ExecuteQueryInput) (*ExecuteQueryOutput, error) {
	startTime := time.Now()
	ctx, span := e.startOp(ctx, OpExecuteQuery, attribute.Int("db.query.length", len(input.SQL)))
	budget := e.timeoutMgr.GetTimeout(input.SQL)

	if len(input.SQL) > e.config.Query.MaxSQLLength {
		err := newError(KindInvalidArgument, "SQL query too long: %d bytes exceeds maximum of %d bytes",
			len(input.SQL), e.config.Query.MaxSQLLength)
		return nil, e.fail(OpExecuteQuery, span, startTime, err, budget)
	}

	st := e.classifier.Classify(input.SQL, input.Limit)
	if st.Class == sqlguard.Rejected {
		e.metrics.StatementRejected(string(st.Rejection.Reason))
		e.logStatement(st, startTime)
		return nil, e.fail(OpExecuteQuery, span, startTime, st.Rejection, budget)
	}

	if err := e.protection.Check(st.Rewritten, st.LimitApplied); err != nil {
		var v *protection.Violation
		if errors.As(err, &v) {
			e.metrics.StatementRejected("ast_" + string(v.Rule))
		}
		st.State = sqlguard.StateRejected
		e.logStatement(st, startTime)
		return nil, e.fail(OpExecuteQuery, span, startTime, err, budget)
	}

	budget, timeoutRule := e.timeoutMgr.GetTimeoutWithPattern(st.Normalized)
	span.SetAttributes(attribute.Bool("pgscope.limit_applied", st.LimitApplied))

	var (
		columns []string
		rows    []map[string]any
		total   *int64
	)
	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		if input.CountTotal {
			var n int64
			if err := tx.QueryRow(ctx, "SELECT count(*) FROM (\n"+st.Body+"\n) AS pgscope_count").Scan(&n); err != nil {
				return err
			}
			total = &n
		}

		result, err := tx.Query(ctx, st.Rewritten)
		if err != nil {
			return err
		}
		st.State = sqlguard.StateExecuted
		columns, rows, err = collectRows(result)
		return err
	})
	if err != nil {
		st.State = sqlguard.StateFailed
		e.logStatement(st, startTime)
		return nil, e.fail(OpExecuteQuery, span, startTime, err, budget)
	}
	st.State = sqlguard.StateSucceeded

	sanitized := e.sanitizer.SanitizeRows(rows)
	rows, truncated := truncateRows(rows, e.config.Query.MaxResultLength)

	output := &ExecuteQueryOutput{
		SQL:          st.Rewritten,
		LimitApplied: st.LimitApplied,
		ResultSet: ResultSet{
			Columns:      columns,
			TotalRows:    total,
			ReturnedRows: len(rows),
			Rows:         rows,
			Truncated:    truncated,
		},
	}
	if st.LimitApplied {
		limit := st.AppliedLimit
		output.Limit = &limit
	}

	logEvent := e.logger.Info().
		Str("sql", truncateForLog(st.Rewritten, 200)).
		Str("state", string(st.State)).
		Bool("limit_applied", st.LimitApplied).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(rows))
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized > 0 {
		logEvent = logEvent.Int("sanitized_values", sanitized)
	}
	if truncated {
		logEvent = logEvent.Bool("truncated", true)
	}
	logEvent.Msg("query executed")
	e.succeed(OpExecuteQuery, span, startTime, len(rows))

	return output, nil
}

// logStatement records a statement that did not complete.
func (e *Explorer) logStatement(st *sqlguard.Statement, startTime time.Time) {
	logEvent := e.logger.Debug().
		Str("sql", truncateForLog(st.Raw, 200)).
		Str("state", string(st.State)).
		Dur("duration", time.Since(startTime))
	if st.Rejection != nil {
		logEvent = logEvent.Str("reason", string(st.Rejection.Reason))
	}
	logEvent.Msg("statement stopped")
}
