package pgscope

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rickchristie/pgscope/internal/ident"
)

// ReadTable returns one page of a table's rows together with its exact row
// count. Rows are ordered by primary key when the table has one; otherwise
// the order is whatever the server returns.
func (e *Explorer) ReadTable(ctx context.Context, input ReadTableInput) (*ReadTableOutput, error) {
	startTime := time.Now()
	schema := resolveSchema(input.Schema)
	ctx, span := e.startOp(ctx, OpReadTable,
		attribute.String("db.schema", schema), attribute.String("db.table", input.Table))
	budget := e.timeoutMgr.GetTimeout("")

	if err := checkTableName(schema, input.Table); err != nil {
		return nil, e.fail(OpReadTable, span, startTime, err, budget)
	}
	if input.Limit != nil && *input.Limit < 0 {
		return nil, e.fail(OpReadTable, span, startTime, newError(KindInvalidArgument, "limit must be >= 0"), budget)
	}
	if input.Offset < 0 {
		return nil, e.fail(OpReadTable, span, startTime, newError(KindInvalidArgument, "offset must be >= 0"), budget)
	}
	limit := e.classifier.ClampLimit(input.Limit)
	budget, timeoutRule := e.timeoutMgr.GetTimeoutWithPattern(pageSQL(ident.Qualify(schema, input.Table), nil))

	var (
		columns []string
		rows    []map[string]any
		total   int64
	)
	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		rel, err := lookupRelation(ctx, tx, schema, input.Table)
		if err != nil {
			return err
		}
		pk, err := primaryKeyColumns(ctx, tx, rel)
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, "SELECT count(*) FROM "+rel.QualName).Scan(&total); err != nil {
			return err
		}

		result, err := tx.Query(ctx, pageSQL(rel.QualName, pk), limit, input.Offset)
		if err != nil {
			return err
		}
		columns, rows, err = collectRows(result)
		return err
	})
	if err != nil {
		return nil, e.fail(OpReadTable, span, startTime, err, budget)
	}

	sanitized := e.sanitizer.SanitizeRows(rows)
	rows, truncated := truncateRows(rows, e.config.Query.MaxResultLength)

	output := &ReadTableOutput{
		Schema: schema,
		Table:  input.Table,
		ResultSet: ResultSet{
			Columns:      columns,
			TotalRows:    &total,
			ReturnedRows: len(rows),
			Rows:         rows,
			Limit:        &limit,
			Offset:       input.Offset,
			Truncated:    truncated,
		},
	}

	logEvent := e.logger.Info().
		Str("schema", schema).
		Str("table", input.Table).
		Int("limit", limit).
		Int("offset", input.Offset).
		Int64("total_rows", total).
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
	logEvent.Msg("ReadTable executed")
	e.succeed(OpReadTable, span, startTime, len(rows))

	return output, nil
}

// pageSQL builds the paginated select. qualName is already quoted; pk
// columns are quoted here.
func pageSQL(qualName string, pk []string) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(qualName)
	if len(pk) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, col := range pk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(ident.Quote(col))
		}
	}
	sb.WriteString(" LIMIT $1 OFFSET $2")
	return sb.String()
}
