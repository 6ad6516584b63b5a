package pgscope

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

// typeHistogramSQL groups columns by type name without modifiers, so
// varchar(20) and varchar(100) share the "character varying" bucket.
const typeHistogramSQL = `
SELECT pg_catalog.format_type(a.atttypid, NULL) AS type,
       count(*)::int AS count
FROM pg_catalog.pg_attribute a
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
GROUP BY 1
ORDER BY 2 DESC, 1;
`

const sizesSQL = `
SELECT pg_catalog.pg_total_relation_size($1::regclass),
       pg_catalog.pg_relation_size($1::regclass),
       pg_catalog.pg_indexes_size($1::regclass),
       pg_catalog.pg_size_pretty(pg_catalog.pg_total_relation_size($1::regclass)),
       pg_catalog.pg_size_pretty(pg_catalog.pg_relation_size($1::regclass)),
       pg_catalog.pg_size_pretty(pg_catalog.pg_indexes_size($1::regclass));
`

// GetTableStats returns the exact row count, column count, a histogram of
// column types and on-disk sizes of a relation. Sizes are nil for relations
// without storage of their own.
func (e *Explorer) GetTableStats(ctx context.Context, input TableStatsInput) (*TableStatsOutput, error) {
	startTime := time.Now()
	schema := resolveSchema(input.Schema)
	ctx, span := e.startOp(ctx, OpGetTableStats,
		attribute.String("db.schema", schema), attribute.String("db.table", input.Table))
	budget := e.timeoutMgr.Catalog()

	if err := checkTableName(schema, input.Table); err != nil {
		return nil, e.fail(OpGetTableStats, span, startTime, err, budget)
	}

	output := &TableStatsOutput{Schema: schema, Table: input.Table}
	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		rel, err := lookupRelation(ctx, tx, schema, input.Table)
		if err != nil {
			return err
		}
		output.Type = rel.Type

		if err := tx.QueryRow(ctx, "SELECT count(*) FROM "+rel.QualName).Scan(&output.RowCount); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, typeHistogramSQL, rel.QualName)
		if err != nil {
			return err
		}
		output.ColumnTypes, err = pgx.CollectRows(rows, pgx.RowToStructByPos[TypeCount])
		if err != nil {
			return err
		}
		if output.ColumnTypes == nil {
			output.ColumnTypes = []TypeCount{}
		}
		for _, tc := range output.ColumnTypes {
			output.ColumnCount += tc.Count
		}

		if !rel.hasStorage() {
			return nil
		}
		var total, table, indexes int64
		var totalPretty, tablePretty, indexesPretty string
		if err := tx.QueryRow(ctx, sizesSQL, rel.QualName).Scan(
			&total, &table, &indexes, &totalPretty, &tablePretty, &indexesPretty); err != nil {
			return err
		}
		output.TotalBytes, output.TableBytes, output.IndexesBytes = &total, &table, &indexes
		output.TotalSizePretty, output.TableSizePretty, output.IndexSizePretty = &totalPretty, &tablePretty, &indexesPretty
		return nil
	})
	if err != nil {
		return nil, e.fail(OpGetTableStats, span, startTime, err, budget)
	}

	e.logger.Info().
		Str("schema", schema).
		Str("table", input.Table).
		Dur("duration", time.Since(startTime)).
		Int64("row_count", output.RowCount).
		Int("column_count", output.ColumnCount).
		Msg("GetTableStats executed")
	e.succeed(OpGetTableStats, span, startTime, -1)

	return output, nil
}
