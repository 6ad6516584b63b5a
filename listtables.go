package pgscope

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const listTablesSQL = `
SELECT
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname = $1
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY c.relname;
`

// ListTables returns the tables, views, materialized views, foreign tables
// and partitioned tables in a schema that the current user can SELECT from.
// An unknown schema fails with TableNotFound.
func (e *Explorer) ListTables(ctx context.Context, input ListTablesInput) (*ListTablesOutput, error) {
	startTime := time.Now()
	schema := resolveSchema(input.Schema)
	ctx, span := e.startOp(ctx, OpListTables, attribute.String("db.schema", schema))
	budget := e.timeoutMgr.Catalog()

	var tables []TableEntry
	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		if err := checkSchema(ctx, tx, schema); err != nil {
			return err
		}
		var err error
		tables, err = queryTables(ctx, tx, schema)
		return err
	})
	if err != nil {
		return nil, e.fail(OpListTables, span, startTime, err, budget)
	}

	e.logger.Info().
		Str("schema", schema).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")
	e.succeed(OpListTables, span, startTime, len(tables))

	return &ListTablesOutput{Schema: schema, Tables: tables, Count: len(tables)}, nil
}

// queryTables is shared with search.
func queryTables(ctx context.Context, tx pgx.Tx, schema string) ([]TableEntry, error) {
	rows, err := tx.Query(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, err
	}
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TableEntry, error) {
		var entry TableEntry
		err := row.Scan(&entry.Name, &entry.Type, &entry.Owner)
		return entry, err
	})
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []TableEntry{}
	}
	return tables, nil
}
