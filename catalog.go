package pgscope

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/pgscope/internal/ident"
)

// relkindNames maps pg_class.relkind to the type names used in outputs.
var relkindNames = map[string]string{
	"r": "table",
	"v": "view",
	"m": "materialized_view",
	"f": "foreign_table",
	"p": "partitioned_table",
}

// relationSQL resolves a quoted, schema-qualified name. to_regclass returns
// NULL instead of raising for a missing relation.
const relationSQL = `
SELECT c.relkind::text
FROM pg_catalog.pg_class c
WHERE c.oid = pg_catalog.to_regclass($1)
  AND c.relkind IN ('r', 'v', 'm', 'f', 'p');
`

const primaryKeySQL = `
SELECT a.attname
FROM pg_catalog.pg_index i
CROSS JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE i.indrelid = $1::regclass
  AND i.indisprimary
ORDER BY k.ord;
`

// relation is a table-like object found in the catalog.
type relation struct {
	Schema   string
	Name     string
	Relkind  string
	Type     string
	QualName string // quoted "schema"."name", safe to interpolate
}

// hasStorage reports whether the relation has heap storage of its own.
func (r *relation) hasStorage() bool {
	return r.Relkind == "r" || r.Relkind == "m" || r.Relkind == "p"
}

// resolveSchema applies the default schema.
func resolveSchema(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return DefaultSchema
	}
	return schema
}

// checkTableName validates the identifiers of a table-targeting call.
func checkTableName(schema, table string) error {
	if table == "" {
		return newError(KindInvalidArgument, "table name is required")
	}
	if err := ident.Check("schema", schema); err != nil {
		return err
	}
	return ident.Check("table", table)
}

const schemaExistsSQL = `SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1`

// checkSchema returns a TableNotFound *Error naming schema when it does not
// exist.
func checkSchema(ctx context.Context, tx pgx.Tx, schema string) error {
	var one int
	err := tx.QueryRow(ctx, schemaExistsSQL, schema).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemaNotFound(schema)
	}
	if err != nil {
		return fmt.Errorf("failed to look up schema: %w", err)
	}
	return nil
}

// lookupRelation returns the relation, or a TableNotFound *Error.
func lookupRelation(ctx context.Context, tx pgx.Tx, schema, table string) (*relation, error) {
	qualName := ident.Qualify(schema, table)
	var relkind string
	err := tx.QueryRow(ctx, relationSQL, qualName).Scan(&relkind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tableNotFound(schema, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up relation: %w", err)
	}
	return &relation{
		Schema:   schema,
		Name:     table,
		Relkind:  relkind,
		Type:     relkindNames[relkind],
		QualName: qualName,
	}, nil
}

// primaryKeyColumns returns the primary key columns in key order.
func primaryKeyColumns(ctx context.Context, tx pgx.Tx, rel *relation) ([]string, error) {
	rows, err := tx.Query(ctx, primaryKeySQL, rel.QualName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch primary key: %w", err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan primary key: %w", err)
	}
	return cols, nil
}
