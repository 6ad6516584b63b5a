package pgscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

// SQL queries for DescribeTable

const columnsSQL = `
SELECT
    c.column_name AS name,
    CASE c.data_type
        WHEN 'USER-DEFINED' THEN c.udt_name
        WHEN 'ARRAY' THEN substr(c.udt_name, 2) || '[]'
        ELSE c.data_type
    END AS type,
    c.is_nullable = 'YES' AS nullable,
    c.column_default AS default_val,
    c.ordinal_position AS position,
    pk.column_name IS NOT NULL AS is_primary_key,
    c.character_maximum_length,
    c.numeric_precision,
    c.numeric_scale
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
        AND tc.table_schema = kcu.table_schema
        AND tc.table_name = kcu.table_name
    WHERE tc.constraint_type = 'PRIMARY KEY'
        AND tc.table_schema = $1
        AND tc.table_name = $2
) pk ON pk.column_name = c.column_name
WHERE c.table_schema = $1
    AND c.table_name = $2
ORDER BY c.ordinal_position;
`

// Materialized views are not in information_schema.columns.
const matviewColumnsSQL = `
SELECT a.attname AS name,
       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
       NOT a.attnotnull AS nullable,
       pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS default_val,
       a.attnum::int AS position
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON (a.attrelid = d.adrelid AND a.attnum = d.adnum)
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const viewDefSQL = `
SELECT pg_catalog.pg_get_viewdef($1::regclass, true) AS definition;
`

const indexesSQL = `
SELECT
    ic.relname AS name,
    pg_catalog.pg_get_indexdef(i.indexrelid) AS definition,
    i.indisunique AS is_unique,
    i.indisprimary AS is_primary
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
WHERE i.indrelid = $1::regclass
ORDER BY ic.relname;
`

const constraintsSQL = `
SELECT
    con.conname AS name,
    CASE con.contype
        WHEN 'p' THEN 'PRIMARY KEY'
        WHEN 'f' THEN 'FOREIGN KEY'
        WHEN 'u' THEN 'UNIQUE'
        WHEN 'c' THEN 'CHECK'
        WHEN 'x' THEN 'EXCLUDE'
        ELSE con.contype::text
    END AS type,
    pg_catalog.pg_get_constraintdef(con.oid, true) AS definition
FROM pg_catalog.pg_constraint con
WHERE con.conrelid = $1::regclass
ORDER BY con.conname;
`

const foreignKeysSQL = `
SELECT
    con.conname AS name,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)
    ) AS columns,
    fn.nspname || '.' || fc.relname AS referenced_table,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY(con.confkey)
    ) AS referenced_columns,
    CASE con.confupdtype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_update,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
WHERE con.contype = 'f'
  AND con.conrelid = $1::regclass
ORDER BY con.conname;
`

const partitionInfoSQL = `
SELECT pg_catalog.pg_get_partkeydef(c.oid) AS partition_key,
       pt.partstrat::text AS strategy
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_partitioned_table pt ON pt.partrelid = c.oid
WHERE c.oid = $1::regclass;
`

const childPartitionsSQL = `
SELECT c.relname AS partition_name
FROM pg_catalog.pg_inherits i
JOIN pg_catalog.pg_class c ON c.oid = i.inhrelid
WHERE i.inhparent = $1::regclass
ORDER BY c.relname;
`

const parentTableSQL = `
SELECT pc.relname AS parent_table,
       pn.nspname AS parent_schema
FROM pg_catalog.pg_inherits i
JOIN pg_catalog.pg_class pc ON pc.oid = i.inhparent
JOIN pg_catalog.pg_namespace pn ON pn.oid = pc.relnamespace
WHERE i.inhrelid = $1::regclass
  AND pc.relkind = 'p';
`

var partitionStrategies = map[string]string{
	"h": "hash",
	"l": "list",
	"r": "range",
}

// DescribeTable returns columns, indexes, constraints, foreign keys, view
// definition and partitioning of one table-like relation. Everything is read
// in a single read-only transaction.
func (e *Explorer) DescribeTable(ctx context.Context, input DescribeTableInput) (*DescribeTableOutput, error) {
	startTime := time.Now()
	schema := resolveSchema(input.Schema)
	ctx, span := e.startOp(ctx, OpDescribeTable,
		attribute.String("db.schema", schema), attribute.String("db.table", input.Table))
	budget := e.timeoutMgr.Catalog()

	if err := checkTableName(schema, input.Table); err != nil {
		return nil, e.fail(OpDescribeTable, span, startTime, err, budget)
	}

	output := &DescribeTableOutput{
		Schema:      schema,
		Name:        input.Table,
		Columns:     []ColumnInfo{},
		Indexes:     []IndexInfo{},
		Constraints: []ConstraintInfo{},
		ForeignKeys: []ForeignKeyInfo{},
	}

	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		rel, err := lookupRelation(ctx, tx, schema, input.Table)
		if err != nil {
			return err
		}
		output.Type = rel.Type
		return describeRelation(ctx, tx, rel, output)
	})
	if err != nil {
		return nil, e.fail(OpDescribeTable, span, startTime, err, budget)
	}

	e.logger.Info().
		Str("schema", schema).
		Str("table", input.Table).
		Dur("duration", time.Since(startTime)).
		Str("type", output.Type).
		Int("column_count", len(output.Columns)).
		Msg("DescribeTable executed")
	e.succeed(OpDescribeTable, span, startTime, -1)

	return output, nil
}

func describeRelation(ctx context.Context, tx pgx.Tx, rel *relation, output *DescribeTableOutput) error {
	var err error
	if rel.Relkind == "m" {
		output.Columns, err = fetchMatviewColumns(ctx, tx, rel.QualName)
	} else {
		output.Columns, err = fetchColumns(ctx, tx, rel.Schema, rel.Name)
	}
	if err != nil {
		return err
	}

	if rel.Relkind == "v" || rel.Relkind == "m" {
		if err := tx.QueryRow(ctx, viewDefSQL, rel.QualName).Scan(&output.Definition); err != nil {
			return fmt.Errorf("failed to fetch view definition: %w", err)
		}
	}

	// Plain views carry no indexes or constraints.
	if rel.Relkind == "v" {
		return nil
	}
	if output.Indexes, err = fetchIndexes(ctx, tx, rel.QualName); err != nil {
		return err
	}
	if rel.Relkind == "m" {
		return nil
	}
	if output.Constraints, err = fetchConstraints(ctx, tx, rel.QualName); err != nil {
		return err
	}
	if output.ForeignKeys, err = fetchForeignKeys(ctx, tx, rel.QualName); err != nil {
		return err
	}

	if rel.Relkind == "p" {
		if err := fetchPartitionInfo(ctx, tx, rel.QualName, output); err != nil {
			return err
		}
	}
	if rel.Relkind == "r" || rel.Relkind == "p" || rel.Relkind == "f" {
		if err := fetchParentTable(ctx, tx, rel.QualName, output); err != nil {
			return err
		}
	}
	return nil
}

func fetchColumns(ctx context.Context, tx pgx.Tx, schema, table string) ([]ColumnInfo, error) {
	rows, err := tx.Query(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()

	columns := []ColumnInfo{}
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.Position, &col.IsPrimaryKey,
			&col.MaxLength, &col.NumericPrecision, &col.NumericScale); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func fetchMatviewColumns(ctx context.Context, tx pgx.Tx, qualName string) ([]ColumnInfo, error) {
	rows, err := tx.Query(ctx, matviewColumnsSQL, qualName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch materialized view columns: %w", err)
	}
	defer rows.Close()

	columns := []ColumnInfo{}
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan materialized view column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func fetchIndexes(ctx context.Context, tx pgx.Tx, qualName string) ([]IndexInfo, error) {
	rows, err := tx.Query(ctx, indexesSQL, qualName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch indexes: %w", err)
	}
	defer rows.Close()

	indexes := []IndexInfo{}
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func fetchConstraints(ctx context.Context, tx pgx.Tx, qualName string) ([]ConstraintInfo, error) {
	rows, err := tx.Query(ctx, constraintsSQL, qualName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch constraints: %w", err)
	}
	defer rows.Close()

	constraints := []ConstraintInfo{}
	for rows.Next() {
		var con ConstraintInfo
		if err := rows.Scan(&con.Name, &con.Type, &con.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		constraints = append(constraints, con)
	}
	return constraints, rows.Err()
}

func fetchForeignKeys(ctx context.Context, tx pgx.Tx, qualName string) ([]ForeignKeyInfo, error) {
	rows, err := tx.Query(ctx, foreignKeysSQL, qualName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	defer rows.Close()

	fks := []ForeignKeyInfo{}
	for rows.Next() {
		var fk ForeignKeyInfo
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &fk.OnUpdate, &fk.OnDelete); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func fetchPartitionInfo(ctx context.Context, tx pgx.Tx, qualName string, output *DescribeTableOutput) error {
	var partKey, strategy string
	err := tx.QueryRow(ctx, partitionInfoSQL, qualName).Scan(&partKey, &strategy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch partition info: %w", err)
	}
	if name, ok := partitionStrategies[strategy]; ok {
		strategy = name
	}

	rows, err := tx.Query(ctx, childPartitionsSQL, qualName)
	if err != nil {
		return fmt.Errorf("failed to fetch child partitions: %w", err)
	}
	children, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to scan child partition: %w", err)
	}

	output.Partition = &PartitionInfo{
		Strategy:     strategy,
		PartitionKey: partKey,
		Partitions:   children,
	}
	return nil
}

func fetchParentTable(ctx context.Context, tx pgx.Tx, qualName string, output *DescribeTableOutput) error {
	var parentTable, parentSchema string
	err := tx.QueryRow(ctx, parentTableSQL, qualName).Scan(&parentTable, &parentSchema)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // not a partition
	}
	if err != nil {
		return fmt.Errorf("failed to fetch parent table: %w", err)
	}

	if output.Partition == nil {
		output.Partition = &PartitionInfo{}
	}
	if parentSchema != DefaultSchema {
		output.Partition.ParentTable = parentSchema + "." + parentTable
	} else {
		output.Partition.ParentTable = parentTable
	}
	return nil
}
