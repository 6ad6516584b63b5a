package pgscope

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const schemaColumnsSQL = `
SELECT
    c.table_name,
    c.column_name,
    CASE c.data_type
        WHEN 'USER-DEFINED' THEN c.udt_name
        WHEN 'ARRAY' THEN substr(c.udt_name, 2) || '[]'
        ELSE c.data_type
    END AS type
FROM information_schema.columns c
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position;
`

// SearchTables finds tables and columns in a schema whose names contain the
// term, case-insensitively. A blank term returns empty results without
// touching the database.
func (e *Explorer) SearchTables(ctx context.Context, input SearchTablesInput) (*SearchTablesOutput, error) {
	startTime := time.Now()
	schema := resolveSchema(input.Schema)
	ctx, span := e.startOp(ctx, OpSearchTables, attribute.String("db.schema", schema))
	budget := e.timeoutMgr.Catalog()

	output := &SearchTablesOutput{
		Schema:  schema,
		Term:    input.Term,
		Tables:  []string{},
		Columns: []ColumnMatch{},
	}
	term := strings.ToLower(strings.TrimSpace(input.Term))
	if term == "" {
		e.succeed(OpSearchTables, span, startTime, -1)
		return output, nil
	}

	var (
		tables  []TableEntry
		columns []ColumnMatch
	)
	err := e.withReadOnlyTx(ctx, budget, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		if tables, err = queryTables(ctx, tx, schema); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, schemaColumnsSQL, schema)
		if err != nil {
			return err
		}
		columns, err = pgx.CollectRows(rows, pgx.RowToStructByPos[ColumnMatch])
		return err
	})
	if err != nil {
		return nil, e.fail(OpSearchTables, span, startTime, err, budget)
	}

	output.Tables, output.Columns = matchNames(term, tables, columns)

	e.logger.Info().
		Str("schema", schema).
		Str("term", input.Term).
		Dur("duration", time.Since(startTime)).
		Int("table_matches", len(output.Tables)).
		Int("column_matches", len(output.Columns)).
		Msg("SearchTables executed")
	e.succeed(OpSearchTables, span, startTime, -1)

	return output, nil
}

// matchNames filters by lower-cased substring, deduplicates and sorts.
func matchNames(term string, tables []TableEntry, columns []ColumnMatch) ([]string, []ColumnMatch) {
	seenTables := make(map[string]bool)
	matchedTables := []string{}
	for _, t := range tables {
		if strings.Contains(strings.ToLower(t.Name), term) && !seenTables[t.Name] {
			seenTables[t.Name] = true
			matchedTables = append(matchedTables, t.Name)
		}
	}
	sort.Strings(matchedTables)

	seenColumns := make(map[ColumnMatch]bool)
	matchedColumns := []ColumnMatch{}
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c.Column), term) && !seenColumns[c] {
			seenColumns[c] = true
			matchedColumns = append(matchedColumns, c)
		}
	}
	sort.Slice(matchedColumns, func(i, j int) bool {
		if matchedColumns[i].Table != matchedColumns[j].Table {
			return matchedColumns[i].Table < matchedColumns[j].Table
		}
		return matchedColumns[i].Column < matchedColumns[j].Column
	})
	return matchedTables, matchedColumns
}
