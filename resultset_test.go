package pgscope

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func fields(names ...string) []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(names))
	for i, n := range names {
		fds[i] = pgconn.FieldDescription{Name: n}
	}
	return fds
}

func TestColumnNames_Duplicates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"id", "name"}, columnNames(fields("id", "name")))
	assert.Equal(t, []string{"id", "id_2", "id_3"}, columnNames(fields("id", "id", "id")))
	// An existing id_2 is not overwritten.
	assert.Equal(t, []string{"id", "id_2", "id_3"}, columnNames(fields("id", "id_2", "id")))
	assert.Equal(t, []string{"?column?", "?column?_2"}, columnNames(fields("?column?", "?column?")))
}

func TestTruncateRows(t *testing.T) {
	t.Parallel()
	rows := []map[string]any{{"a": 1}, {"a": 2}, {"a": 3}}
	// [{"a":1},{"a":2},{"a":3}] is 25 characters.
	got, truncated := truncateRows(rows, 25)
	assert.False(t, truncated)
	assert.Len(t, got, 3)

	got, truncated = truncateRows(rows, 24)
	assert.True(t, truncated)
	assert.Len(t, got, 2)

	got, truncated = truncateRows(rows, 5)
	assert.True(t, truncated)
	assert.Empty(t, got)

	got, truncated = truncateRows([]map[string]any{}, 2)
	assert.False(t, truncated)
	assert.Empty(t, got)
}

func TestTruncateRows_CountsCharacters(t *testing.T) {
	t.Parallel()
	rows := []map[string]any{{"s": "ééé"}}
	// {"s":"ééé"} plus brackets is 13 characters but 16 bytes.
	got, truncated := truncateRows(rows, 13)
	assert.False(t, truncated)
	assert.Len(t, got, 1)
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncateForLog("short", 10))
	got := truncateForLog(strings.Repeat("a", 20), 10)
	assert.Equal(t, strings.Repeat("a", 10)+"...[truncated]", got)
	// Never split a multi-byte rune.
	got = truncateForLog("aé"+strings.Repeat("b", 10), 2)
	assert.Equal(t, "a...[truncated]", got)
}

func TestPageSQL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `SELECT * FROM "public"."t" LIMIT $1 OFFSET $2`, pageSQL(`"public"."t"`, nil))
	assert.Equal(t, `SELECT * FROM "public"."t" ORDER BY "a", "B" LIMIT $1 OFFSET $2`,
		pageSQL(`"public"."t"`, []string{"a", "B"}))
}

func TestMatchNames(t *testing.T) {
	t.Parallel()
	tables := []TableEntry{{Name: "user_roles"}, {Name: "Applications"}, {Name: "users"}, {Name: "orders"}}
	columns := []ColumnMatch{
		{Table: "orders", Column: "user_id", Type: "integer"},
		{Table: "audit", Column: "created_by_user", Type: "text"},
		{Table: "orders", Column: "total", Type: "numeric"},
		{Table: "orders", Column: "user_id", Type: "integer"},
	}

	gotTables, gotColumns := matchNames("user", tables, columns)
	assert.Equal(t, []string{"user_roles", "users"}, gotTables)
	assert.Equal(t, []ColumnMatch{
		{Table: "audit", Column: "created_by_user", Type: "text"},
		{Table: "orders", Column: "user_id", Type: "integer"},
	}, gotColumns)

	gotTables, _ = matchNames("applic", tables, nil)
	assert.Equal(t, []string{"Applications"}, gotTables)

	gotTables, gotColumns = matchNames("zzz", tables, columns)
	assert.Empty(t, gotTables)
	assert.Empty(t, gotColumns)
}
