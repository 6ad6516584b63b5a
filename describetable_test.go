//go:build integration

package pgscope_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rickchristie/pgscope"
)

func describe(t *testing.T, e *pgscope.Explorer, schema, table string) *pgscope.DescribeTableOutput {
	t.Helper()
	output, err := e.DescribeTable(context.Background(), pgscope.DescribeTableInput{Table: table, Schema: schema})
	if err != nil {
		t.Fatalf("DescribeTable(%s.%s): %v", schema, table, err)
	}
	return output
}

func columnByName(t *testing.T, output *pgscope.DescribeTableOutput, name string) pgscope.ColumnInfo {
	t.Helper()
	for _, col := range output.Columns {
		if col.Name == name {
			return col
		}
	}
	t.Fatalf("column %q not found in %+v", name, output.Columns)
	return pgscope.ColumnInfo{}
}

func TestDescribeTable_Columns(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE TYPE mood AS ENUM ('sad', 'ok', 'happy')",
		`CREATE TABLE users (
			id serial PRIMARY KEY,
			name varchar(100) NOT NULL,
			email text,
			age integer DEFAULT 0,
			balance numeric(10,2),
			tags text[],
			feeling mood
		)`,
	)

	output := describe(t, e, "", "users")
	if output.Type != "table" || output.Schema != "public" || output.Name != "users" {
		t.Fatalf("unexpected header: %+v", output)
	}
	if len(output.Columns) != 7 {
		t.Fatalf("expected 7 columns, got %d", len(output.Columns))
	}
	for i, col := range output.Columns {
		if col.Position != i+1 {
			t.Errorf("column %s: expected position %d, got %d", col.Name, i+1, col.Position)
		}
	}

	id := columnByName(t, output, "id")
	if !id.IsPrimaryKey || id.Type != "integer" || id.Nullable {
		t.Errorf("unexpected id column: %+v", id)
	}
	if id.Default == nil || !strings.Contains(*id.Default, "nextval") {
		t.Errorf("expected serial default on id, got %v", id.Default)
	}

	name := columnByName(t, output, "name")
	if name.Type != "character varying" || name.Nullable {
		t.Errorf("unexpected name column: %+v", name)
	}
	if name.MaxLength == nil || *name.MaxLength != 100 {
		t.Errorf("expected max_length 100, got %v", name.MaxLength)
	}

	email := columnByName(t, output, "email")
	if email.Default != nil {
		t.Errorf("expected nil default for email, got %q", *email.Default)
	}
	if !email.Nullable || email.IsPrimaryKey {
		t.Errorf("unexpected email column: %+v", email)
	}

	balance := columnByName(t, output, "balance")
	if balance.NumericPrecision == nil || *balance.NumericPrecision != 10 ||
		balance.NumericScale == nil || *balance.NumericScale != 2 {
		t.Errorf("expected numeric(10,2), got %+v", balance)
	}

	if got := columnByName(t, output, "tags").Type; got != "text[]" {
		t.Errorf("expected text[] for tags, got %q", got)
	}
	if got := columnByName(t, output, "feeling").Type; got != "mood" {
		t.Errorf("expected mood for feeling, got %q", got)
	}
}

func TestDescribeTable_IndexesAndConstraints(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		`CREATE TABLE bookings (
			id serial PRIMARY KEY,
			code text UNIQUE,
			seats int CHECK (seats > 0),
			during tsrange,
			EXCLUDE USING gist (during WITH &&)
		)`,
		"CREATE INDEX bookings_seats_idx ON bookings (seats)",
	)

	output := describe(t, e, "public", "bookings")

	types := map[string]bool{}
	for _, con := range output.Constraints {
		types[con.Type] = true
		if con.Name == "" || con.Definition == "" {
			t.Errorf("constraint missing name or definition: %+v", con)
		}
	}
	for _, want := range []string{"PRIMARY KEY", "UNIQUE", "CHECK", "EXCLUDE"} {
		if !types[want] {
			t.Errorf("expected %s constraint, got %+v", want, output.Constraints)
		}
	}

	var foundPK, foundSeats bool
	for _, idx := range output.Indexes {
		if idx.IsPrimary {
			foundPK = true
			if !idx.IsUnique {
				t.Error("primary key index must be unique")
			}
		}
		if idx.Name == "bookings_seats_idx" {
			foundSeats = true
			if !strings.Contains(idx.Definition, "(seats)") {
				t.Errorf("unexpected index definition %q", idx.Definition)
			}
		}
	}
	if !foundPK || !foundSeats {
		t.Fatalf("expected primary key and seats indexes, got %+v", output.Indexes)
	}
	if output.Definition != "" {
		t.Errorf("expected no definition for a table, got %q", output.Definition)
	}
}

func TestDescribeTable_ForeignKeys(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE SCHEMA hr",
		"CREATE TABLE hr.departments (id int PRIMARY KEY)",
		`CREATE TABLE employees (
			id serial PRIMARY KEY,
			department_id int REFERENCES hr.departments(id) ON DELETE CASCADE
		)`,
	)

	output := describe(t, e, "", "employees")
	if len(output.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %+v", output.ForeignKeys)
	}
	fk := output.ForeignKeys[0]
	if fk.Columns != "department_id" || fk.ReferencedTable != "hr.departments" || fk.ReferencedColumns != "id" {
		t.Errorf("unexpected foreign key: %+v", fk)
	}
	if fk.OnDelete != "CASCADE" || fk.OnUpdate != "NO ACTION" {
		t.Errorf("unexpected actions: %+v", fk)
	}
}

func TestDescribeTable_View(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE TABLE base (id int PRIMARY KEY, name text)",
		"CREATE VIEW named AS SELECT id, name FROM base WHERE name IS NOT NULL",
	)

	output := describe(t, e, "", "named")
	if output.Type != "view" {
		t.Fatalf("expected view, got %q", output.Type)
	}
	if !strings.Contains(output.Definition, "IS NOT NULL") {
		t.Errorf("expected view definition, got %q", output.Definition)
	}
	if len(output.Columns) != 2 || len(output.Indexes) != 0 || len(output.Constraints) != 0 {
		t.Errorf("unexpected view details: %+v", output)
	}
}

func TestDescribeTable_MaterializedView(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE TABLE base (id int PRIMARY KEY, amount numeric)",
		"CREATE MATERIALIZED VIEW totals AS SELECT id, amount * 2 AS doubled FROM base",
		"CREATE UNIQUE INDEX totals_id ON totals (id)",
	)

	output := describe(t, e, "", "totals")
	if output.Type != "materialized_view" {
		t.Fatalf("expected materialized_view, got %q", output.Type)
	}
	if len(output.Columns) != 2 || output.Columns[1].Name != "doubled" || output.Columns[1].Position != 2 {
		t.Errorf("unexpected columns: %+v", output.Columns)
	}
	if len(output.Indexes) != 1 || !output.Indexes[0].IsUnique {
		t.Errorf("expected unique index, got %+v", output.Indexes)
	}
	if output.Definition == "" {
		t.Error("expected materialized view definition")
	}
}

func TestDescribeTable_Partitioning(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE TABLE measurements (id int, region text, taken date) PARTITION BY LIST (region)",
		"CREATE TABLE measurements_eu PARTITION OF measurements FOR VALUES IN ('eu')",
		"CREATE TABLE measurements_us PARTITION OF measurements FOR VALUES IN ('us')",
	)

	parent := describe(t, e, "", "measurements")
	if parent.Type != "partitioned_table" || parent.Partition == nil {
		t.Fatalf("expected partition info, got %+v", parent)
	}
	if parent.Partition.Strategy != "list" || !strings.Contains(parent.Partition.PartitionKey, "region") {
		t.Errorf("unexpected partition info: %+v", parent.Partition)
	}
	if strings.Join(parent.Partition.Partitions, ",") != "measurements_eu,measurements_us" {
		t.Errorf("unexpected partitions: %v", parent.Partition.Partitions)
	}

	child := describe(t, e, "", "measurements_eu")
	if child.Partition == nil || child.Partition.ParentTable != "measurements" {
		t.Fatalf("expected parent table, got %+v", child.Partition)
	}
}

func TestDescribeTable_SchemaQualified(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(),
		"CREATE SCHEMA sales",
		"CREATE TABLE sales.leads (id int PRIMARY KEY, score int)",
		"CREATE TABLE public.leads (id int)",
	)

	output := describe(t, e, "sales", "leads")
	if output.Schema != "sales" || len(output.Columns) != 2 {
		t.Fatalf("expected sales.leads with 2 columns, got %+v", output)
	}
	public := describe(t, e, "", "leads")
	if len(public.Columns) != 1 {
		t.Fatalf("expected public.leads with 1 column, got %+v", public.Columns)
	}
}

func TestDescribeTable_NotFound(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig())

	_, err := e.DescribeTable(context.Background(), pgscope.DescribeTableInput{Table: "nonexistent_table"})
	requireKind(t, err, pgscope.KindTableNotFound)
	if !errors.Is(err, pgscope.ErrTableNotFound) {
		t.Fatal("expected errors.Is(err, ErrTableNotFound)")
	}
}

func TestDescribeTable_InvalidIdentifier(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig())

	for _, name := range []string{`users"; DROP TABLE x; --`, "1users", "select", strings.Repeat("a", 64)} {
		_, err := e.DescribeTable(context.Background(), pgscope.DescribeTableInput{Table: name})
		requireKind(t, err, pgscope.KindInvalidIdentifier)
	}
	_, err := e.DescribeTable(context.Background(), pgscope.DescribeTableInput{Table: "users", Schema: "bad schema"})
	requireKind(t, err, pgscope.KindInvalidIdentifier)
}

func TestDescribeTable_Idempotent(t *testing.T) {
	t.Parallel()
	e, _ := newTestExplorer(t, defaultConfig(), departmentsSeed...)

	first := describe(t, e, "", "departments")
	second := describe(t, e, "", "departments")
	if len(first.Columns) != len(second.Columns) || len(first.Indexes) != len(second.Indexes) ||
		len(first.Constraints) != len(second.Constraints) {
		t.Fatalf("describe results differ:\n%+v\n%+v", first, second)
	}
	for i := range first.Columns {
		if first.Columns[i].Name != second.Columns[i].Name || first.Columns[i].Type != second.Columns[i].Type {
			t.Fatalf("column %d differs: %+v vs %+v", i, first.Columns[i], second.Columns[i])
		}
	}
}
