//go:build integration

package pgscope_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	"github.com/rickchristie/pgscope"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgscope.Config {
	return pgscope.Config{
		Pool: pgscope.PoolConfig{MaxConns: 5},
		Query: pgscope.QueryConfig{
			DefaultTimeoutSeconds: 30,
			CatalogTimeoutSeconds: 10,
		},
	}
}

func intPtr(v int) *int { return &v }

// seedDB runs setup statements on a plain connection. The Explorer itself
// cannot write.
func seedDB(t *testing.T, connStr string, stmts ...string) {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("seed connect failed: %v", err)
	}
	defer conn.Close(ctx)
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed statement failed: %v\n%s", err, stmt)
		}
	}
}

// newTestExplorer seeds a fresh database and returns an Explorer on it.
func newTestExplorer(t *testing.T, config pgscope.Config, seed ...string) (*pgscope.Explorer, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	seedDB(t, connStr, seed...)

	ctx := context.Background()
	e, err := pgscope.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Explorer: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e, connStr
}

// departmentsSeed creates the 8-row departments table used across tests.
var departmentsSeed = []string{
	`CREATE TABLE departments (
		id serial PRIMARY KEY,
		name varchar(100) NOT NULL UNIQUE,
		budget numeric(12,2),
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`INSERT INTO departments (name, budget) VALUES
		('Engineering', 1500000.00), ('Sales', 800000.50), ('Marketing', 400000),
		('Finance', 300000), ('Legal', 250000), ('Support', 200000),
		('Operations', 650000.25), ('Research', NULL)`,
}

// requireKind fails unless err is a *pgscope.Error of the given kind.
func requireKind(t *testing.T, err error, kind pgscope.ErrorKind) *pgscope.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	pe, ok := err.(*pgscope.Error)
	if !ok {
		t.Fatalf("expected *pgscope.Error, got %T: %v", err, err)
	}
	if pe.Kind != kind {
		t.Fatalf("expected kind %s, got %s: %s", kind, pe.Kind, pe.Message)
	}
	return pe
}

// createRoleSQL creates a cluster-wide role if missing. Roles outlive the
// locked test database, so an existing one is reused.
func createRoleSQL(name string) string {
	return `DO $$ BEGIN
		CREATE ROLE ` + name + ` NOLOGIN;
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`
}
