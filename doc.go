// Package pgscope gives AI agents and other programs a read-only view of a
// PostgreSQL database, exposed as Go methods and as Model Context Protocol
// (MCP) tools.
//
// Six operations are provided: ListTables, DescribeTable, ReadTable,
// ExecuteQuery, GetTableStats and SearchTables. Each one acquires a single
// pooled connection, runs inside a READ ONLY transaction that is always
// rolled back, and returns either a JSON-friendly output struct or an
// [*Error] with a [ErrorKind].
//
// Caller SQL passed to ExecuteQuery goes through two gates. A text-level
// classifier accepts only a single statement whose first word is SELECT and
// that contains no blocked keyword outside strings and comments; it appends
// a LIMIT when the statement has none. The rewritten statement is then parsed
// with PostgreSQL's own parser (pg_query) and rejected if the tree contains
// anything other than a plain SELECT. Schema and table names are validated
// before they are interpolated into generated SQL.
//
// # Library Usage
//
//	e, err := pgscope.New(ctx, connString, pgscope.Config{
//		Pool:  pgscope.PoolConfig{MaxConns: 10},
//		Query: pgscope.QueryConfig{DefaultLimit: 50},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer e.Close(ctx)
//
//	out, err := e.ExecuteQuery(ctx, pgscope.ExecuteQueryInput{SQL: "SELECT * FROM users"})
//	if errors.Is(err, pgscope.ErrDangerousKeyword) {
//		// ...
//	}
//
//	// Or register as MCP tools
//	pgscope.RegisterMCPTools(mcpServer, e)
//
// Values are converted by column type: numeric stays a decimal string,
// timestamps keep their zone, intervals become ISO-8601 durations and bytea
// is rendered in PostgreSQL's \x hex form.
package pgscope
