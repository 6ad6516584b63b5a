package pgscope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the six read-only operations as MCP tools on
// the given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, e *Explorer) {
	listTablesTool := mcp.NewTool(OpListTables,
		mcp.WithDescription("List tables, views, materialized views, foreign tables and partitioned tables in a schema that the current user can read."),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTablesTool, e.loggedToolHandler(OpListTables, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := e.ListTables(ctx, ListTablesInput{Schema: req.GetString("schema", "")})
		return toolResult(output, err)
	}))

	describeTableTool := mcp.NewTool(OpDescribeTable,
		mcp.WithDescription("Describe a table: columns with types, nullability and defaults, indexes, constraints, foreign keys, view definition and partitioning."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(describeTableTool, e.loggedToolHandler(OpDescribeTable, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return argumentError("table_name parameter is required")
		}
		output, err := e.DescribeTable(ctx, DescribeTableInput{Table: table, Schema: req.GetString("schema", "")})
		return toolResult(output, err)
	}))

	readTableTool := mcp.NewTool(OpReadTable,
		mcp.WithDescription("Read rows from a table with pagination. Returns the rows, the total row count and the limit and offset used."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to read"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of rows to return (defaults to 100)"),
			mcp.Min(0),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of rows to skip (defaults to 0)"),
			mcp.Min(0),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(readTableTool, e.loggedToolHandler(OpReadTable, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return argumentError("table_name parameter is required")
		}
		limit, err := optionalInt(req, "limit")
		if err != nil {
			return argumentError(err.Error())
		}
		offset, err := optionalInt(req, "offset")
		if err != nil {
			return argumentError(err.Error())
		}
		input := ReadTableInput{Table: table, Schema: req.GetString("schema", ""), Limit: limit}
		if offset != nil {
			input.Offset = *offset
		}
		output, err := e.ReadTable(ctx, input)
		return toolResult(output, err)
	}))

	executeQueryTool := mcp.NewTool(OpExecuteQuery,
		mcp.WithDescription("Execute a single read-only SELECT statement. A LIMIT is appended when the statement has none. Writes, DDL and multiple statements are rejected."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SELECT statement to execute"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Row limit appended when the query has no LIMIT (defaults to 100, capped by the server maximum)"),
			mcp.Min(0),
		),
		mcp.WithBoolean("count_total",
			mcp.Description("Also count all rows the query would return without the appended limit"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(executeQueryTool, e.loggedToolHandler(OpExecuteQuery, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("query")
		if err != nil {
			return argumentError("query parameter is required")
		}
		limit, err := optionalInt(req, "limit")
		if err != nil {
			return argumentError(err.Error())
		}
		output, err := e.ExecuteQuery(ctx, ExecuteQueryInput{
			SQL:        sql,
			Limit:      limit,
			CountTotal: req.GetBool("count_total", false),
		})
		return toolResult(output, err)
	}))

	statsTool := mcp.NewTool(OpGetTableStats,
		mcp.WithDescription("Get table statistics: exact row count, column count, column type histogram and on-disk sizes."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(statsTool, e.loggedToolHandler(OpGetTableStats, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return argumentError("table_name parameter is required")
		}
		output, err := e.GetTableStats(ctx, TableStatsInput{Table: table, Schema: req.GetString("schema", "")})
		return toolResult(output, err)
	}))

	searchTool := mcp.NewTool(OpSearchTables,
		mcp.WithDescription("Search table and column names in a schema by case-insensitive substring."),
		mcp.WithString("search_term",
			mcp.Required(),
			mcp.Description("Substring to look for in table and column names"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(searchTool, e.loggedToolHandler(OpSearchTables, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		term, err := req.RequireString("search_term")
		if err != nil {
			return argumentError("search_term parameter is required")
		}
		output, err := e.SearchTables(ctx, SearchTablesInput{Term: term, Schema: req.GetString("schema", "")})
		return toolResult(output, err)
	}))
}

// errorPayload is the JSON body of a failed tool call.
type errorPayload struct {
	Error *Error `json:"error"`
}

// toolResult renders an operation's output, or its error as an IsError
// result. Operation errors are never returned as protocol errors.
func toolResult(output any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = &Error{Kind: KindQueryFailed, Message: err.Error()}
		}
		b, mErr := json.Marshal(errorPayload{Error: pe})
		if mErr != nil {
			return mcp.NewToolResultError(pe.Error()), nil
		}
		return mcp.NewToolResultError(string(b)), nil
	}
	b, err := json.Marshal(output)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func argumentError(message string) (*mcp.CallToolResult, error) {
	return toolResult(nil, newError(KindInvalidArgument, "%s", message))
}

// optionalInt returns nil when the argument is absent or null. JSON numbers
// arrive as float64 and must be whole.
func optionalInt(req mcp.CallToolRequest, key string) (*int, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var v int
	switch n := raw.(type) {
	case float64:
		if n != float64(int(n)) {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		v = int(n)
	case int:
		v = n
	case int64:
		v = int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		v = int(i)
	default:
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &v, nil
}

// loggedToolHandler wraps a tool handler to log a request id, duration and
// request and response lengths.
func (e *Explorer) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := uuid.NewString()
		start := time.Now()

		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		e.logger.Info().
			Str("request_id", requestID).
			Str("tool", tool).
			Bool("is_error", result != nil && result.IsError).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Dur("duration", time.Since(start)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
