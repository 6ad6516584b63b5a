//go:build integration

package pgscope_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/pgscope"
)

// mcpTestServer serves the registered tools over streamable HTTP.
type mcpTestServer struct {
	explorer *pgscope.Explorer
	baseURL  string
}

// startMCPTestServer creates an Explorer with metrics, registers the tools
// and serves /mcp, /health and /metrics from an httptest server.
func startMCPTestServer(t *testing.T, seed ...string) *mcpTestServer {
	t.Helper()

	connStr := acquireTestDB(t)
	seedDB(t, connStr, seed...)
	e, err := pgscope.New(context.Background(), connStr, defaultConfig(), testLogger(), pgscope.WithMetrics())
	if err != nil {
		t.Fatalf("Failed to create Explorer: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })

	mcpServer := server.NewMCPServer("gopgscope-test", "1.0.0",
		server.WithToolCapabilities(true),
	)
	pgscope.RegisterMCPTools(mcpServer, e)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := e.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", e.MetricsHandler())
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &mcpTestServer{explorer: e, baseURL: ts.URL}
}

// jsonRPC sends a JSON-RPC request to the MCP endpoint and returns the parsed response.
func (s *mcpTestServer) jsonRPC(t *testing.T, method string, params any) map[string]any {
	t.Helper()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(s.baseURL+"/mcp", "application/json", strings.NewReader(string(bodyBytes)))
	if err != nil {
		t.Fatalf("JSON-RPC request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v; body: %s", err, string(respBody))
	}
	return result
}

// callTool invokes a tool and returns the text content and the isError flag.
func (s *mcpTestServer) callTool(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	result := s.jsonRPC(t, "tools/call", map[string]any{"name": name, "arguments": args})

	resultObj, ok := result["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T: %v", result["result"], result)
	}
	content, ok := resultObj["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("expected content array, got %v", resultObj["content"])
	}
	first := content[0].(map[string]any)
	if first["type"] != "text" {
		t.Fatalf("expected content type 'text', got %q", first["type"])
	}
	isError, _ := resultObj["isError"].(bool)
	return first["text"].(string), isError
}

func TestMCPServer_ToolsList(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t)

	result := s.jsonRPC(t, "tools/list", map[string]any{})
	resultObj := result["result"].(map[string]any)
	tools, ok := resultObj["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools array, got %T: %v", resultObj["tools"], resultObj["tools"])
	}
	if len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(tools))
	}

	names := map[string]bool{}
	for _, tool := range tools {
		toolMap := tool.(map[string]any)
		names[toolMap["name"].(string)] = true
		annotations, _ := toolMap["annotations"].(map[string]any)
		if annotations["readOnlyHint"] != true {
			t.Errorf("tool %s must be annotated read-only", toolMap["name"])
		}
	}
	for _, expected := range []string{
		pgscope.OpListTables, pgscope.OpDescribeTable, pgscope.OpReadTable,
		pgscope.OpExecuteQuery, pgscope.OpGetTableStats, pgscope.OpSearchTables,
	} {
		if !names[expected] {
			t.Fatalf("expected tool %q in list, got %v", expected, names)
		}
	}
}

func TestMCPServer_ExecuteQueryTool(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, departmentsSeed...)

	text, isError := s.callTool(t, pgscope.OpExecuteQuery, map[string]any{
		"query":       "SELECT id, name FROM departments ORDER BY id",
		"limit":       2,
		"count_total": true,
	})
	if isError {
		t.Fatalf("unexpected error: %s", text)
	}

	var output pgscope.ExecuteQueryOutput
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.ReturnedRows != 2 || output.Rows[0]["name"] != "Engineering" {
		t.Fatalf("unexpected rows: %v", output.Rows)
	}
	if output.TotalRows == nil || *output.TotalRows != 8 {
		t.Fatalf("expected total_rows 8, got %v", output.TotalRows)
	}
}

func TestMCPServer_ErrorPayload(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, departmentsSeed...)

	text, isError := s.callTool(t, pgscope.OpExecuteQuery, map[string]any{
		"query": "SELECT * FROM departments; DROP TABLE departments",
	})
	if !isError {
		t.Fatalf("expected error result, got %s", text)
	}
	var payload struct {
		Error pgscope.Error `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("failed to parse error payload: %v; text: %s", err, text)
	}
	if payload.Error.Kind != pgscope.KindDangerousKeyword || payload.Error.Keyword != "drop" {
		t.Fatalf("unexpected error payload: %+v", payload.Error)
	}

	text, isError = s.callTool(t, pgscope.OpReadTable, map[string]any{"table_name": "missing"})
	if !isError || !strings.Contains(text, `"kind":"TableNotFound"`) {
		t.Fatalf("expected TableNotFound payload, got %s", text)
	}
}

func TestMCPServer_CatalogTools(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, departmentsSeed...)

	text, isError := s.callTool(t, pgscope.OpListTables, map[string]any{})
	if isError {
		t.Fatalf("list_tables failed: %s", text)
	}
	var list pgscope.ListTablesOutput
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatalf("failed to parse list_tables output: %v", err)
	}
	if list.Count != 1 || list.Tables[0].Name != "departments" {
		t.Fatalf("unexpected tables: %+v", list.Tables)
	}

	text, isError = s.callTool(t, pgscope.OpDescribeTable, map[string]any{"table_name": "departments"})
	if isError {
		t.Fatalf("describe_table failed: %s", text)
	}
	var desc pgscope.DescribeTableOutput
	if err := json.Unmarshal([]byte(text), &desc); err != nil {
		t.Fatalf("failed to parse describe_table output: %v", err)
	}
	if len(desc.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(desc.Columns))
	}

	text, isError = s.callTool(t, pgscope.OpReadTable, map[string]any{"table_name": "departments", "limit": 3, "offset": 6})
	if isError {
		t.Fatalf("read_table failed: %s", text)
	}
	var read pgscope.ReadTableOutput
	if err := json.Unmarshal([]byte(text), &read); err != nil {
		t.Fatalf("failed to parse read_table output: %v", err)
	}
	if read.ReturnedRows != 2 || *read.TotalRows != 8 {
		t.Fatalf("expected 2 of 8 rows, got %d", read.ReturnedRows)
	}

	text, isError = s.callTool(t, pgscope.OpGetTableStats, map[string]any{"table_name": "departments"})
	if isError {
		t.Fatalf("get_table_stats failed: %s", text)
	}
	var stats pgscope.TableStatsOutput
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("failed to parse get_table_stats output: %v", err)
	}
	if stats.RowCount != 8 || stats.ColumnCount != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	text, isError = s.callTool(t, pgscope.OpSearchTables, map[string]any{"search_term": "budget"})
	if isError {
		t.Fatalf("search_tables failed: %s", text)
	}
	var search pgscope.SearchTablesOutput
	if err := json.Unmarshal([]byte(text), &search); err != nil {
		t.Fatalf("failed to parse search_tables output: %v", err)
	}
	if len(search.Columns) != 1 || search.Columns[0].Column != "budget" {
		t.Fatalf("unexpected search result: %+v", search)
	}
}

func TestMCPServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t)

	resp, err := http.Get(s.baseURL + "/health")
	if err != nil {
		t.Fatalf("health check request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}

	if _, isError := s.callTool(t, pgscope.OpExecuteQuery, map[string]any{"query": "SELECT 1"}); isError {
		t.Fatal("query failed")
	}
	s.callTool(t, pgscope.OpExecuteQuery, map[string]any{"query": "DELETE FROM x"})

	resp, err = http.Get(s.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`pgscope_operations_total{operation="execute_query",outcome="success"} 1`,
		`pgscope_statement_rejections_total{reason="not_a_select_statement"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
