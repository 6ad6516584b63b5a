package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rickchristie/pgscope"
	"github.com/rickchristie/pgscope/internal/meta"
	"github.com/rickchristie/pgscope/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, resolveConfigPath(configFlag))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, configPath string) error {
	serverConfig, err := loadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := validateServerConfig(serverConfig); err != nil {
		return err
	}

	connString := os.Getenv(envConnString)
	if connString == "" {
		username := promptInput("Username: ")
		password := promptPassword("Password: ")
		connString = buildConnString(serverConfig.Connection, username, password)
	}

	logger := setupLogger(serverConfig.Logging)

	shutdownTracing, err := telemetry.Init(ctx, meta.Name, meta.Version, telemetry.Config{
		Enabled:      serverConfig.Tracing.Enabled,
		Exporter:     serverConfig.Tracing.Exporter,
		OTLPEndpoint: serverConfig.Tracing.OTLPEndpoint,
		OTLPInsecure: serverConfig.Tracing.OTLPInsecure,
		Writer:       os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	var opts []pgscope.Option
	if serverConfig.Server.MetricsEnabled {
		opts = append(opts, pgscope.WithMetrics())
	}
	if !serverConfig.Pool.LazyConnect {
		logger.Info().Msg("testing database connection")
	}
	explorer, err := pgscope.New(ctx, connString, serverConfig.Config, logger, opts...)
	if err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("failed to create explorer: %w", err)
	}
	defer explorer.Close(ctx)

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer(meta.Name, meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	pgscope.RegisterMCPTools(mcpServer, explorer)

	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()
	if serverConfig.Server.HealthCheckEnabled {
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, healthHandler(explorer))
	}
	if serverConfig.Server.MetricsEnabled {
		mux.Handle(serverConfig.Server.MetricsPath, explorer.MetricsHandler())
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	// Start does not register the handler when a custom *http.Server is given.
	mux.Handle("/mcp", streamableServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", serverConfig.Server.Port).Str("version", meta.Version).Msg("starting gopgscope server")
		errCh <- streamableServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

// healthHandler reports ok only while the database answers a ping.
func healthHandler(explorer *pgscope.Explorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := explorer.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// loadServerConfig layers built-in server defaults, the config file and
// GOPGSCOPE_* environment overrides. Nested keys use a double underscore:
// GOPGSCOPE_SERVER__PORT sets server.port.
func loadServerConfig(configPath string) (*pgscope.ServerConfig, error) {
	k := koanf.New(".")

	k.Set("connection.host", "localhost")
	k.Set("connection.port", 5432)
	k.Set("connection.sslmode", "prefer")
	k.Set("server.port", 8080)
	k.Set("server.metrics_path", "/metrics")
	k.Set("logging.level", "info")
	k.Set("logging.format", "json")
	k.Set("logging.output", "stderr")
	k.Set("tracing.exporter", "stdout")

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	var config pgscope.ServerConfig
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// envKey maps GOPGSCOPE_QUERY__MAX_LIMIT to query.max_limit. Variables that
// are not config keys map to "" and are skipped.
func envKey(s string) string {
	switch s {
	case envConfigPath, envConnString:
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// validateServerConfig returns the first failed startup check.
func validateServerConfig(config *pgscope.ServerConfig) error {
	for _, c := range configChecks(config) {
		if !c.ok {
			return fmt.Errorf("invalid config: %s", c.name)
		}
	}
	return nil
}

func buildConnString(conn pgscope.ConnectionConfig, username, password string) string {
	parts := []string{}
	if conn.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Host))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.DBName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", quoteConnValue(conn.DBName)))
	}
	if username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", quoteConnValue(username)))
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteConnValue(password)))
	}
	if conn.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", conn.SSLMode))
	}
	return strings.Join(parts, " ")
}

// quoteConnValue quotes keyword/value connection string values containing
// spaces, quotes or backslashes.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func setupLogger(config pgscope.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Str("service", meta.Name).Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
