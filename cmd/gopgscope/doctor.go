package main

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickchristie/pgscope"
	"github.com/rickchristie/pgscope/internal/ident"
	"github.com/rickchristie/pgscope/internal/meta"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate the configuration and print agent connection snippets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctor(os.Stderr, isTTY(os.Stderr.Fd()), resolveConfigPath(configFlag))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", meta.Name, meta.Version)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd, versionCmd)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gopgscope %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gopgscope doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads the config the same way serve does and prints
// one line per check. It returns the config and whether every check passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*pgscope.ServerConfig, bool) {
	if _, err := os.Stat(configPath); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	config, err := loadServerConfig(configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file parses: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, "Config file parses")

	allPassed := true
	for _, c := range configChecks(config) {
		printCheck(w, useColor, c.ok, c.name)
		allPassed = allPassed && c.ok
	}
	return config, allPassed
}

var logLevels = []string{"debug", "info", "warn", "error"}

type check struct {
	name string
	ok   bool
}

// configChecks covers every setting New would panic on, plus the server-only
// settings. Regex failures are listed individually.
func configChecks(config *pgscope.ServerConfig) []check {
	var checks []check
	add := func(ok bool, format string, args ...any) {
		checks = append(checks, check{name: fmt.Sprintf(format, args...), ok: ok})
	}

	if config.Connection.DBName == "" {
		add(false, "connection.dbname is set")
	} else {
		add(true, "connection.dbname is set (%s)", config.Connection.DBName)
	}
	add(config.Server.Port > 0, "server.port is > 0 (%d)", config.Server.Port)

	if config.Server.HealthCheckEnabled {
		add(config.Server.HealthCheckPath != "",
			"health_check_path is set (required when health_check_enabled)")
	}
	if config.Server.MetricsEnabled {
		add(config.Server.MetricsPath != "" && config.Server.MetricsPath != "/mcp" &&
			config.Server.MetricsPath != config.Server.HealthCheckPath,
			"metrics_path is set and distinct from other paths (%s)", config.Server.MetricsPath)
	}

	add(slices.Contains(logLevels, config.Logging.Level), "logging.level is one of %v", logLevels)

	if config.Tracing.Enabled {
		switch config.Tracing.Exporter {
		case "", "stdout":
			add(true, "tracing.exporter is valid (stdout)")
		case "otlp":
			add(config.Tracing.OTLPEndpoint != "", "tracing.otlp_endpoint is set (required by the otlp exporter)")
		default:
			add(false, "tracing.exporter is stdout or otlp (got %q)", config.Tracing.Exporter)
		}
	}

	defaults := pgscope.DefaultConfig()
	eff := func(v, d int) int {
		if v == 0 {
			return d
		}
		return v
	}
	maxConns := eff(config.Pool.MaxConns, defaults.Pool.MaxConns)
	add(maxConns > 0, "pool.max_conns is > 0 (%d)", maxConns)
	add(config.Pool.MinConns >= 0 && config.Pool.MinConns <= maxConns,
		"pool.min_conns is between 0 and pool.max_conns (%d)", config.Pool.MinConns)
	add(config.Pool.AcquireTimeoutSeconds >= 0, "pool.acquire_timeout_seconds is >= 0")
	for _, d := range [][2]string{
		{"pool.max_conn_lifetime", config.Pool.MaxConnLifetime},
		{"pool.max_conn_idle_time", config.Pool.MaxConnIdleTime},
		{"pool.health_check_period", config.Pool.HealthCheckPeriod},
	} {
		if d[1] == "" {
			continue
		}
		if _, err := time.ParseDuration(d[1]); err != nil {
			add(false, "%s is a Go duration: %v", d[0], err)
		}
	}

	add(config.Query.DefaultTimeoutSeconds >= 0 && config.Query.CatalogTimeoutSeconds >= 0,
		"query timeouts are >= 0")
	defLimit := eff(config.Query.DefaultLimit, defaults.Query.DefaultLimit)
	maxLimit := eff(config.Query.MaxLimit, defaults.Query.MaxLimit)
	add(defLimit > 0 && defLimit <= maxLimit,
		"query.default_limit (%d) is > 0 and <= query.max_limit (%d)", defLimit, maxLimit)
	add(config.Query.MaxSQLLength >= 0 && config.Query.MaxResultLength >= 0,
		"query.max_sql_length and query.max_result_length are >= 0")

	for i, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			add(false, "timeout_rules[%d] timeout_seconds is > 0", i)
		}
	}
	for i, name := range config.BlockedFunctions {
		if !ident.Validate(name) {
			add(false, "blocked_functions[%d] is a plain function name (%q)", i, name)
		}
	}
	if config.Role != "" && !ident.Validate(config.Role) {
		add(false, "role is a plain role name (%q)", config.Role)
	}
	if config.Timezone != "" {
		if _, err := time.LoadLocation(config.Timezone); err != nil {
			add(false, "timezone is a valid IANA name: %v", err)
		}
	}

	regexOK := true
	compile := func(label string, i int, pattern string) {
		if _, err := regexp.Compile(pattern); err != nil {
			add(false, "%s[%d] regex compiles: %v", label, i, err)
			regexOK = false
		}
	}
	for i, rule := range config.ErrorPrompts {
		compile("error_prompts", i, rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		compile("sanitization", i, rule.Pattern)
	}
	for i, rule := range config.Query.TimeoutRules {
		compile("timeout_rules", i, rule.Pattern)
	}
	if regexOK {
		add(true, "All regex patterns compile")
	}
	return checks
}

func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP client config snippets pointing at this
// server's /mcp endpoint.
func printAgentSnippets(w io.Writer, useColor bool, config *pgscope.ServerConfig) {
	url := fmt.Sprintf("http://localhost:%d/mcp", config.Server.Port)

	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;32m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http pgscope %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "pgscope": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "pgscope": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "pgscope": {
        "url": "%s"
      }
    }
  }
`, url)
}
