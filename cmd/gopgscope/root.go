package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/pgscope/internal/meta"
)

const (
	defaultConfigPath = ".gopgscope/config.json"
	envConfigPath     = "GOPGSCOPE_CONFIG_PATH"
	envConnString     = "GOPGSCOPE_PG_CONNSTRING"
	envPrefix         = "GOPGSCOPE_"
)

var (
	showVersion bool
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "gopgscope",
	Short:         "Read-only PostgreSQL exploration server for AI agents",
	Long:          `gopgscope exposes list, describe, read, query, stats and search tools over MCP, inside read-only transactions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", meta.Name, meta.Version)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		fmt.Sprintf("Path to configuration file (default $%s or %s)", envConfigPath, defaultConfigPath))
}

// resolveConfigPath prefers the --config flag, then the environment.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}
