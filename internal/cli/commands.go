// Package cli is the modhost command line: the server itself plus the
// operator commands that talk to a running server.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

var (
	configFile string
	envFile    string
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

var rootCmd = &cobra.Command{
	Use:   "modhost [command] [flags]",
	Short: "Multi-tenant module host",
	Long: `modhost registers containerized modules, activates them per tenant,
composes them into pipelines and answers tenant questions with a local
model first and a cloud model as fallback.

Examples:
  # Run the API server
  modhost serve --config modhost.conf

  # Create or upgrade the database schema
  modhost migrate --config modhost.conf

  # Register modules and pipelines from a manifest
  modhost apply -f modules.yaml --tenant acme`,
	PersistentPreRunE: loadEnvFile,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "modhost.conf", "Path to the server configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before anything else, if present")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadEnvFile never overrides variables already set in the environment.
func loadEnvFile(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the modhost version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("modhost %s (api %s)\n", modcommon.ServerVersion, modcommon.ApiVersion)
		},
	}
}
