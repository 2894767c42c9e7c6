// Package commands defines all Cobra CLI commands for the ragkit binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ragkit/ragkit-go/internal/audit"
	"github.com/ragkit/ragkit-go/internal/config"
	"github.com/ragkit/ragkit-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragkit",
		Short: "ragkit — retrieval-augmented question answering over your documents",
		Long: `ragkit answers natural language questions grounded in a Qdrant document
collection. Queries are expanded (rewrite + hypothetical passages), retrieved
candidates are judged and corrected, and the streamed answer ends with source
attribution for every candidate that was considered.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragkit/config.yaml).
See 'ragkit --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is a developer convenience; absence is not an error.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragkit/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
