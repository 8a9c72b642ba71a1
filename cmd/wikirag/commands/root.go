// Package commands defines all Cobra CLI commands for the wikirag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/riku-miura/wiki-rag/internal/config"
	"github.com/riku-miura/wiki-rag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wikirag",
		Short: "wikirag — question answering grounded in Wikipedia articles",
		Long: `wikirag ingests a Wikipedia article into a searchable session and answers
natural language questions using only that article's content.

A build fetches the article, splits it into overlapping chunks, embeds each
chunk, and persists a vector index. Queries embed the question, retrieve the
most similar chunks, and feed them to the generation model as context.

Backends are selected via environment variables (EMBEDDING_PROVIDER,
GENERATION_PROVIDER, INDEX_BACKEND) or a YAML config file
(~/.wikirag/config.yaml). See 'wikirag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			_, err := config.Load(configPath, log)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.wikirag/config.yaml)")

	root.AddCommand(
		NewBuildCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewSessionsCmd(),
		NewVersionCmd(),
	)

	return root
}
