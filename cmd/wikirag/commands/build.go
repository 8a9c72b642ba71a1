package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riku-miura/wiki-rag/internal/embedder"
	"github.com/riku-miura/wiki-rag/internal/logging"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// NewBuildCmd constructs the `wikirag build` command, which ingests one
// Wikipedia article into a queryable session.
func NewBuildCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a searchable session from a Wikipedia article",
		Long: `Fetch a Wikipedia article, split it into chunks, embed them, and persist
a vector index. The printed session ID is then usable with 'wikirag ask'
and the HTTP query API.

Examples:
  wikirag build --url https://en.wikipedia.org/wiki/Alan_Turing
  INDEX_BACKEND=qdrant wikirag build --url https://en.wikipedia.org/wiki/Go_(programming_language)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			p, err := newPipeline(log)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer p.Close()

			// Probe the embedding backend before fetching anything, so a
			// misconfigured model fails fast with a clear dimension error.
			dims, err := embedder.Preflight(ctx, p.embedder, p.dimension, log)
			if err != nil {
				return fmt.Errorf("build: embedding preflight: %w", err)
			}
			p.dimension = dims

			sess := p.newBuilder(ctx).Build(ctx, url)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sess); err != nil {
				return fmt.Errorf("build: encode session: %w", err)
			}
			if sess.Status != session.StatusReady {
				return fmt.Errorf("build failed: %s", sess.Metadata.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Wikipedia article URL to ingest")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
