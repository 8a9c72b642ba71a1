package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riku-miura/wiki-rag/internal/logging"
)

// NewAskCmd constructs the `wikirag ask` command, which answers a single
// question against a previously built session.
func NewAskCmd() *cobra.Command {
	var sessionID string
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a built session",
		Long: `Answer a natural language question using only the article content of the
given session. The question is embedded, the most similar chunks are
retrieved, and the generation model answers from that context alone.

Examples:
  wikirag ask --session 8f14e45f-... "When was Alan Turing born?"
  wikirag ask --session 8f14e45f-... --chunks "What did he work on at Bletchley Park?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			p, err := newPipeline(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer p.Close()

			res := p.newOrchestrator().Answer(ctx, sessionID, args[0])
			if res.Failed() {
				return fmt.Errorf("ask: %s", res.Error)
			}

			fmt.Println(res.Answer)

			if showChunks {
				fmt.Fprintln(os.Stderr)
				for _, c := range res.Chunks {
					fmt.Fprintf(os.Stderr, "--- chunk %d (distance %.4f)\n%s\n", c.Position, c.Distance, c.Content)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID returned by 'wikirag build'")
	cmd.Flags().BoolVar(&showChunks, "chunks", false, "Print the retrieved chunks to stderr")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
