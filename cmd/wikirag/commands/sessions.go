package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewSessionsCmd constructs the `wikirag sessions` command group for
// inspecting and maintaining the session registry.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain the session registry",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsExpireCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := openSessionStore()
			if err != nil {
				return fmt.Errorf("sessions list: %w", err)
			}
			defer sessions.Close()

			list, err := sessions.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("sessions list: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATUS\tCHUNKS\tUPDATED\tARTICLE")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.ID, s.Status, s.ChunkCount,
					s.UpdatedAt.Format(time.RFC3339), s.Metadata.ArticleTitle)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of sessions to list")

	return cmd
}

func newSessionsExpireCmd() *cobra.Command {
	var ttlHours int

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Mark ready sessions older than the TTL as expired",
		Long: `Mark ready sessions whose last update is older than the TTL as expired.
Expired sessions reject queries with a not-found error; their stored
indices are kept on disk.

The serve command runs this sweep automatically every hour; use this
command for one-off maintenance or from cron when not running serve.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := openSessionStore()
			if err != nil {
				return fmt.Errorf("sessions expire: %w", err)
			}
			defer sessions.Close()

			ttl := time.Duration(ttlHours) * time.Hour
			n, err := sessions.ExpireBefore(cmd.Context(), time.Now().Add(-ttl))
			if err != nil {
				return fmt.Errorf("sessions expire: %w", err)
			}
			fmt.Fprintf(os.Stdout, "expired %d session(s)\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&ttlHours, "ttl-hours", envInt("SESSION_TTL_HOURS", 24), "Age in hours after which ready sessions expire")

	return cmd
}
