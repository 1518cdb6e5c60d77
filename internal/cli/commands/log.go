package commands

import (
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/oplog"
	"github.com/spf13/cobra"
)

// NewLogCommand creates the log command group.
func NewLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read the operation log",
	}
	cmd.AddCommand(newLogListCommand())
	return cmd
}

func newLogListCommand() *cobra.Command {
	var (
		f        oplog.Filter
		lemmaID  int64
		sinceDur time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operation log entries, oldest first",
		Example: `  lexstore log list --lemma-id 3
  lexstore log list --type lemma_reclassify --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			if cmd.Flags().Changed("lemma-id") {
				f.LemmaID = &lemmaID
			}
			if sinceDur > 0 {
				f.Since = time.Now().Add(-sinceDur)
			}

			var entries []*core.OperationLog
			err := cc.withSession(cmd.Context(), func(s core.Session) error {
				var err error
				entries, err = oplog.History(cmd.Context(), s, f)
				return err
			})
			if err != nil {
				return err
			}

			rows := make([][]any, len(entries))
			for i, e := range entries {
				rows[i] = []any{e.ID, e.Timestamp, e.Source, e.OperationType, e.LemmaID, e.Fact}
			}
			return cc.Renderer.Table([]string{"id", "timestamp", "source", "operation", "lemma_id", "fact"}, rows)
		},
	}

	cmd.Flags().Int64Var(&lemmaID, "lemma-id", 0, "Only entries about this lemma")
	cmd.Flags().StringVar(&f.Source, "source", "", "Only entries from this source")
	cmd.Flags().StringVar(&f.OperationType, "type", "", "Only entries of this operation type")
	cmd.Flags().DurationVar(&sinceDur, "since", 0, "Only entries newer than this duration")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "Maximum entries (0 for all)")

	return cmd
}
