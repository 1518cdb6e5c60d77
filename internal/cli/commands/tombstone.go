package commands

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/identity"
	"github.com/spf13/cobra"
)

// NewTombstoneCommand creates the tombstone command group.
func NewTombstoneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tombstone",
		Short: "Inspect retired GUIDs",
	}
	cmd.AddCommand(newTombstoneCheckCommand(), newTombstoneChainCommand(), newTombstoneResolveCommand(),
		newTombstoneLemmaCommand())
	return cmd
}

func newTombstoneCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <guid>",
		Short: "Report whether a GUID is retired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var ts *core.Tombstone
			err := cc.withSession(cmd.Context(), func(s core.Session) error {
				var err error
				ts, err = identity.Lookup(cmd.Context(), s, args[0])
				return err
			})
			if err != nil {
				return err
			}
			if ts == nil {
				return cc.Renderer.Table([]string{"guid", "retired"}, [][]any{{args[0], false}})
			}
			return cc.Renderer.Table(tombstoneHeader, [][]any{tombstoneRow(ts)})
		},
	}
}

func newTombstoneChainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <guid>",
		Short: "Show the replacement chain starting at a GUID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var chain []*core.Tombstone
			err := cc.withSession(cmd.Context(), func(s core.Session) error {
				var err error
				chain, err = identity.ReplacementChain(cmd.Context(), s, args[0])
				return err
			})
			if err != nil {
				return err
			}
			rows := make([][]any, len(chain))
			for i, ts := range chain {
				rows[i] = tombstoneRow(ts)
			}
			return cc.Renderer.Table(tombstoneHeader, rows)
		},
	}
}

func newTombstoneResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <guid>",
		Short: "Follow replacements to the GUID now in use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()
			return cc.renderResult(cc.Service.Resolve(cmd.Context(), args[0]))
		},
	}
}

func newTombstoneLemmaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lemma <lemma-id>",
		Short: "List the GUIDs a lemma has retired, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lemma id %q", args[0])
			}

			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var retired []*core.Tombstone
			err = cc.withSession(cmd.Context(), func(s core.Session) error {
				var err error
				retired, err = identity.TombstonesForLemma(cmd.Context(), s, id)
				return err
			})
			if err != nil {
				return err
			}
			rows := make([][]any, len(retired))
			for i, ts := range retired {
				rows[i] = tombstoneRow(ts)
			}
			return cc.Renderer.Table(tombstoneHeader, rows)
		},
	}
}

var tombstoneHeader = []string{
	"guid", "replacement", "reason", "lemma_id", "original_text", "original_category",
	"original_subcategory", "changed_by", "notes", "created_at",
}

func tombstoneRow(ts *core.Tombstone) []any {
	return []any{
		ts.GUID, ts.ReplacementGUID, string(ts.Reason), ts.LemmaID, ts.OriginalText, ts.OriginalCategory,
		ts.OriginalSubcategory, ts.ChangedBy, ts.Notes, ts.CreatedAt,
	}
}
