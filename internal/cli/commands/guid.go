package commands

import (
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/spf13/cobra"
)

// NewGUIDCommand creates the guid command group.
func NewGUIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guid",
		Short: "Inspect GUID allocation",
	}
	cmd.AddCommand(newGUIDNextCommand(), newGUIDPrefixesCommand())
	return cmd
}

func newGUIDNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next <category>",
		Short: "Show the GUID the next lemma of a category would get",
		Long: `Show the GUID the next lemma of a category or subcategory would get.

Nothing is reserved: the number is one past the highest used by any lemma
or tombstone with the same prefix.`,
		Example: `  lexstore guid next animal`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var guid string
			err := cc.withSession(cmd.Context(), func(s core.Session) error {
				var err error
				guid, err = cc.IDs.GenerateGUID(cmd.Context(), s, args[0])
				return err
			})
			if err != nil {
				return err
			}
			return cc.Renderer.Table([]string{"category", "guid"}, [][]any{{args[0], guid}})
		},
	}
}

func newGUIDPrefixesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prefixes",
		Short: "List the category to prefix table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var rows [][]any
			for _, category := range cc.IDs.Categories() {
				prefix, err := cc.IDs.Prefix(category)
				if err != nil {
					return err
				}
				rows = append(rows, []any{category, prefix})
			}
			return cc.Renderer.Table([]string{"category", "prefix"}, rows)
		},
	}
}
