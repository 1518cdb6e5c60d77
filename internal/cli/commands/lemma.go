package commands

import (
	"github.com/leapstack-labs/lexstore/internal/lexicon"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/spf13/cobra"
)

// NewLemmaCommand creates the lemma command group.
func NewLemmaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lemma",
		Short: "Create, edit and list lemmas",
	}
	cmd.AddCommand(
		newLemmaAddCommand(),
		newLemmaReclassifyCommand(),
		newLemmaTranslateCommand(),
		newLemmaFormCommand(),
		newLemmaListCommand(),
	)
	return cmd
}

func newLemmaAddCommand() *cobra.Command {
	var (
		in   lexicon.LemmaInput
		rank int64
	)

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a lemma with a freshly allocated GUID",
		Example: `  lexstore lemma add cat --category noun --subcategory animal --translation de=Katze
  lexstore lemma add run --category verb --rank 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			in.Text = args[0]
			if cmd.Flags().Changed("rank") {
				in.FrequencyRank = &rank
			}
			return cc.renderResult(cc.Service.CreateLemma(cmd.Context(), in))
		},
	}

	cmd.Flags().StringVar(&in.Category, "category", "", "Part of speech (noun, verb, ...)")
	cmd.Flags().StringVar(&in.Subcategory, "subcategory", "", "Semantic subcategory (animal, food, ...)")
	cmd.Flags().Int64Var(&rank, "rank", 0, "Frequency rank")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "Free-form notes")
	cmd.Flags().StringToStringVar(&in.Translations, "translation", nil, "Translations as lang=text, repeatable")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newLemmaReclassifyCommand() *cobra.Command {
	var category, subcategory, notes string

	cmd := &cobra.Command{
		Use:   "reclassify <guid>",
		Short: "Change a lemma's category, retiring its GUID when the prefix changes",
		Example: `  lexstore lemma reclassify N00_014 --subcategory animal
  lexstore lemma reclassify N02_003 --category verb --notes "was a verb all along"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()
			return cc.renderResult(cc.Service.Reclassify(cmd.Context(), args[0], category, subcategory, notes))
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "New category (default: unchanged)")
	cmd.Flags().StringVar(&subcategory, "subcategory", "", "New subcategory (empty clears it)")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes stored on the tombstone")

	return cmd
}

func newLemmaTranslateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "translate <guid> <lang> [text]",
		Short:   "Set a translation; omit text to clear it",
		Example: `  lexstore lemma translate N02_001 de Katze`,
		Args:    cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			text := ""
			if len(args) == 3 {
				text = args[2]
			}
			return cc.renderResult(cc.Service.SetTranslation(cmd.Context(), args[0], args[1], text))
		},
	}
}

func newLemmaFormCommand() *cobra.Command {
	var in lexicon.FormInput

	cmd := &cobra.Command{
		Use:     "form <guid> <text>",
		Short:   "Attach a derivative form to a lemma",
		Example: `  lexstore lemma form N02_001 Katzen --lang de --form plural`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			in.Text = args[1]
			return cc.renderResult(cc.Service.AddDerivativeForm(cmd.Context(), args[0], in))
		},
	}

	cmd.Flags().StringVar(&in.Language, "lang", "", "Language code")
	cmd.Flags().StringVar(&in.GrammaticalForm, "form", "", "Grammatical form (plural, past, ...)")
	cmd.Flags().BoolVar(&in.IsBaseForm, "base", false, "Mark as the base form")
	cmd.Flags().BoolVar(&in.Verified, "verified", false, "Mark as verified")
	_ = cmd.MarkFlagRequired("lang")
	_ = cmd.MarkFlagRequired("form")

	return cmd
}

func newLemmaListCommand() *cobra.Command {
	var (
		category, subcategory, prefix, orderBy string
		desc                                   bool
		limit, offset                          int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lemmas",
		Example: `  lexstore lemma list --category noun --order frequency_rank --limit 10
  lexstore lemma list --prefix N02 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup := NewCommandContext(cmd)
			defer cleanup()

			var rows [][]any
			err := cc.withSession(cmd.Context(), func(s core.Session) error {
				q := s.Query(core.EntityLemma)
				if category != "" {
					q = q.FilterBy(core.Fields{"category": category})
				}
				if subcategory != "" {
					q = q.FilterBy(core.Fields{"subcategory": subcategory})
				}
				if prefix != "" {
					q = q.Filter(core.HasPrefix("guid", prefix))
				}
				order := core.Asc(orderBy)
				if desc {
					order = core.Desc(orderBy)
				}
				q = q.OrderBy(order).Offset(offset)
				if limit > 0 {
					q = q.Limit(limit)
				}

				lemmas, err := core.All[*core.Lemma](cmd.Context(), q)
				if err != nil {
					return err
				}
				for _, l := range lemmas {
					rows = append(rows, []any{l.GUID, l.Text, l.Category, l.Subcategory, l.FrequencyRank})
				}
				return nil
			})
			if err != nil {
				return err
			}
			return cc.Renderer.Table([]string{"guid", "text", "category", "subcategory", "rank"}, rows)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&subcategory, "subcategory", "", "Filter by subcategory")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Filter by GUID prefix")
	cmd.Flags().StringVar(&orderBy, "order", "guid", "Order by field")
	cmd.Flags().BoolVar(&desc, "desc", false, "Descending order")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")

	return cmd
}
