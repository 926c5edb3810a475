package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/matching"
)

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <name>",
		Short: "Suggest catalog entries for a material name",
		Long: `Rank catalog entries against a free-text name. Exact substring matches are
tried first, then shared keywords, then character similarity. A manufacturer
narrows and reorders the results.`,
		Example: `  smeta suggest "Светильник светодиодный 36Вт"
  smeta suggest "кабель ВВГнг 3х2,5" --manufacturer Кольчугино --strategy keyword`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manufacturer, _ := cmd.Flags().GetString("manufacturer")
			strategyFlag, _ := cmd.Flags().GetString("strategy")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strategyFlag != "" {
				cfg.Matching.Strategy = strategyFlag
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			matcher, err := newMatcher(cfg, store)
			if err != nil {
				return err
			}

			name := strings.Join(args, " ")
			suggestions, err := matcher.SuggestWith(ctx, matching.Query{Text: name, Manufacturer: manufacturer}, "")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSuggestions(name, suggestions))
			return nil
		},
	}

	cmd.Flags().StringP("manufacturer", "m", "", "manufacturer to prefer")
	cmd.Flags().String("strategy", "", "matching strategy: combined, exact, keyword or similarity (default from config)")

	return cmd
}
