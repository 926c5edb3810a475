package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/exporter"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
)

// matchOutcome is what happened to one row of a match run.
type matchOutcome struct {
	Top     *model.CandidateMatch
	Name    string
	Applied bool
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <file>",
		Short: "Attach catalog matches to every row of a file and export it",
		Long: `Load a file, look up catalog suggestions for each row and write the rows
back out. With --auto-apply, the best suggestion is copied onto a row when its
score reaches the given value; other rows are exported unchanged.`,
		Example: `  # Fill codes and prices from the catalog where the match is strong
  smeta match estimate.xlsx --auto-apply 80 --out estimate.filled.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: runMatch,
	}

	cmd.Flags().StringP("schema", "s", "", "schema variant: material, equipment or product (default from config)")
	cmd.Flags().StringP("out", "o", "", "output file, .xlsx or .csv (default <file>.matched.xlsx)")
	cmd.Flags().Int("auto-apply", 0, "apply the top suggestion when its score is at least this value (0 disables)")
	cmd.Flags().String("strategy", "", "matching strategy (default from config)")

	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	schemaFlag, _ := cmd.Flags().GetString("schema")
	outPath, _ := cmd.Flags().GetString("out")
	autoApply, _ := cmd.Flags().GetInt("auto-apply")
	strategyFlag, _ := cmd.Flags().GetString("strategy")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strategyFlag != "" {
		cfg.Matching.Strategy = strategyFlag
	}
	schema, err := resolveSchema(schemaFlag, cfg)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = defaultMatchOutput(args[0])
	}

	out := cmd.OutOrStdout()
	loaded, err := loadFile(args[0], schema, cfg)
	if err != nil {
		return err
	}
	printLoadWarnings(out, loaded)

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

	handler := cli.NewInterruptHandler(out, "Matching")
	ctx = handler.HandleInterrupts(ctx, "Nothing was written.")

	rows := editor.NewStore(cfg.Editor.HistoryLimit)
	rows.Load(loaded.Records)
	outcomes, err := matchRows(ctx, matcher, rows, autoApply)
	if err != nil {
		return err
	}

	f, err := os.Create(outPath) // #nosec G304 - path comes from the command line
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := exporter.Write(outPath, f, rows.Records()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Fprintln(out, renderOutcomes(outcomes))
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Wrote %d rows to %s", rows.Len(), outPath)))
	return nil
}

// matchRows attaches suggestions to every row and applies the top one where
// its score reaches autoApply.
func matchRows(ctx context.Context, matcher *matching.Service, rows *editor.Store, autoApply int) ([]matchOutcome, error) {
	all := rows.Rows()
	outcomes := make([]matchOutcome, 0, len(all))
	for _, row := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q := matching.Query{Text: row.Record.Name, Manufacturer: model.Deref(row.Record.Manufacturer)}
		matches, err := matcher.Candidates(ctx, q, "")
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", row.Record.Name, err)
		}

		outcome := matchOutcome{Name: row.Record.Name}
		if len(matches) > 0 {
			top := matches[0]
			outcome.Top = &top
		}

		if outcome.Top != nil && autoApply > 0 && outcome.Top.Score >= autoApply {
			if _, err := rows.ApplySuggestion(row.ID, outcome.Top.Entry); err != nil {
				return nil, err
			}
			outcome.Applied = true
		} else if err := rows.SetSuggestions(row.ID, matches); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func renderOutcomes(outcomes []matchOutcome) string {
	table := make([][]string, len(outcomes))
	applied, unmatched := 0, 0
	for i, o := range outcomes {
		match, score, tier := "-", "-", "-"
		if o.Top != nil {
			match = o.Top.Entry.Name
			score = strconv.Itoa(o.Top.Score)
			tier = cli.FormatTier(o.Top.Tier)
		} else {
			unmatched++
		}
		mark := ""
		if o.Applied {
			mark = cli.SuccessIcon
			applied++
		}
		table[i] = []string{strconv.Itoa(i + 1), o.Name, match, tier, score, mark}
	}

	out := cli.RenderTable([]string{"#", "Name", "Best match", "Tier", "Score", "Applied"}, table)
	return out + "\n" + cli.FormatInfo(fmt.Sprintf("%d applied, %d without a match", applied, unmatched))
}

func defaultMatchOutput(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".matched.xlsx"
}
