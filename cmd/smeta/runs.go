package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/model"
)

func runsCmd() *cobra.Command {
	var limit int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent imports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListImportRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No imports yet."))
				return nil
			}
			fmt.Fprintln(out, renderRuns(runs))

			if verbose {
				for _, run := range runs {
					if len(run.Errors) == 0 {
						continue
					}
					fmt.Fprintln(out, "\n"+cli.FormatTitle(run.SourceFile+" "+run.ID))
					for _, e := range run.Errors {
						fmt.Fprintln(out, cli.FormatError(e))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the recorded errors of each run")

	return cmd
}

func renderRuns(runs []model.ImportRun) string {
	rows := make([][]string, len(runs))
	for i, run := range runs {
		status := cli.SuccessIcon
		switch {
		case run.Cancelled:
			status = "cancelled"
		case len(run.Errors) > 0:
			status = cli.WarningIcon
		}
		rows[i] = []string{
			formatRelativeTime(run.StartedAt),
			run.SourceFile,
			string(run.Schema),
			strconv.Itoa(run.Total),
			strconv.Itoa(run.Inserted),
			strconv.Itoa(run.Updated),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.Skipped),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
			status,
		}
	}
	header := []string{"Started", "File", "Schema", "Rows", "Inserted", "Updated", "Failed", "Skipped", "Took", ""}
	return cli.RenderTable(header, rows)
}
