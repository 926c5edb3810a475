package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/ingest"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
	"github.com/Veraticus/smeta/internal/storage"
)

// maxPrintedWarnings bounds the row warnings echoed before an import.
const maxPrintedWarnings = 5

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a CSV or XLSX file into the catalog",
		Long: `Read a supplier price list or estimate spreadsheet, map its columns onto
catalog fields and upsert the rows in batches. Rows already in the catalog are
updated in place; completed batches survive an interrupted import.`,
		Example: `  # Import a material price list
  smeta import prices.xlsx

  # Import a product export in batches of 500, checkpointing first
  smeta import products.csv --schema product --batch-size 500 --checkpoint

  # Show how the columns would be read without touching the catalog
  smeta import prices.xlsx --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringP("schema", "s", "", "schema variant: material, equipment or product (default from config)")
	cmd.Flags().Int("batch-size", 0, "rows per batch (default from config)")
	cmd.Flags().Bool("dry-run", false, "parse and map the file without writing to the catalog")
	cmd.Flags().Bool("checkpoint", false, "create an automatic checkpoint before importing")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	schemaFlag, _ := cmd.Flags().GetString("schema")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	checkpoint, _ := cmd.Flags().GetBool("checkpoint")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	schema, err := resolveSchema(schemaFlag, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	loaded, err := loadFile(args[0], schema, cfg)
	if err != nil {
		return err
	}
	printLoadWarnings(out, loaded)

	if dryRun {
		fmt.Fprintln(out, cli.RenderMapping(loaded.Mapping))
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d of %d rows would be imported (%d without a name)",
			len(loaded.Records), loaded.RowCount, loaded.Dropped)))
		return nil
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if checkpoint {
		manager, err := store.NewCheckpointManager()
		if err != nil {
			return fmt.Errorf("failed to create checkpoint manager: %w", err)
		}
		info, err := manager.AutoCheckpoint(ctx, "import")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.FormatInfo("Created checkpoint "+info.ID))
	}

	opts := importOptions(cfg)
	if batchSize > 0 {
		opts.BatchSize = batchSize
	}

	handler := cli.NewInterruptHandler(out, "Import")
	ctx = handler.HandleInterrupts(ctx, "Completed batches have been saved.")

	progress := cli.NewImportProgress(out, len(loaded.Records))
	res, run, err := importRecords(ctx, store, loaded, opts, progress.Update)
	progress.Finish()
	if res == nil {
		return err
	}

	fmt.Fprintln(out, cli.RenderImportSummary(loaded.Source, res))
	slog.Info("Import finished",
		"run", run.ID,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"failed", len(res.FailedRows),
		"cancelled", res.Cancelled)

	if err != nil && !(handler.WasInterrupted() && errors.Is(err, context.Canceled)) {
		return err
	}
	return nil
}

// importRecords runs the loaded rows through the importer and records the
// run. The run is recorded even when the import was cancelled.
func importRecords(ctx context.Context, store *storage.SQLiteStorage, loaded *ingest.LoadResult, opts reconcile.Options, onProgress reconcile.ProgressFunc) (*model.ReconciliationResult, *model.ImportRun, error) {
	started := time.Now()

	importer := reconcile.NewImporter(store.ImportTarget(loaded.Schema, loaded.Source), opts)
	res, err := importer.Import(ctx, loaded.Records, onProgress)
	if res == nil {
		return nil, nil, err
	}

	run := reconcile.NewImportRun(loaded.Source, loaded.Schema, started, res, loaded.Dropped)
	if saveErr := store.SaveImportRun(context.WithoutCancel(ctx), run); saveErr != nil {
		slog.Warn("Failed to record import run", "id", run.ID, "error", saveErr)
	}
	return res, run, err
}

func printLoadWarnings(w io.Writer, loaded *ingest.LoadResult) {
	for i, warning := range loaded.Warnings {
		if i == maxPrintedWarnings {
			fmt.Fprintln(w, cli.SubtleStyle.Render(fmt.Sprintf("  ... %d more warnings", len(loaded.Warnings)-i)))
			break
		}
		fmt.Fprintln(w, cli.FormatWarning(warning.Error()))
	}
	if len(loaded.Mapping.Unmapped) > 0 {
		slog.Debug("Unmapped columns", "source", loaded.Source, "columns", loaded.Mapping.Unmapped)
	}
}
