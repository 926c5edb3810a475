package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
	"github.com/Veraticus/smeta/internal/service"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and prune the catalog",
	}

	cmd.AddCommand(listCatalogCmd())
	cmd.AddCommand(countCatalogCmd())
	cmd.AddCommand(deleteCatalogCmd())
	cmd.AddCommand(clearCatalogCmd())

	return cmd
}

func listCatalogCmd() *cobra.Command {
	var filter service.CatalogFilter
	var schema string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schema != "" {
				parsed, err := model.ParseSchema(schema)
				if err != nil {
					return err
				}
				filter.Schema = parsed
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.ListRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No catalog entries found."))
				return nil
			}

			rows := make([][]string, len(records))
			for i, rec := range records {
				rows[i] = []string{
					rec.Key,
					rec.Name,
					optional(rec.Code),
					optional(rec.Manufacturer),
					formatOptionalPrice(rec.Price),
					string(rec.Schema),
					rec.SourceFile,
				}
			}
			header := []string{"Key", "Name", "Code", "Manufacturer", "Price", "Schema", "Source"}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(header, rows))
			return nil
		},
	}

	cmd.Flags().StringVarP(&schema, "schema", "s", "", "only entries imported with this schema")
	cmd.Flags().StringVarP(&filter.Search, "search", "q", "", "substring of the name or code")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "maximum entries to show")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "entries to skip")

	return cmd
}

func countCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of catalog entries",
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

			n, err := store.CountRecords(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func deleteCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete catalog entries by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			importer := reconcile.NewImporter(store, importOptions(cfg))
			for _, key := range args {
				if err := importer.Delete(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+key))
			}
			return nil
		},
	}
}

func clearCatalogCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every catalog entry",
		Long: `Remove all catalog entries. An automatic checkpoint is taken first so the
catalog can be restored with 'smeta checkpoint restore'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.CountRecords(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(out, cli.FormatInfo("The catalog is already empty."))
				return nil
			}

			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(os.Stdin), out,
					fmt.Sprintf("Delete all %d catalog entries?", n))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.SubtleStyle.Render("Clear cancelled."))
					return nil
				}
			}

			manager, err := store.NewCheckpointManager()
			if err != nil {
				return fmt.Errorf("failed to create checkpoint manager: %w", err)
			}
			info, err := manager.AutoCheckpoint(ctx, "clear")
			if err != nil {
				return err
			}

			importer := reconcile.NewImporter(store, importOptions(cfg))
			if err := importer.ClearAll(ctx); err != nil {
				return err
			}

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Deleted %d entries (checkpoint %s)", n, info.ID)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func formatOptionalPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
