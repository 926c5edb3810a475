package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/coerce"
	"github.com/Veraticus/smeta/internal/ingest"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/model"
)

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping <file>",
		Short: "Show how a file's columns map onto catalog fields",
		Long: `Read only the header row of a file and report which catalog field each
column feeds, which alias matched it and how. Useful before adding aliases to
the override file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaFlag, _ := cmd.Flags().GetString("schema")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, err := resolveSchema(schemaFlag, cfg)
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			table, err := ingest.ReadFile(args[0])
			if err != nil {
				return err
			}

			m := mapping.BuildMapping(table.Headers, registry.TableFor(schema))
			out := cmd.OutOrStdout()
			title := fmt.Sprintf("%s %s (%s, %d rows)", cli.FolderIcon, args[0], schema, len(table.Rows))
			if table.Sheet != "" {
				title += ", sheet " + table.Sheet
			}
			fmt.Fprintln(out, cli.FormatTitle(title))
			fmt.Fprintln(out, cli.RenderMapping(m))

			if coerce.PolicyFor(schema).RequireKey && !m.Has(model.FieldKey) {
				fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("No column maps to %s; the %s schema requires one", model.FieldKey, schema)))
			}
			if !m.Has(model.FieldName) {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("No column maps to %s; every row would be dropped", model.FieldName)))
			}
			return nil
		},
	}

	cmd.Flags().StringP("schema", "s", "", "schema variant: material, equipment or product (default from config)")

	return cmd
}
