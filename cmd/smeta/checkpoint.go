package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/storage"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, restore, and delete catalog checkpoints.

Checkpoints save the current state of the catalog before a large import or a
clear, and let you roll back if the result is not what you expected.`,
		Example: `  # Create a checkpoint before importing a new price list
  smeta checkpoint create --tag "pre-2026-prices"

  # List all checkpoints
  smeta checkpoint list

  # Restore from a checkpoint
  smeta checkpoint restore pre-2026-prices

  # Delete an old checkpoint
  smeta checkpoint delete old-checkpoint`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(restoreCheckpointCmd())
	cmd.AddCommand(deleteCheckpointCmd())

	return cmd
}

// withCheckpoints opens the catalog and hands its checkpoint manager to fn.
func withCheckpoints(cmd *cobra.Command, fn func(*storage.CheckpointManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager, err := store.NewCheckpointManager()
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return fn(manager)
}

func createCheckpointCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		Long:  `Create a snapshot of the current catalog database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.Create(cmd.Context(), tag, description)
				if err != nil {
					return fmt.Errorf("failed to create checkpoint: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Created checkpoint %s (%s, %d entries)",
					info.ID, formatFileSize(info.FileSize), info.Entries)))
				if info.Description != "" {
					fmt.Fprintf(out, "  Description: %s\n", info.Description)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Checkpoint tag/name (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the checkpoint")

	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				checkpoints, err := manager.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list checkpoints: %w", err)
				}
				renderCheckpoints(cmd.OutOrStdout(), checkpoints)
				return nil
			})
		},
	}
}

func renderCheckpoints(out io.Writer, checkpoints []storage.CheckpointInfo) {
	if len(checkpoints) == 0 {
		fmt.Fprintln(out, cli.SubtleStyle.Render("No checkpoints found."))
		return
	}

	rows := make([][]string, len(checkpoints))
	for i, cp := range checkpoints {
		kind := "manual"
		if cp.IsAuto {
			kind = "auto"
		}
		rows[i] = []string{
			cli.InfoStyle.Render(cp.ID),
			formatRelativeTime(cp.CreatedAt),
			formatFileSize(cp.FileSize),
			strconv.Itoa(cp.Entries),
			strconv.Itoa(cp.ImportRuns),
			optional(&cp.LastImportRun),
			cli.SubtleStyle.Render(kind),
		}
	}
	header := []string{"ID", "Created", "Size", "Entries", "Imports", "Last import", "Type"}
	fmt.Fprintln(out, cli.RenderTable(header, rows))
}

// confirmCheckpointAction describes the checkpoint and asks before a restore
// or delete. It reports false when the user declined.
func confirmCheckpointAction(ctx context.Context, out io.Writer, info *storage.CheckpointInfo, action string) (bool, error) {
	fmt.Fprintf(out, "%s This will %s checkpoint %s.\n",
		cli.WarningStyle.Render(cli.WarningIcon), action, cli.InfoStyle.Render(info.ID))
	fmt.Fprintf(out, "  Created: %s (%d entries, %s)\n",
		info.CreatedAt.Format("2006-01-02 15:04:05"), info.Entries, formatFileSize(info.FileSize))
	if info.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", info.Description)
	}
	return cli.Confirm(ctx, cli.NewNonBlockingReader(os.Stdin), out, "Continue?")
}

func restoreCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Restore database from a checkpoint",
		Long:  `Replace the current catalog database with a checkpoint.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.GetCheckpointInfo(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get checkpoint info: %w", err)
				}
				if !force {
					ok, err := confirmCheckpointAction(ctx, out, info, "replace your current catalog with")
					if err != nil || !ok {
						fmt.Fprintln(out, cli.SubtleStyle.Render("Restore cancelled."))
						return err
					}
				}

				// Restore closes the database handle itself.
				if err := manager.Restore(ctx, info.ID); err != nil {
					return fmt.Errorf("failed to restore checkpoint: %w", err)
				}
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Restored %d entries from checkpoint %s", info.Entries, info.ID)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

func deleteCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <checkpoint-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.GetCheckpointInfo(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get checkpoint info: %w", err)
				}
				if !force {
					ok, err := confirmCheckpointAction(ctx, out, info, "permanently delete")
					if err != nil || !ok {
						fmt.Fprintln(out, cli.SubtleStyle.Render("Deletion cancelled."))
						return err
					}
				}

				if err := manager.Delete(ctx, info.ID); err != nil {
					return fmt.Errorf("failed to delete checkpoint: %w", err)
				}
				fmt.Fprintln(out, cli.FormatSuccess("Deleted checkpoint "+info.ID))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}
