package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// maxAutoCheckpoints is how many automatic checkpoints survive pruning.
const maxAutoCheckpoints = 5

const manifestSuffix = ".meta.json"

// Checkpoint errors.
var (
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrCheckpointCorrupted = errors.New("checkpoint integrity check failed")
	ErrCheckpointExists    = errors.New("checkpoint already exists")
	ErrInvalidCheckpointID = errors.New("invalid checkpoint ID")
)

// CheckpointManager snapshots the catalog database into a checkpoints
// directory next to it. Each snapshot is a standalone SQLite file plus a JSON
// manifest describing what the catalog held at that moment.
type CheckpointManager struct {
	db     *sql.DB
	dbPath string
	dir    string
}

// CheckpointInfo describes one snapshot.
type CheckpointInfo struct {
	CreatedAt     time.Time `json:"created_at"`
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	LastImportRun string    `json:"last_import_run,omitempty"`
	FileSize      int64     `json:"file_size"`
	Entries       int       `json:"entries"`
	ImportRuns    int       `json:"import_runs"`
	SchemaVersion int       `json:"schema_version"`
	IsAuto        bool      `json:"is_auto"`
}

// NewCheckpointManager creates the checkpoints directory beside dbPath.
func NewCheckpointManager(db *sql.DB, dbPath string) (*CheckpointManager, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return nil, errors.New("checkpoints require a file-backed database")
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	dir := filepath.Join(filepath.Dir(abs), "checkpoints")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &CheckpointManager{db: db, dbPath: abs, dir: dir}, nil
}

func (cm *CheckpointManager) snapshotPath(id string) string {
	return filepath.Join(cm.dir, id+".db")
}

func (cm *CheckpointManager) manifestPath(id string) string {
	return filepath.Join(cm.dir, id+manifestSuffix)
}

func validateCheckpointID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidCheckpointID, id)
	}
	return nil
}

// Create snapshots the catalog under tag. An empty tag gets a timestamped name.
func (cm *CheckpointManager) Create(ctx context.Context, tag, description string) (*CheckpointInfo, error) {
	if tag == "" {
		tag = "checkpoint-" + time.Now().Format("2006-01-02-150405")
	}
	return cm.create(ctx, tag, description, false)
}

// AutoCheckpoint snapshots the catalog before a destructive operation such
// as an import or a clear, then prunes the oldest automatic snapshots.
func (cm *CheckpointManager) AutoCheckpoint(ctx context.Context, operation string) (*CheckpointInfo, error) {
	now := time.Now()
	tag := fmt.Sprintf("auto-%s-%s", operation, now.Format("2006-01-02-150405.000"))

	info, err := cm.create(ctx, tag, "Automatic checkpoint before "+operation, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create auto-checkpoint: %w", err)
	}
	if err := cm.pruneAuto(ctx); err != nil {
		slog.Warn("Failed to prune automatic checkpoints", "error", err)
	}
	return info, nil
}

func (cm *CheckpointManager) create(ctx context.Context, id, description string, auto bool) (*CheckpointInfo, error) {
	if err := validateCheckpointID(id); err != nil {
		return nil, err
	}
	snapshot := cm.snapshotPath(id)
	if _, err := os.Stat(snapshot); err == nil {
		return nil, ErrCheckpointExists
	}

	info := &CheckpointInfo{
		ID:          id,
		CreatedAt:   time.Now(),
		Description: description,
		IsAuto:      auto,
	}
	if err := cm.describeCatalog(ctx, info); err != nil {
		return nil, err
	}

	// Fold the WAL into the main file so the snapshot sees every committed batch.
	if _, err := cm.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	if _, err := cm.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	st, err := os.Stat(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	info.FileSize = st.Size()

	if err := writeManifest(cm.manifestPath(id), info); err != nil {
		if rmErr := os.Remove(snapshot); rmErr != nil {
			slog.Error("Failed to remove orphaned snapshot", "path", snapshot, "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save checkpoint manifest: %w", err)
	}
	if err := cm.recordInDB(ctx, info); err != nil {
		slog.Warn("Failed to record checkpoint in database", "id", id, "error", err)
	}

	slog.Info("Created checkpoint",
		"id", id,
		"entries", info.Entries,
		"last_import_run", info.LastImportRun,
		"auto", auto)
	return info, nil
}

// describeCatalog fills the schema version and catalog counters of info.
func (cm *CheckpointManager) describeCatalog(ctx context.Context, info *CheckpointInfo) error {
	if err := cm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&info.SchemaVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if err := cm.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_entries").Scan(&info.Entries); err != nil {
		return fmt.Errorf("failed to count catalog entries: %w", err)
	}
	if err := cm.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM import_runs").Scan(&info.ImportRuns); err != nil {
		return fmt.Errorf("failed to count import runs: %w", err)
	}

	err := cm.db.QueryRowContext(ctx,
		"SELECT id FROM import_runs ORDER BY started_at DESC LIMIT 1").Scan(&info.LastImportRun)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to find latest import run: %w", err)
	}
	return nil
}

// List returns every readable checkpoint, newest first. Snapshots whose
// manifest cannot be parsed are skipped.
func (cm *CheckpointManager) List(_ context.Context) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var out []CheckpointInfo
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), manifestSuffix)
		if entry.IsDir() || !ok {
			continue
		}
		info, err := readManifest(cm.manifestPath(id))
		if err != nil {
			slog.Debug("Skipping unreadable checkpoint manifest", "id", id, "error", err)
			continue
		}
		out = append(out, *info)
	}

	slices.SortStableFunc(out, func(a, b CheckpointInfo) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// GetCheckpointInfo reads the manifest of one checkpoint.
func (cm *CheckpointManager) GetCheckpointInfo(_ context.Context, id string) (*CheckpointInfo, error) {
	if err := validateCheckpointID(id); err != nil {
		return nil, err
	}
	info, err := readManifest(cm.manifestPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint manifest: %w", err)
	}
	return info, nil
}

// Restore replaces the catalog database with the snapshot. The manager's
// database handle is closed; callers must reopen storage afterwards.
func (cm *CheckpointManager) Restore(ctx context.Context, id string) error {
	if err := cm.requireSnapshot(id); err != nil {
		return err
	}
	snapshot := cm.snapshotPath(id)
	if err := checkIntegrity(ctx, snapshot); err != nil {
		slog.Error("Checkpoint failed integrity check", "id", id, "error", err)
		return ErrCheckpointCorrupted
	}

	if err := cm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	// A stale WAL would be replayed on top of the restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(cm.dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s file: %w", suffix, err)
		}
	}

	backup := cm.dbPath + ".restore-backup"
	if err := os.Rename(cm.dbPath, backup); err != nil {
		return fmt.Errorf("failed to set aside current database: %w", err)
	}
	if err := copyFileAtomic(snapshot, cm.dbPath); err != nil {
		if rbErr := os.Rename(backup, cm.dbPath); rbErr != nil {
			slog.Error("Failed to put back database after failed restore", "backup", backup, "error", rbErr)
		}
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	if err := os.Remove(backup); err != nil {
		slog.Warn("Failed to remove pre-restore backup", "path", backup, "error", err)
	}

	slog.Info("Restored checkpoint", "id", id)
	return nil
}

// Delete removes the snapshot and its manifest.
func (cm *CheckpointManager) Delete(ctx context.Context, id string) error {
	if err := cm.requireSnapshot(id); err != nil {
		return err
	}
	if err := os.Remove(cm.snapshotPath(id)); err != nil {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	if err := os.Remove(cm.manifestPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("Failed to remove checkpoint manifest", "id", id, "error", err)
	}
	if _, err := cm.db.ExecContext(ctx, "DELETE FROM checkpoint_metadata WHERE id = ?", id); err != nil {
		slog.Debug("Failed to remove checkpoint record", "id", id, "error", err)
	}
	return nil
}

func (cm *CheckpointManager) requireSnapshot(id string) error {
	if err := validateCheckpointID(id); err != nil {
		return err
	}
	_, err := os.Stat(cm.snapshotPath(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrCheckpointNotFound
	case err != nil:
		return fmt.Errorf("failed to access checkpoint: %w", err)
	}
	return nil
}

// pruneAuto deletes automatic checkpoints beyond the newest maxAutoCheckpoints.
// Manual checkpoints are never pruned.
func (cm *CheckpointManager) pruneAuto(ctx context.Context) error {
	all, err := cm.List(ctx)
	if err != nil {
		return err
	}
	kept := 0
	for _, cp := range all {
		if !cp.IsAuto {
			continue
		}
		if kept++; kept <= maxAutoCheckpoints {
			continue
		}
		if err := cm.Delete(ctx, cp.ID); err != nil {
			slog.Debug("Failed to prune automatic checkpoint", "id", cp.ID, "error", err)
		}
	}
	return nil
}

func (cm *CheckpointManager) recordInDB(ctx context.Context, info *CheckpointInfo) error {
	var lastRun sql.NullString
	if info.LastImportRun != "" {
		lastRun = sql.NullString{String: info.LastImportRun, Valid: true}
	}
	_, err := cm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoint_metadata
		(id, created_at, description, file_size, entries, import_runs, schema_version, is_auto, last_import_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.CreatedAt, info.Description, info.FileSize,
		info.Entries, info.ImportRuns, info.SchemaVersion, info.IsAuto, lastRun)
	return err
}

func writeManifest(path string, info *CheckpointInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readManifest(path string) (*CheckpointInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is built from a validated checkpoint ID
	if err != nil {
		return nil, err
	}
	var info CheckpointInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	return &info, nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// copyFileAtomic copies src to a temporary sibling of dst and renames it into
// place, so dst is never left half-written.
func copyFileAtomic(src, dst string) (err error) {
	in, err := os.Open(src) // #nosec G304 - snapshot path inside the checkpoints directory
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) // #nosec G304 - derived from the database path
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
