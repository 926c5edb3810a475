package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/smeta/internal/model"
)

func setupCheckpointTest(t *testing.T) (*SQLiteStorage, *CheckpointManager) {
	t.Helper()

	store, cleanup := createTestStorage(t)
	t.Cleanup(cleanup)

	cm, err := store.NewCheckpointManager()
	require.NoError(t, err)
	return store, cm
}

func seedCatalog(t *testing.T, store *SQLiteStorage, n int) {
	t.Helper()

	records := make([]model.CanonicalRecord, n)
	for i := range records {
		records[i] = model.CanonicalRecord{Key: fmt.Sprintf("seed-%d", i), Name: fmt.Sprintf("Позиция %d", i)}
	}
	require.NoError(t, store.UpsertFrom(context.Background(), model.SchemaMaterial, "seed.csv", records))
}

func TestCheckpointManager_CreateAndList(t *testing.T) {
	store, cm := setupCheckpointTest(t)
	ctx := context.Background()
	seedCatalog(t, store, 3)

	info, err := cm.Create(ctx, "before-import", "Manual checkpoint")
	require.NoError(t, err)

	assert.Equal(t, "before-import", info.ID)
	assert.Equal(t, 3, info.Entries)
	assert.Equal(t, 0, info.ImportRuns)
	assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
	assert.False(t, info.IsAuto)
	assert.Positive(t, info.FileSize)

	_, err = cm.Create(ctx, "before-import", "again")
	assert.ErrorIs(t, err, ErrCheckpointExists)

	list, err := cm.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "before-import", list[0].ID)

	got, err := cm.GetCheckpointInfo(ctx, "before-import")
	require.NoError(t, err)
	assert.Equal(t, "Manual checkpoint", got.Description)
}

func TestCheckpointManager_InvalidIDs(t *testing.T) {
	_, cm := setupCheckpointTest(t)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", `a\b`} {
		_, err := cm.Create(ctx, id, "")
		assert.ErrorIs(t, err, ErrInvalidCheckpointID, id)
		assert.Error(t, cm.Delete(ctx, id), id)
		assert.Error(t, cm.Restore(ctx, id), id)
	}

	assert.ErrorIs(t, cm.Delete(ctx, "missing"), ErrCheckpointNotFound)
	assert.ErrorIs(t, cm.Restore(ctx, "missing"), ErrCheckpointNotFound)
	_, err := cm.GetCheckpointInfo(ctx, "missing")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointManager_Restore(t *testing.T) {
	store, cm := setupCheckpointTest(t)
	ctx := context.Background()
	seedCatalog(t, store, 2)

	_, err := cm.Create(ctx, "two-rows", "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteAll(ctx))
	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, cm.Restore(ctx, "two-rows"))

	reopened, err := NewSQLiteStorage(store.Path())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err = reopened.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = os.Stat(store.Path() + ".restore-backup")
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointManager_Delete(t *testing.T) {
	_, cm := setupCheckpointTest(t)
	ctx := context.Background()

	_, err := cm.Create(ctx, "temp", "")
	require.NoError(t, err)
	require.NoError(t, cm.Delete(ctx, "temp"))

	list, err := cm.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = os.Stat(filepath.Join(filepath.Dir(cm.dbPath), "checkpoints", "temp.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointManager_AutoCheckpointPrunes(t *testing.T) {
	_, cm := setupCheckpointTest(t)
	ctx := context.Background()

	_, err := cm.Create(ctx, "manual", "kept")
	require.NoError(t, err)

	for i := range maxAutoCheckpoints + 2 {
		info, err := cm.AutoCheckpoint(ctx, fmt.Sprintf("clear%d", i))
		require.NoError(t, err)
		assert.True(t, info.IsAuto)
		time.Sleep(5 * time.Millisecond)
	}

	list, err := cm.List(ctx)
	require.NoError(t, err)

	auto := 0
	manual := 0
	for _, cp := range list {
		if cp.IsAuto {
			auto++
		} else {
			manual++
		}
	}
	assert.Equal(t, maxAutoCheckpoints, auto)
	assert.Equal(t, 1, manual)
}

func TestCheckpointManager_RequiresFile(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.NewCheckpointManager()
	assert.Error(t, err)
}

func TestCheckpointManager_RecordsLastImportRun(t *testing.T) {
	store, cm := setupCheckpointTest(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	for i, id := range []string{"run-old", "run-new"} {
		run := &model.ImportRun{
			ID:         id,
			SourceFile: "prices.xlsx",
			Schema:     model.SchemaMaterial,
			StartedAt:  started.Add(time.Duration(i) * time.Second),
			FinishedAt: started.Add(time.Duration(i)*time.Second + time.Millisecond),
		}
		require.NoError(t, store.SaveImportRun(ctx, run))
	}

	info, err := cm.AutoCheckpoint(ctx, "import")
	require.NoError(t, err)
	assert.Equal(t, "run-new", info.LastImportRun)
	assert.Equal(t, 2, info.ImportRuns)
	assert.Equal(t, "Automatic checkpoint before import", info.Description)

	got, err := cm.GetCheckpointInfo(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-new", got.LastImportRun)

	var recorded string
	require.NoError(t, store.db.QueryRowContext(ctx,
		"SELECT last_import_run FROM checkpoint_metadata WHERE id = ?", info.ID).Scan(&recorded))
	assert.Equal(t, "run-new", recorded)
}

func TestCheckpointManager_SkipsMalformedManifest(t *testing.T) {
	_, cm := setupCheckpointTest(t)
	ctx := context.Background()

	_, err := cm.Create(ctx, "good", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cm.dir, "broken"+manifestSuffix), []byte("{"), 0600))

	list, err := cm.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ID)
}
