package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/smeta/internal/config"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/ingest"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
	"github.com/Veraticus/smeta/internal/storage"
	"github.com/Veraticus/smeta/internal/testutil"
)

const priceList = "Наименование;Код;Производитель;Цена\n" +
	"Кабель ВВГнг 3х2,5;VVG-325;Кольчугино;85,50\n" +
	"Автоматический выключатель 16А;BA47-16;IEK;310\n" +
	";;;\n" +
	"Коробка распаячная;KR-100;;45\n"

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)
	return cfg
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		want string
		size int64
	}{
		{"0 B", 0},
		{"512 B", 512},
		{"1.0 KB", 1024},
		{"1.5 KB", 1536},
		{"2.0 MB", 2 << 20},
		{"1.0 GB", 1 << 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFileSize(tt.size))
	}
}

func TestRelativeTo(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		want string
		ago  time.Duration
	}{
		{"just now", 10 * time.Second},
		{"1 minute ago", 90 * time.Second},
		{"5 minutes ago", 5 * time.Minute},
		{"1 hour ago", time.Hour},
		{"3 hours ago", 3 * time.Hour},
		{"2 days ago", 50 * time.Hour},
		{"2026-02-20", 18 * 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTo(now, now.Add(-tt.ago)), tt.ago.String())
	}
}

func TestResolveSchema(t *testing.T) {
	cfg := defaultConfig(t)

	schema, err := resolveSchema("", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaMaterial, schema)

	schema, err = resolveSchema("Product", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaProduct, schema)

	_, err = resolveSchema("furniture", cfg)
	assert.Error(t, err)
}

func TestImportOptions(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Import.BatchSize = 250
	cfg.Import.RetryAttempts = 5

	opts := importOptions(cfg)
	assert.Equal(t, 250, opts.BatchSize)
	assert.Equal(t, 100*time.Millisecond, opts.Delay)
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
}

func TestLoadRegistry_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("material:\n  - label: Цена с НДС\n    field: price\n"), 0600))

	cfg := defaultConfig(t)
	cfg.Import.AliasesFile = path

	registry, err := loadRegistry(cfg)
	require.NoError(t, err)

	loaded, err := ingest.LoadReader("prices.csv",
		strings.NewReader("Наименование;Цена с НДС\nКабель;120\n"),
		ingest.Options{Schema: model.SchemaMaterial, Registry: registry})
	require.NoError(t, err)
	require.Len(t, loaded.Records, 1)
	require.NotNil(t, loaded.Records[0].Price)
	assert.InDelta(t, 120.0, *loaded.Records[0].Price, 0.001)
}

func TestImportRecords(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	loaded, err := ingest.LoadReader("prices.csv", strings.NewReader(priceList),
		ingest.Options{Schema: model.SchemaMaterial})
	require.NoError(t, err)
	require.Len(t, loaded.Records, 3)

	var last int
	res, run, err := importRecords(ctx, db.Storage, loaded,
		reconcile.Options{BatchSize: 2, Delay: -1},
		func(percent, _ int) { last = percent })
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 100, last)
	assert.Equal(t, 3, db.MustCount())

	runs, err := db.Storage.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "prices.csv", runs[0].SourceFile)
	assert.Equal(t, loaded.Dropped, runs[0].Skipped)

	// A second pass updates in place.
	res, _, err = importRecords(ctx, db.Storage, loaded, reconcile.Options{BatchSize: 10, Delay: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 3, db.MustCount())

	stored := db.MustGet(loaded.Records[0].Key)
	assert.Equal(t, model.SchemaMaterial, stored.Schema)
	assert.Equal(t, "prices.csv", stored.SourceFile)
}

func TestImportRecords_CancelledRunIsRecorded(t *testing.T) {
	db := testutil.SetupTestDB(t)

	loaded, err := ingest.LoadReader("prices.csv", strings.NewReader(priceList),
		ingest.Options{Schema: model.SchemaMaterial})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, run, err := importRecords(ctx, db.Storage, loaded, reconcile.Options{BatchSize: 1, Delay: -1}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.True(t, run.Cancelled)

	runs, err := db.Storage.ListImportRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Cancelled)
}

func TestMatchRows(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.FixtureLighting)
	cfg := defaultConfig(t)

	matcher, err := newMatcher(cfg, db.Storage)
	require.NoError(t, err)

	rows := editor.NewStore(editor.DefaultHistoryLimit)
	rows.Load([]model.CanonicalRecord{
		{Key: "a", Name: "Прожектор светодиодный 50Вт"},
		{Key: "b", Name: "Щебень гранитный фракции 20-40"},
	})

	outcomes, err := matchRows(context.Background(), matcher, rows, 80)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	require.NotNil(t, outcomes[0].Top)
	assert.Equal(t, "L3", outcomes[0].Top.Entry.Key)
	assert.Equal(t, 100, outcomes[0].Top.Score)
	assert.True(t, outcomes[0].Applied)

	assert.Nil(t, outcomes[1].Top)
	assert.False(t, outcomes[1].Applied)

	records := rows.Records()
	assert.Equal(t, "PR-50", model.Deref(records[0].Code))
	require.NotNil(t, records[0].Price)
	assert.InDelta(t, 3100.0, *records[0].Price, 0.001)
	assert.Nil(t, records[1].Code)

	assert.True(t, rows.CanUndo())
	assert.True(t, rows.Dirty())
}

func TestMatchRows_WithoutAutoApply(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.FixtureLighting)
	cfg := defaultConfig(t)

	matcher, err := newMatcher(cfg, db.Storage)
	require.NoError(t, err)

	rows := editor.NewStore(editor.DefaultHistoryLimit)
	rows.Load([]model.CanonicalRecord{{Key: "a", Name: "Прожектор светодиодный 50Вт"}})

	outcomes, err := matchRows(context.Background(), matcher, rows, 0)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Applied)

	all := rows.Rows()
	require.Len(t, all[0].Suggestions, 1)
	assert.Equal(t, "L3", all[0].Suggestions[0].Entry.Key)
	assert.Nil(t, all[0].Record.Code)
	assert.False(t, rows.CanUndo())
}

func TestMatchRows_Cancelled(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.FixtureLighting)
	matcher, err := newMatcher(defaultConfig(t), db.Storage)
	require.NoError(t, err)

	rows := editor.NewStore(editor.DefaultHistoryLimit)
	rows.Load([]model.CanonicalRecord{{Key: "a", Name: "Прожектор"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = matchRows(ctx, matcher, rows, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderOutcomes(t *testing.T) {
	top := model.CandidateMatch{
		Entry: model.CatalogEntry{Key: "L3", Name: "Прожектор светодиодный 50Вт"},
		Score: 100,
		Tier:  model.TierExact,
	}
	out := renderOutcomes([]matchOutcome{
		{Name: "Прожектор", Top: &top, Applied: true},
		{Name: "Щебень"},
	})

	assert.Contains(t, out, "Прожектор светодиодный 50Вт")
	assert.Contains(t, out, "exact")
	assert.Contains(t, out, "1 applied, 1 without a match")
}

func TestDefaultMatchOutput(t *testing.T) {
	assert.Equal(t, "estimate.matched.xlsx", defaultMatchOutput("estimate.csv"))
	assert.Equal(t, filepath.Join("dir", "a.b.matched.xlsx"), defaultMatchOutput(filepath.Join("dir", "a.b.xlsx")))
}

func TestRenderRuns(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	out := renderRuns([]model.ImportRun{
		{
			ID: "r1", SourceFile: "prices.csv", Schema: model.SchemaMaterial,
			StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond),
			Total: 3, Inserted: 2, Updated: 1,
		},
		{ID: "r2", SourceFile: "late.xlsx", Cancelled: true, StartedAt: started, FinishedAt: started},
	})

	assert.Contains(t, out, "prices.csv")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "cancelled")
}

func TestRenderCheckpoints(t *testing.T) {
	var empty bytes.Buffer
	renderCheckpoints(&empty, nil)
	assert.Contains(t, empty.String(), "No checkpoints found.")

	var out bytes.Buffer
	renderCheckpoints(&out, []storage.CheckpointInfo{
		{ID: "auto-import-1", CreatedAt: time.Now().Add(-3 * time.Minute), FileSize: 2048, Entries: 12, ImportRuns: 2, LastImportRun: "run-7", IsAuto: true},
		{ID: "pre-2026-prices", CreatedAt: time.Now().Add(-48 * time.Hour), Entries: 10},
	})
	text := out.String()
	assert.Contains(t, text, "auto-import-1")
	assert.Contains(t, text, "3 minutes ago")
	assert.Contains(t, text, "2.0 KB")
	assert.Contains(t, text, "run-7")
	assert.Contains(t, text, "manual")
}

// TestCommands drives the command tree against a temporary database.
func TestCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	dataPath := filepath.Join(dir, "prices.csv")

	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"database:\n  path: "+dbPath+"\nimport:\n  delay: 1ms\nlogging:\n  level: error\n"), 0600))
	require.NoError(t, os.WriteFile(dataPath, []byte(priceList), 0600))

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append(args, "--config", cfgPath))
		require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
		return out.String()
	}

	out := run("mapping", dataPath)
	assert.Contains(t, out, "Наименование")
	assert.Contains(t, out, "name")

	out = run("import", dataPath)
	assert.Contains(t, out, "Import complete")

	out = run("catalog", "count")
	assert.Equal(t, "3", strings.TrimSpace(out))

	out = run("catalog", "list", "--search", "Кабель")
	assert.Contains(t, out, "VVG-325")
	assert.NotContains(t, out, "BA47-16")

	out = run("runs")
	assert.Contains(t, out, "prices.csv")

	out = run("suggest", "Коробка распаячная")
	assert.Contains(t, out, "KR-100")

	out = run("migrate", "--status")
	assert.Contains(t, out, "Current version: 3")

	out = run("checkpoint", "create", "--tag", "before-clear")
	assert.Contains(t, out, "before-clear")

	out = run("catalog", "clear", "--yes")
	assert.Contains(t, out, "Deleted 3 entries")

	out = run("catalog", "count")
	assert.Equal(t, "0", strings.TrimSpace(out))

	out = run("checkpoint", "list")
	assert.Contains(t, out, "before-clear")
	assert.Contains(t, out, "auto")

	run("checkpoint", "restore", "before-clear", "--force")
	out = run("catalog", "count")
	assert.Equal(t, "3", strings.TrimSpace(out))

	out = run("version")
	assert.Contains(t, out, "smeta dev")
}
