package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/smeta/internal/config"
	"github.com/Veraticus/smeta/internal/ingest"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
	"github.com/Veraticus/smeta/internal/service"
	"github.com/Veraticus/smeta/internal/storage"
)

// loadConfig decodes the global viper instance.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the catalog database and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// loadRegistry returns the built-in alias tables merged with the configured
// override file, if any.
func loadRegistry(cfg *config.Config) (mapping.Registry, error) {
	registry := mapping.DefaultRegistry()
	if cfg.Import.AliasesFile == "" {
		return registry, nil
	}
	overrides, err := mapping.LoadRegistry(cfg.Import.AliasesFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded alias overrides", "path", cfg.Import.AliasesFile, "schemas", len(overrides))
	return registry.Merge(overrides), nil
}

// resolveSchema picks the flag value over the configured default.
func resolveSchema(flag string, cfg *config.Config) (model.Schema, error) {
	if flag == "" {
		flag = cfg.Import.Schema
	}
	return model.ParseSchema(flag)
}

// loadFile reads and coerces one import file.
func loadFile(path string, schema model.Schema, cfg *config.Config) (*ingest.LoadResult, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return ingest.Load(path, ingest.Options{Schema: schema, Registry: registry})
}

// importOptions converts the import settings for the importer.
func importOptions(cfg *config.Config) reconcile.Options {
	return reconcile.Options{
		BatchSize: cfg.Import.BatchSize,
		Delay:     cfg.Import.Delay,
		Retry: service.RetryOptions{
			MaxAttempts:  cfg.Import.RetryAttempts,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}
}

// newMatcher builds the suggestion service over the catalog.
func newMatcher(cfg *config.Config, source matching.CatalogSource) (*matching.Service, error) {
	strategy, err := matching.ParseStrategy(cfg.Matching.Strategy)
	if err != nil {
		return nil, err
	}
	engine := matching.NewEngine(matching.ConfigFrom(cfg.Matching))
	return matching.NewService(source, engine, strategy, cfg.Matching.CacheTTL), nil
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	return relativeTo(time.Now(), t)
}

func relativeTo(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day") + " ago"
	}
	return t.Format("2006-01-02")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func optional(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
