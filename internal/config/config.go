package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/smeta/internal/common"
)

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "$HOME/.local/share/smeta/smeta.db"

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Import   ImportConfig   `mapstructure:"import"`
	Matching MatchingConfig `mapstructure:"matching"`
	Editor   EditorConfig   `mapstructure:"editor"`
}

// DatabaseConfig locates the SQLite catalog.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ImportConfig tunes the batched importer and the file pipeline.
type ImportConfig struct {
	Schema        string        `mapstructure:"schema"`
	AliasesFile   string        `mapstructure:"aliases_file"`
	BatchSize     int           `mapstructure:"batch_size"`
	Delay         time.Duration `mapstructure:"delay"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// MatchingConfig holds the matching engine thresholds and weights.
type MatchingConfig struct {
	Strategy            string        `mapstructure:"strategy"`
	TopK                int           `mapstructure:"top_k"`
	WidenedTopK         int           `mapstructure:"widened_top_k"`
	MinScore            int           `mapstructure:"min_score"`
	WidenedMinScore     int           `mapstructure:"widened_min_score"`
	MinWordLength       int           `mapstructure:"min_word_length"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	ExactBonus          int           `mapstructure:"manufacturer_exact_bonus"`
	PartialBonus        int           `mapstructure:"manufacturer_partial_bonus"`
	MismatchPenalty     int           `mapstructure:"manufacturer_mismatch_penalty"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// EditorConfig tunes editable sessions.
type EditorConfig struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr         string  `mapstructure:"addr"`
	Environment  string  `mapstructure:"environment"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
	MaxUploadMiB int64   `mapstructure:"max_upload_mib"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("import.schema", "material")
	v.SetDefault("import.batch_size", 1000)
	v.SetDefault("import.delay", "100ms")
	v.SetDefault("import.retry_attempts", 3)

	v.SetDefault("matching.strategy", "combined")
	v.SetDefault("matching.top_k", 3)
	v.SetDefault("matching.widened_top_k", 5)
	v.SetDefault("matching.min_score", 20)
	v.SetDefault("matching.widened_min_score", 15)
	v.SetDefault("matching.min_word_length", 3)
	v.SetDefault("matching.similarity_threshold", 0.3)
	v.SetDefault("matching.manufacturer_exact_bonus", 30)
	v.SetDefault("matching.manufacturer_partial_bonus", 15)
	v.SetDefault("matching.manufacturer_mismatch_penalty", 20)
	v.SetDefault("matching.cache_ttl", "5m")

	v.SetDefault("editor.history_limit", 20)
	v.SetDefault("editor.session_ttl", "24h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.max_upload_mib", 32)
}

// Load decodes the configuration held by v. Defaults are registered first so
// a bare viper instance yields a usable config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Import.AliasesFile = ExpandPath(cfg.Import.AliasesFile)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", common.ErrMissingConfig)
	}
	if cfg.Import.BatchSize <= 0 {
		return fmt.Errorf("%w: import.batch_size must be positive, got %d", common.ErrInvalidConfig, cfg.Import.BatchSize)
	}
	if cfg.Import.Delay < 0 {
		return fmt.Errorf("%w: import.delay cannot be negative", common.ErrInvalidConfig)
	}
	if cfg.Matching.TopK <= 0 || cfg.Matching.WidenedTopK < cfg.Matching.TopK {
		return fmt.Errorf("%w: matching.top_k must be positive and not above widened_top_k", common.ErrInvalidConfig)
	}
	if cfg.Matching.MinScore < 0 || cfg.Matching.MinScore > 100 ||
		cfg.Matching.WidenedMinScore < 0 || cfg.Matching.WidenedMinScore > 100 {
		return fmt.Errorf("%w: matching scores must be within 0..100", common.ErrInvalidConfig)
	}
	if cfg.Matching.SimilarityThreshold < 0 || cfg.Matching.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: matching.similarity_threshold must be within 0..1, got %v",
			common.ErrInvalidConfig, cfg.Matching.SimilarityThreshold)
	}
	if cfg.Editor.HistoryLimit <= 0 {
		return fmt.Errorf("%w: editor.history_limit must be positive", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}
