package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/smeta/internal/cli"
	"github.com/Veraticus/smeta/internal/common"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "smeta",
		Short: "📦 Catalog import and matching engine",
		Long: `smeta imports supplier price lists and estimate spreadsheets into a local
catalog, reconciles them against what is already there, and suggests catalog
matches for free-text material names.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/smeta/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("database", "", "catalog database path")

	for key, flag := range map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"database.path":  "database",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		catalogCmd(),
		checkpointCmd(),
		importCmd(),
		mappingCmd(),
		matchCmd(),
		migrateCmd(),
		runsCmd(),
		serveCmd(),
		suggestCmd(),
		versionCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	msg := err.Error()
	var userErr *common.UserError
	if errors.As(err, &userErr) {
		msg = userErr.UserMessage
	}
	fmt.Fprintln(os.Stderr, cli.FormatError(msg))
	os.Exit(1)
}

// initConfig reads the config file, layers SMETA_* environment variables on
// top and configures logging. A missing config file is not an error: every
// setting has a default.
func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		viper.AddConfigPath(filepath.Join(home, ".config", "smeta"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SMETA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := common.SetupLogger(viper.GetString("logging.level"), viper.GetString("logging.format")); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.Debug("Configuration loaded", "file", viper.ConfigFileUsed())
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smeta %s\n", version)
		},
	}
}
