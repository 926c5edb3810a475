package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/smeta/internal/api"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve catalog suggestions, imports and editable sessions over HTTP until
interrupted. Sessions live in memory and expire after editor.session_ttl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, err := resolveSchema("", cfg)
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			matcher, err := newMatcher(cfg, store)
			if err != nil {
				return err
			}

			server := api.NewServer(api.Deps{
				Catalog: store,
				Target: func(schema model.Schema, source string) reconcile.Store {
					return store.ImportTarget(schema, source)
				},
				Matcher:       matcher,
				Sessions:      editor.NewSessions(cfg.Editor.SessionTTL, cfg.Editor.HistoryLimit),
				Registry:      registry,
				Import:        importOptions(cfg),
				Server:        cfg.Server,
				DefaultSchema: schema,
				Version:       version,
			})

			return server.Run(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}
