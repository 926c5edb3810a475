// Package api exposes catalog lookups, imports and editor sessions over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/smeta/internal/config"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/mapping"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Catalog is the persisted catalog the server reads and writes.
type Catalog interface {
	reconcile.Store
	matching.CatalogSource
	SaveImportRun(ctx context.Context, run *model.ImportRun) error
}

// Deps holds everything the handlers need.
type Deps struct {
	Catalog Catalog
	// Target returns the store an import of source should write through, so
	// rows are tagged with their schema and file. Catalog is used when nil.
	Target        func(schema model.Schema, source string) reconcile.Store
	Matcher       *matching.Service
	Sessions      *editor.Sessions
	Registry      mapping.Registry
	Import        reconcile.Options
	Server        config.ServerConfig
	DefaultSchema model.Schema
	Version       string
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a server. Sessions default to a registry without expiry.
func NewServer(deps Deps) *Server {
	if deps.Sessions == nil {
		deps.Sessions = editor.NewSessions(0, editor.DefaultHistoryLimit)
	}
	if deps.DefaultSchema == "" {
		deps.DefaultSchema = model.SchemaMaterial
	}
	if deps.Server.MaxUploadMiB <= 0 {
		deps.Server.MaxUploadMiB = 32
	}
	return &Server{deps: deps}
}

// Router creates and configures the gin router.
func (s *Server) Router() *gin.Engine {
	if s.deps.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = s.deps.Server.MaxUploadMiB << 20

	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	if s.deps.Server.RateLimit > 0 {
		router.Use(NewRateLimiter(s.deps.Server.RateLimit, s.deps.Server.RateBurst).Middleware())
	}

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/suggest", s.suggest)
		v1.POST("/imports", s.createImport)

		catalog := v1.Group("/catalog")
		{
			catalog.DELETE("", s.clearCatalog)
			catalog.DELETE("/:key", s.deleteCatalogEntry)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", s.createSession)
			sessions.GET("/:id", s.getSession)
			sessions.DELETE("/:id", s.deleteSession)
			sessions.GET("/:id/export", s.exportSession)

			sessions.PATCH("/:id/rows", s.patchRows)
			sessions.DELETE("/:id/rows", s.deleteRows)
			sessions.PATCH("/:id/rows/:rowID", s.patchRow)
			sessions.POST("/:id/rows/:rowID/select", s.selectRow)
			sessions.POST("/:id/rows/:rowID/apply", s.applySuggestion)

			sessions.POST("/:id/undo", s.undo)
			sessions.POST("/:id/redo", s.redo)
			sessions.POST("/:id/clear", s.clearRows)
			sessions.POST("/:id/suggest", s.suggestRows)
			sessions.POST("/:id/save", s.saveSession)
		}
	}

	return router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
// Expired editor sessions are swept once a minute.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepSessions(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	slog.Info("HTTP API stopped")
	return nil
}

func (s *Server) sweepSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.Sessions.Sweep()
		}
	}
}

func (s *Server) target(schema model.Schema, source string) reconcile.Store {
	if s.deps.Target != nil {
		return s.deps.Target(schema, source)
	}
	return s.deps.Catalog
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "smeta",
		"version":  s.deps.Version,
		"sessions": s.deps.Sessions.Len(),
	})
}
