package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/ingest"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
)

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var userErr *common.UserError
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, common.ErrUnreadableFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, model.ErrUnknownField),
		errors.Is(err, model.ErrFieldType),
		errors.Is(err, model.ErrEmptyName),
		errors.Is(err, editor.ErrEmptyPatch),
		errors.As(err, &userErr):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrStoreBusy):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status, msg := describeError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// describeError maps err to its status and the message a client may see.
// Internal failures are not echoed.
func describeError(err error) (int, string) {
	status := errorStatus(err)
	msg := err.Error()
	var userErr *common.UserError
	if errors.As(err, &userErr) {
		msg = userErr.UserMessage
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, msg
}

// failImport answers an import that could not run at all with the same
// result surface a completed import has, so clients read one shape.
func failImport(c *gin.Context, err error) {
	status, msg := describeError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, importResponse{
		Summary: model.ImportSummary{Success: false, Errors: []string{msg}},
	})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

type suggestRequest struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Strategy     string `json:"strategy"`
}

func (s *Server) suggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	strategy, err := matching.ParseStrategy(req.Strategy)
	if err != nil {
		badRequest(c, err)
		return
	}

	suggestions, err := s.deps.Matcher.SuggestWith(c.Request.Context(),
		matching.Query{Text: req.Name, Manufacturer: req.Manufacturer}, strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []matching.Suggestion{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// importResponse is the body returned by import and save endpoints.
type importResponse struct {
	Run      *model.ImportRun    `json:"run"`
	Warnings []string            `json:"warnings,omitempty"`
	Summary  model.ImportSummary `json:"summary"`
}

func (s *Server) createImport(c *gin.Context) {
	loaded, err := s.loadUpload(c)
	if err != nil {
		failImport(c, err)
		return
	}

	opts := s.deps.Import
	if raw := c.PostForm("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			failImport(c, fmt.Errorf("%w: batch_size must be a positive integer", common.ErrValidation))
			return
		}
		opts.BatchSize = n
	}

	resp, err := s.persist(c, loaded.Source, loaded.Schema, loaded.Records, loaded.Dropped, opts)
	if err != nil && resp == nil {
		failImport(c, err)
		return
	}
	resp.Warnings = warningStrings(loaded.Warnings)
	c.JSON(http.StatusOK, resp)
}

// persist runs records through the importer, records the run and refreshes
// the suggestion cache. A cancelled import still returns its partial result.
func (s *Server) persist(c *gin.Context, source string, schema model.Schema, records []model.CanonicalRecord, skipped int, opts reconcile.Options) (*importResponse, error) {
	ctx := c.Request.Context()
	started := time.Now()

	importer := reconcile.NewImporter(s.target(schema, source), opts)
	res, err := importer.Import(ctx, records, nil)
	if res == nil {
		return nil, err
	}
	if s.deps.Matcher != nil && res.Persisted() > 0 {
		s.deps.Matcher.Invalidate()
	}

	// The audit row is written even when the client went away mid-import.
	run := reconcile.NewImportRun(source, schema, started, res, skipped)
	if saveErr := s.deps.Catalog.SaveImportRun(context.WithoutCancel(ctx), run); saveErr != nil {
		slog.Warn("Failed to record import run", "id", run.ID, "error", saveErr)
	}

	return &importResponse{Summary: res.Summary(), Run: run}, err
}

func (s *Server) clearCatalog(c *gin.Context) {
	importer := reconcile.NewImporter(s.deps.Catalog, s.deps.Import)
	if err := importer.ClearAll(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Matcher != nil {
		s.deps.Matcher.Invalidate()
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteCatalogEntry(c *gin.Context) {
	importer := reconcile.NewImporter(s.deps.Catalog, s.deps.Import)
	if err := importer.Delete(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Matcher != nil {
		s.deps.Matcher.Invalidate()
	}
	c.Status(http.StatusNoContent)
}

// loadUpload parses the multipart "file" field with the schema named by the
// "schema" form field. Bad form input is reported as common.ErrValidation.
func (s *Server) loadUpload(c *gin.Context) (*ingest.LoadResult, error) {
	schema := s.deps.DefaultSchema
	if raw := c.PostForm("schema"); raw != "" {
		parsed, err := model.ParseSchema(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
		}
		schema = parsed
	}

	header, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file: %w", common.ErrValidation, err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnreadableFile, err)
	}
	defer func() { _ = f.Close() }()

	return ingest.LoadReader(header.Filename, f, ingest.Options{
		Schema:   schema,
		Registry: s.deps.Registry,
	})
}

func warningStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
