package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/exporter"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
)

// sessionView is the JSON shape of a session.
type sessionView struct {
	CreatedAt  time.Time    `json:"created_at"`
	ID         string       `json:"id"`
	SourceFile string       `json:"source_file"`
	Schema     model.Schema `json:"schema"`
	Rows       []editor.Row `json:"rows"`
	Warnings   []string     `json:"warnings,omitempty"`
	Dirty      bool         `json:"dirty"`
	CanUndo    bool         `json:"can_undo"`
	CanRedo    bool         `json:"can_redo"`
}

func viewOf(sess *editor.Session) sessionView {
	return sessionView{
		ID:         sess.ID,
		SourceFile: sess.SourceFile,
		Schema:     sess.Schema,
		CreatedAt:  sess.CreatedAt,
		Rows:       sess.Store.Rows(),
		Dirty:      sess.Store.Dirty(),
		CanUndo:    sess.Store.CanUndo(),
		CanRedo:    sess.Store.CanRedo(),
	}
}

// session resolves the :id parameter, writing a 404 when it is unknown.
func (s *Server) session(c *gin.Context) (*editor.Session, bool) {
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(c *gin.Context) {
	loaded, err := s.loadUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	sess := s.deps.Sessions.Create(loaded.Source, loaded.Schema, loaded.Records)
	view := viewOf(sess)
	view.Warnings = warningStrings(loaded.Warnings)
	c.JSON(http.StatusCreated, view)
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) deleteSession(c *gin.Context) {
	if !s.deps.Sessions.Delete(c.Param("id")) {
		respondError(c, fmt.Errorf("session %s: %w", c.Param("id"), common.ErrNotFound))
		return
	}
	c.Status(http.StatusNoContent)
}

// patchRequest carries field edits keyed by canonical field name.
type patchRequest struct {
	Fields map[string]any `json:"fields"`
	IDs    []string       `json:"ids"`
}

func (r patchRequest) patch() (editor.Patch, error) {
	p := make(editor.Patch, len(r.Fields))
	for name, value := range r.Fields {
		f, err := model.ParseField(name)
		if err != nil {
			return nil, err
		}
		if f == model.FieldKey {
			return nil, fmt.Errorf("%w: the key cannot be edited", common.ErrValidation)
		}
		p[f] = value
	}
	return p, nil
}

func (s *Server) patchRow(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := req.patch()
	if err != nil {
		respondError(c, err)
		return
	}

	row, err := sess.Store.PatchOne(c.Param("rowID"), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) patchRows(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := req.patch()
	if err != nil {
		respondError(c, err)
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = sess.Store.SelectedIDs()
	}

	rows, err := sess.Store.PatchMany(ids, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) deleteRows(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = sess.Store.SelectedIDs()
	}
	c.JSON(http.StatusOK, gin.H{"deleted": sess.Store.DeleteMany(ids)})
}

type selectRequest struct {
	Selected *bool `json:"selected"`
}

// selectRow sets the selection of a row, or toggles it when the body does
// not name a state.
func (s *Server) selectRow(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req selectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	id := c.Param("rowID")
	var (
		selected bool
		err      error
	)
	if req.Selected != nil {
		selected = *req.Selected
		err = sess.Store.Select(id, selected)
	} else {
		selected, err = sess.Store.Toggle(id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "selected": selected})
}

type applyRequest struct {
	Key string `json:"key" binding:"required"`
}

// applySuggestion copies one of the row's pending suggestions onto it.
func (s *Server) applySuggestion(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	applied, err := sess.Store.ApplySuggestionKey(c.Param("rowID"), req.Key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (s *Server) undo(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if !sess.Store.Undo() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "nothing to undo"})
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) redo(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if !sess.Store.Redo() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "nothing to redo"})
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

type clearRequest struct {
	OnlySelected bool `json:"only_selected"`
}

func (s *Server) clearRows(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req clearRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": sess.Store.Clear(req.OnlySelected)})
}

// suggestRows attaches catalog suggestions to the listed rows, or to every
// row when none are listed.
func (s *Server) suggestRows(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req struct {
		Strategy string   `json:"strategy"`
		IDs      []string `json:"ids"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	strategy, err := matching.ParseStrategy(req.Strategy)
	if err != nil {
		badRequest(c, err)
		return
	}

	want := make(map[string]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		want[id] = struct{}{}
	}

	ctx := c.Request.Context()
	for _, row := range sess.Store.Rows() {
		if _, ok := want[row.ID]; len(want) > 0 && !ok {
			continue
		}
		q := matching.Query{Text: row.Record.Name, Manufacturer: model.Deref(row.Record.Manufacturer)}
		matches, err := s.deps.Matcher.Candidates(ctx, q, strategy)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := sess.Store.SetSuggestions(row.ID, matches); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

// saveSession persists the session's rows into the catalog. A fully
// successful save clears the dirty flag.
func (s *Server) saveSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	resp, err := s.persist(c, sess.SourceFile, sess.Schema, sess.Store.Records(), 0, s.deps.Import)
	if err != nil && resp == nil {
		respondError(c, err)
		return
	}
	if resp.Summary.Success {
		sess.Store.MarkClean()
	}
	c.JSON(http.StatusOK, resp)
}

// exportSession downloads the rows as XLSX, or CSV with ?format=csv. A
// successful export clears the dirty flag.
func (s *Server) exportSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "xlsx"))
	name := strings.TrimSuffix(sess.SourceFile, "."+lastExt(sess.SourceFile)) + "." + format

	var (
		buf         bytes.Buffer
		err         error
		contentType string
	)
	switch format {
	case "csv":
		contentType = "text/csv; charset=utf-8"
		err = exporter.WriteCSV(&buf, sess.Store.Records())
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = exporter.WriteXLSX(&buf, sess.Store.Records())
	default:
		badRequest(c, fmt.Errorf("%w: unknown export format %q", common.ErrUnsupportedFormat, format))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	sess.Store.MarkClean()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func lastExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}
