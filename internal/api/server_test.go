package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/smeta/internal/config"
	"github.com/Veraticus/smeta/internal/editor"
	"github.com/Veraticus/smeta/internal/matching"
	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/reconcile"
	"github.com/Veraticus/smeta/internal/testutil"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const materialCSV = "Наименование;Производитель;Цена\n" +
	"Прожектор светодиодный 50Вт;Световые технологии;3200\n" +
	"Кабель монтажный;ЗАО Кабель;10\n"

type testServer struct {
	db     *testutil.TestDB
	router *gin.Engine
	server *Server
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.SetupTestDB(t, testutil.FixtureLighting)
	engine := matching.NewEngine(matching.DefaultConfig())
	srv := NewServer(Deps{
		Catalog: db.Storage,
		Target: func(schema model.Schema, source string) reconcile.Store {
			return db.Storage.ImportTarget(schema, source)
		},
		Matcher:  matching.NewService(db.Storage, engine, matching.StrategyCombined, time.Minute),
		Sessions: editor.NewSessions(time.Hour, editor.DefaultHistoryLimit),
		Import:   reconcile.Options{Delay: -1},
		Version:  "test",
	})
	return &testServer{db: db, server: srv, router: srv.Router()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, path, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.uploadCtx(t, context.Background(), path, filename, content, fields)
}

func (ts *testServer) uploadCtx(t *testing.T, ctx context.Context, path, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequestWithContext(ctx, http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthCheckEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestSuggestEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("exact name", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/suggest", suggestRequest{Name: "прожектор светодиодный 50вт"})
		require.Equal(t, http.StatusOK, w.Code)

		body := decode[struct {
			Suggestions []matching.Suggestion `json:"suggestions"`
		}](t, w)
		require.Len(t, body.Suggestions, 1)
		assert.Equal(t, "L3", body.Suggestions[0].Key)
		assert.Equal(t, model.TierExact, body.Suggestions[0].Tier)
		assert.Equal(t, 100, body.Suggestions[0].Score)
	})

	t.Run("empty name", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/suggest", suggestRequest{})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"suggestions":[]}`, w.Body.String())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/suggest", suggestRequest{Name: "x", Strategy: "magic"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestImportEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	// Prime the suggestion cache before the import.
	w := ts.do(t, http.MethodPost, "/api/v1/suggest", suggestRequest{Name: "Кабель монтажный"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.upload(t, "/api/v1/imports", "prices.csv", materialCSV, map[string]string{"schema": "material"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[importResponse](t, w)
	assert.True(t, resp.Summary.Success)
	assert.Equal(t, 2, resp.Summary.Imported)
	assert.Equal(t, 0, resp.Summary.Updated)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "prices.csv", resp.Run.SourceFile)

	assert.Equal(t, 6, ts.db.MustCount())

	runs, err := ts.db.Storage.ListImportRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Inserted)

	// The cache was invalidated, so the new entry is found.
	w = ts.do(t, http.MethodPost, "/api/v1/suggest", suggestRequest{Name: "Кабель монтажный"})
	body := decode[struct {
		Suggestions []matching.Suggestion `json:"suggestions"`
	}](t, w)
	require.NotEmpty(t, body.Suggestions)
	assert.Equal(t, "Кабель монтажный", body.Suggestions[0].Name)

	// Importing the same file again updates instead of inserting.
	w = ts.upload(t, "/api/v1/imports", "prices.csv", materialCSV, nil)
	resp = decode[importResponse](t, w)
	assert.Equal(t, 0, resp.Summary.Imported)
	assert.Equal(t, 2, resp.Summary.Updated)
}

func TestImportEndpoint_Errors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		fields   map[string]string
		name     string
		filename string
		content  string
		want     int
	}{
		{name: "missing file", want: http.StatusBadRequest},
		{name: "bad schema", filename: "a.csv", content: materialCSV, fields: map[string]string{"schema": "furniture"}, want: http.StatusBadRequest},
		{name: "bad batch size", filename: "a.csv", content: materialCSV, fields: map[string]string{"batch_size": "zero"}, want: http.StatusBadRequest},
		{name: "unsupported format", filename: "a.pdf", content: "%PDF", want: http.StatusUnsupportedMediaType},
		{name: "unreadable workbook", filename: "a.xlsx", content: "not a zip", want: http.StatusUnprocessableEntity},
		{name: "product file without key", filename: "p.csv", content: "name;price\nЛампа;10\n", fields: map[string]string{"schema": "product"}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.upload(t, "/api/v1/imports", tt.filename, tt.content, tt.fields)
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			resp := decode[importResponse](t, w)
			assert.False(t, resp.Summary.Success)
			assert.Zero(t, resp.Summary.Imported)
			assert.Zero(t, resp.Summary.Updated)
			require.Len(t, resp.Summary.Errors, 1)
			assert.NotEmpty(t, resp.Summary.Errors[0])
			assert.Nil(t, resp.Run)
		})
	}
	assert.Equal(t, 4, ts.db.MustCount())
}

func TestImportEndpoint_RecordsRunWhenClientGoesAway(t *testing.T) {
	ts := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := ts.uploadCtx(t, ctx, "/api/v1/imports", "prices.csv", materialCSV, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[importResponse](t, w)
	require.NotNil(t, resp.Run)
	assert.True(t, resp.Run.Cancelled)
	assert.Zero(t, resp.Summary.Imported)
	assert.Equal(t, 4, ts.db.MustCount())

	runs, err := ts.db.Storage.ListImportRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.Run.ID, runs[0].ID)
	assert.True(t, runs[0].Cancelled)
}

func TestCatalogDeletion(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodDelete, "/api/v1/catalog/L1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 3, ts.db.MustCount())

	w = ts.do(t, http.MethodDelete, "/api/v1/catalog/L1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/catalog", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, ts.db.MustCount())
}

func createSession(t *testing.T, ts *testServer) sessionView {
	t.Helper()
	w := ts.upload(t, "/api/v1/sessions", "estimate.csv", materialCSV, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sessionView](t, w)
}

func TestSessions_UndoRedoRoundTrip(t *testing.T) {
	ts := setupTestServer(t)
	sess := createSession(t, ts)

	require.Len(t, sess.Rows, 2)
	assert.False(t, sess.Dirty)
	assert.False(t, sess.CanUndo)
	base := "/api/v1/sessions/" + sess.ID
	rowID := sess.Rows[0].ID

	w := ts.do(t, http.MethodPost, base+"/undo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPatch, base+"/rows/"+rowID, patchRequest{Fields: map[string]any{"price": 4100, "notes": "уточнить"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	row := decode[editor.Row](t, w)
	assert.InDelta(t, 4100, *row.Record.Price, 0.001)

	w = ts.do(t, http.MethodPost, base+"/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	undone := decode[sessionView](t, w)
	assert.InDelta(t, 3200, *undone.Rows[0].Record.Price, 0.001)
	assert.Nil(t, undone.Rows[0].Record.Notes)
	assert.True(t, undone.CanRedo)

	w = ts.do(t, http.MethodPost, base+"/redo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	redone := decode[sessionView](t, w)
	assert.InDelta(t, 4100, *redone.Rows[0].Record.Price, 0.001)
	assert.Equal(t, "уточнить", model.Deref(redone.Rows[0].Record.Notes))
	assert.True(t, redone.Dirty)

	w = ts.do(t, http.MethodPost, base+"/redo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessions_RowEdits(t *testing.T) {
	ts := setupTestServer(t)
	sess := createSession(t, ts)
	base := "/api/v1/sessions/" + sess.ID
	first, second := sess.Rows[0].ID, sess.Rows[1].ID

	t.Run("invalid patches", func(t *testing.T) {
		w := ts.do(t, http.MethodPatch, base+"/rows/"+first, patchRequest{Fields: map[string]any{"colour": "red"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = ts.do(t, http.MethodPatch, base+"/rows/"+first, patchRequest{Fields: map[string]any{"name": ""}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = ts.do(t, http.MethodPatch, base+"/rows/"+first, patchRequest{Fields: map[string]any{"key": "x"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = ts.do(t, http.MethodPatch, base+"/rows/missing", patchRequest{Fields: map[string]any{"unit": "м"}})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("select and bulk patch", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, base+"/rows/"+second+"/select", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"`+second+`","selected":true}`, w.Body.String())

		w = ts.do(t, http.MethodPatch, base+"/rows", patchRequest{Fields: map[string]any{"unit": "м"}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		view := decode[sessionView](t, ts.do(t, http.MethodGet, base, nil))
		assert.Equal(t, "шт.", model.Deref(view.Rows[0].Record.Unit))
		assert.Equal(t, "м", model.Deref(view.Rows[1].Record.Unit))

		w = ts.do(t, http.MethodPost, base+"/rows/"+second+"/select", selectRequest{Selected: new(bool)})
		assert.JSONEq(t, `{"id":"`+second+`","selected":false}`, w.Body.String())
	})

	t.Run("delete and clear", func(t *testing.T) {
		w := ts.do(t, http.MethodDelete, base+"/rows", idsRequest{IDs: []string{first, "missing"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

		w = ts.do(t, http.MethodPost, base+"/clear", clearRequest{})
		assert.JSONEq(t, `{"cleared":1}`, w.Body.String())

		w = ts.do(t, http.MethodPost, base+"/undo", nil)
		view := decode[sessionView](t, w)
		assert.Len(t, view.Rows, 1)
	})
}

func TestSessions_SuggestApplySave(t *testing.T) {
	ts := setupTestServer(t)
	sess := createSession(t, ts)
	base := "/api/v1/sessions/" + sess.ID
	rowID := sess.Rows[0].ID

	w := ts.do(t, http.MethodPost, base+"/suggest", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[sessionView](t, w)
	require.NotEmpty(t, view.Rows[0].Suggestions)
	assert.Equal(t, "L3", view.Rows[0].Suggestions[0].Entry.Key)
	assert.False(t, view.Dirty)

	w = ts.do(t, http.MethodPost, base+"/rows/"+rowID+"/apply", applyRequest{Key: "L1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, base+"/rows/"+rowID+"/apply", applyRequest{Key: "L3"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	row := decode[editor.Row](t, w)
	assert.Equal(t, "PR-50", model.Deref(row.Record.Code))
	assert.InDelta(t, 3100, *row.Record.Price, 0.001)
	assert.Empty(t, row.Suggestions)

	w = ts.do(t, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[importResponse](t, w)
	assert.True(t, resp.Summary.Success)
	assert.Equal(t, 2, resp.Summary.Imported)
	assert.Equal(t, 6, ts.db.MustCount())

	view = decode[sessionView](t, ts.do(t, http.MethodGet, base, nil))
	assert.False(t, view.Dirty)
	assert.True(t, view.CanUndo)
}

func TestSessions_Export(t *testing.T) {
	ts := setupTestServer(t)
	sess := createSession(t, ts)
	base := "/api/v1/sessions/" + sess.ID

	w := ts.do(t, http.MethodPatch, base+"/rows/"+sess.Rows[1].ID, patchRequest{Fields: map[string]any{"quantity": 12.5}})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, base+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "estimate.csv")
	assert.Contains(t, w.Body.String(), "Наименование")
	assert.Contains(t, w.Body.String(), "Кабель монтажный")
	assert.Contains(t, w.Body.String(), "12.5")

	view := decode[sessionView](t, ts.do(t, http.MethodGet, base, nil))
	assert.False(t, view.Dirty)

	w = ts.do(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "PK"))

	w = ts.do(t, http.MethodGet, base+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_NotFound(t *testing.T) {
	ts := setupTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/sessions/nope/undo", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/sessions/nope", nil).Code)

	sess := createSession(t, ts)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil).Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(idleLimiter + time.Second)
	l.Allow("10.0.0.3")
	assert.Len(t, l.clients, 1)
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := NewServer(Deps{
		Server: config.ServerConfig{RateLimit: 0.001, RateBurst: 1},
	})
	router := srv.Router()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
