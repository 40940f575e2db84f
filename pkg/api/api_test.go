package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsehaven/docforge/pkg/api"
	"github.com/parsehaven/docforge/pkg/logging"
	"github.com/parsehaven/docforge/pkg/queue"
	"github.com/parsehaven/docforge/pkg/task"
	"github.com/parsehaven/docforge/pkg/task/memstore"
)

func newTestServer(t *testing.T) (*api.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := queue.New(store, queue.Defaults{Priority: 0, MaxRetries: 2}, nil, nil)
	log := logging.New(&logging.Config{Level: logging.ErrorLevel, Format: logging.TextFormat, Output: &bytes.Buffer{}})
	cfg := api.Config{UploadRoot: t.TempDir(), OutputRoot: t.TempDir()}
	return api.New(cfg, svc, nil, nil, nil, log), store
}

func adminRequest(method, path string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("X-Principal-User-Id", "admin1")
	r.Header.Set("X-Principal-Role", "admin")
	return r
}

func multipartSubmit(t *testing.T, backend, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("backend", backend))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/submit", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())
	r.Header.Set("X-Principal-User-Id", "alice")
	r.Header.Set("X-Principal-Role", "user")
	return r
}

func TestSubmitThenGetHappyPath(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartSubmit(t, "pipeline", "a.pdf", "hello"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	taskID := data["task_id"].(string)
	assert.Equal(t, "pending", data["status"])

	outDir := t.TempDir()
	mdPath := filepath.Join(outDir, "a.md")
	require.NoError(t, os.WriteFile(mdPath, []byte("# A"), 0o644))
	_, err := store.ClaimNext(t.Context(), "w1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Complete(t.Context(), taskID, "w1", outDir, mdPath, ""))

	rec = httptest.NewRecorder()
	req := adminRequest(http.MethodGet, "/api/v1/tasks/"+taskID+"?format=markdown", nil)
	req.Header.Set("X-Principal-User-Id", "alice")
	req.Header.Set("X-Principal-Role", "user")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	view := resp.Data.(map[string]any)
	assert.Equal(t, "completed", view["status"])
	content := view["data"].(map[string]any)
	assert.Equal(t, "# A", content["content"])
}

func TestCancelWhilePending(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartSubmit(t, "pipeline", "b.pdf", "x"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp api.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	taskID := resp.Data.(map[string]any)["task_id"].(string)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/"+taskID, nil)
	req.Header.Set("X-Principal-User-Id", "alice")
	req.Header.Set("X-Principal-Role", "user")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp.Data.(map[string]any)["cancelled"])
}

func TestOwnerIsolationOnList(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router(nil)

	require.NoError(t, store.Insert(t.Context(), &task.Task{TaskID: "t1", OwnerUserID: "alice", FileName: "a", FilePath: "/tmp/a", Backend: "pipeline", Status: task.StatusPending}))
	require.NoError(t, store.Insert(t.Context(), &task.Task{TaskID: "t2", OwnerUserID: "bob", FileName: "b", FilePath: "/tmp/b", Backend: "pipeline", Status: task.StatusPending}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/tasks", nil)
	req.Header.Set("X-Principal-User-Id", "alice")
	req.Header.Set("X-Principal-Role", "user")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	listData := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), listData["total"])
}

func TestAdminResetStaleAndCleanup(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router(nil)

	require.NoError(t, store.Insert(t.Context(), &task.Task{TaskID: "t1", OwnerUserID: "alice", FileName: "a", FilePath: "/tmp/a", Backend: "pipeline", Status: task.StatusPending, MaxRetries: 1}))
	_, err := store.ClaimNext(t.Context(), "phantom", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/queue/reset-stale", []byte(`{"timeout_minutes":0}`)))
	// timeout_minutes:0 is rejected as invalid_input
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/admin/queue/cleanup", []byte(`{"retention_days":7}`)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsStoreStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}
