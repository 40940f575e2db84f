package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/coreerr"
	"github.com/parsehaven/docforge/pkg/queue"
	"github.com/parsehaven/docforge/pkg/resilience"
	"github.com/parsehaven/docforge/pkg/security"
	"github.com/parsehaven/docforge/pkg/task"
)

// submitView is the minimal response spec.md §6.1 specifies for a
// successful submission, deliberately narrower than TaskView: the
// caller polls GET /tasks/{id} for everything else.
type submitView struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	FileName string `json:"file_name"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "malformed multipart upload", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "file field is required", err))
		return
	}
	defer file.Close()

	if err := security.ValidateFileName(header.Filename); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "invalid file name", err))
		return
	}

	uploadID := uuid.NewString()
	uploadDir := filepath.Join(s.cfg.UploadRoot, uploadID)
	uploadPath := filepath.Join(uploadDir, filepath.Base(header.Filename))
	if err := security.ValidatePathInBounds(uploadPath, s.cfg.UploadRoot); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "upload path rejected", err))
		return
	}

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindStoreUnavailable, "failed to prepare upload directory", err))
		return
	}
	dst, err := os.Create(uploadPath)
	if err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindStoreUnavailable, "failed to store upload", err))
		return
	}
	hasher := sha256.New()
	if _, err := io.Copy(dst, io.TeeReader(file, hasher)); err != nil {
		dst.Close()
		sendError(w, coreerr.Wrap(coreerr.KindStoreUnavailable, "failed to write upload", err))
		return
	}
	dst.Close()
	contentKey := hex.EncodeToString(hasher.Sum(nil))

	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}

	req := queue.SubmitRequest{
		OwnerUserID: principal.UserID,
		FileName:    header.Filename,
		FilePath:    uploadPath,
		Backend:     r.FormValue("backend"),
		Options:     submitOptions(r),
		ContentKey:  contentKey,
	}
	if v := r.FormValue("priority"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			req.Priority = &n
		}
	}
	if v := r.FormValue("max_retries"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			req.MaxRetries = &n
		}
	}

	t, err := s.queue.Submit(r.Context(), principal, req)
	if err != nil {
		sendError(w, err)
		return
	}

	sendJSON(w, http.StatusAccepted, submitView{TaskID: t.TaskID, Status: string(t.Status), FileName: t.FileName})
}

// submitOptions collects the engine-specific form fields spec.md §6.1
// lists (lang, method, formula_enable, table_enable) plus any
// additional scalar fields the caller supplied, into a generic options
// map forwarded to the engine adapter untouched.
func submitOptions(r *http.Request) map[string]any {
	known := []string{"lang", "method", "formula_enable", "table_enable"}
	opts := make(map[string]any)
	for _, k := range known {
		if v := r.FormValue(k); v != "" {
			opts[k] = v
		}
	}
	if r.MultipartForm != nil {
		for k, vals := range r.MultipartForm.Value {
			switch k {
			case "backend", "priority", "max_retries", "lang", "method", "formula_enable", "table_enable":
				continue
			}
			if len(vals) > 0 {
				opts[k] = vals[0]
			}
		}
	}
	return opts
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	taskID := mux.Vars(r)["id"]

	t, err := s.queue.GetByID(r.Context(), principal, taskID)
	if err != nil {
		sendError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	view := newTaskView(t).withContent(t, format)
	sendJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	taskID := mux.Vars(r)["id"]

	inFlight, err := s.queue.Cancel(r.Context(), principal, taskID)
	if err != nil {
		sendError(w, err)
		return
	}
	if inFlight {
		sendJSON(w, http.StatusOK, map[string]bool{"in_flight": true})
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	taskID := mux.Vars(r)["id"]

	events, err := s.queue.Events(r.Context(), principal, taskID)
	if err != nil {
		sendError(w, err)
		return
	}
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, newEventView(e))
	}
	sendJSON(w, http.StatusOK, views)
}

type listView struct {
	Tasks []TaskView `json:"tasks"`
	Total int        `json:"total"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}

	q := r.URL.Query()
	filter := task.ListFilter{
		Limit:  s.cfg.DefaultListLimit,
		Offset: 0,
	}
	if v := q.Get("status"); v != "" {
		filter.Status = task.Status(strings.ToLower(v))
		filter.HasStatus = true
	}
	if v := q.Get("limit"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > s.cfg.MaxListLimit {
		filter.Limit = s.cfg.MaxListLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n >= 0 {
			filter.Offset = n
		}
	}

	tasks, total, err := s.queue.List(r.Context(), principal, filter)
	if err != nil {
		sendError(w, err)
		return
	}
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
	}
	sendJSON(w, http.StatusOK, listView{Tasks: views, Total: total})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	stats, err := s.queue.Stats(r.Context(), principal)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, newStatsView(stats))
}

type resetStaleRequest struct {
	TimeoutMinutes int `json:"timeout_minutes"`
}

func (s *Server) handleResetStale(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	var body resetStaleRequest
	if err := decodeJSONBody(r, &body); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "invalid request body", err))
		return
	}
	if body.TimeoutMinutes <= 0 {
		sendError(w, coreerr.New(coreerr.KindInvalidInput, "timeout_minutes must be positive"))
		return
	}

	count, err := s.queue.ResetStale(r.Context(), principal, int64(body.TimeoutMinutes)*60)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"reset_count": count})
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	var body cleanupRequest
	if err := decodeJSONBody(r, &body); err != nil {
		sendError(w, coreerr.Wrap(coreerr.KindInvalidInput, "invalid request body", err))
		return
	}
	if body.RetentionDays <= 0 {
		sendError(w, coreerr.New(coreerr.KindInvalidInput, "retention_days must be positive"))
		return
	}

	count, err := s.queue.PurgeOld(r.Context(), principal, body.RetentionDays, s.cfg.OutputRoot)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int{"deleted_count": count})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.CheckNow("store")
	components := map[string]string{}
	if err != nil {
		components["store"] = fmt.Sprintf("unknown: %v", err)
	} else if result.Status == resilience.HealthHealthy {
		components["store"] = "healthy"
	} else {
		components["store"] = fmt.Sprintf("unhealthy: %s", result.Error)
	}

	if s.breakers != nil {
		for backend, stats := range s.breakers.Snapshot() {
			components["breaker:"+backend] = stats.State.String()
		}
	}

	status := "healthy"
	if s.health.GetOverallHealth() != resilience.HealthHealthy {
		status = "unhealthy"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = writeJSON(w, map[string]any{"status": status, "components": components})
}
