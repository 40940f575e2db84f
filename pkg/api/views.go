package api

import (
	"os"
	"time"

	"github.com/parsehaven/docforge/pkg/task"
)

// TaskView is the JSON-tagged wire representation of a task.Task. The
// domain type carries no JSON tags of its own (pkg/task is transport-
// agnostic), so every field crossing the HTTP boundary is mapped here
// explicitly, mirroring the teacher's AnnouncementView/StatsView split
// between domain model and response shape.
type TaskView struct {
	TaskID      string         `json:"task_id"`
	OwnerUserID string         `json:"owner_user_id"`
	FileName    string         `json:"file_name"`
	Backend     string         `json:"backend"`
	Options     map[string]any `json:"options,omitempty"`
	Priority    int            `json:"priority"`
	Status      string         `json:"status"`

	WorkerID    *string    `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	ErrorMessage *string `json:"error_message,omitempty"`

	MarkdownFile *string `json:"markdown_file,omitempty"`
	JSONFile     *string `json:"json_file,omitempty"`

	// Data carries the inline content requested via ?format=, populated
	// only for a completed task's single-task GET.
	Data *TaskContentView `json:"data,omitempty"`
}

// TaskContentView is the optional inline-content payload for
// GET /tasks/{id}, shaped per spec.md §6.1's response column.
type TaskContentView struct {
	Content       string `json:"content,omitempty"`
	MarkdownFile  string `json:"markdown_file,omitempty"`
	JSONContent   string `json:"json_content,omitempty"`
	JSONFile      string `json:"json_file,omitempty"`
	JSONAvailable bool   `json:"json_available"`
}

func newTaskView(t *task.Task) TaskView {
	return TaskView{
		TaskID:       t.TaskID,
		OwnerUserID:  t.OwnerUserID,
		FileName:     t.FileName,
		Backend:      t.Backend,
		Options:      t.Options,
		Priority:     t.Priority,
		Status:       string(t.Status),
		WorkerID:     t.WorkerID,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		UpdatedAt:    t.UpdatedAt,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		ErrorMessage: t.ErrorMessage,
		MarkdownFile: t.MarkdownFile,
		JSONFile:     t.JSONFile,
	}
}

// format selection for GET /tasks/{id}.
const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatBoth     = "both"
)

// withContent populates Data for a completed task per the requested
// format, reading artifact files directly off disk. Read failures are
// swallowed into an empty content field rather than failing the whole
// response: a missing artifact file leaves its content field empty and
// is not logged; it is not a reason to 500 a status check.
func (v TaskView) withContent(t *task.Task, format string) TaskView {
	if t.Status != task.StatusCompleted {
		return v
	}
	content := TaskContentView{JSONAvailable: t.JSONFile != nil}
	if t.MarkdownFile != nil {
		content.MarkdownFile = *t.MarkdownFile
		if format == formatMarkdown || format == formatBoth || format == "" {
			if b, err := os.ReadFile(*t.MarkdownFile); err == nil {
				content.Content = string(b)
			}
		}
	}
	if t.JSONFile != nil {
		content.JSONFile = *t.JSONFile
		if format == formatJSON || format == formatBoth {
			if b, err := os.ReadFile(*t.JSONFile); err == nil {
				content.JSONContent = string(b)
			}
		}
	}
	v.Data = &content
	return v
}

// EventView is the JSON-tagged wire representation of task.Event.
type EventView struct {
	TaskID     string    `json:"task_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	At         time.Time `json:"at"`
	Detail     string    `json:"detail,omitempty"`
}

func newEventView(e task.Event) EventView {
	return EventView{
		TaskID:     e.TaskID,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		At:         e.At,
		Detail:     e.Detail,
	}
}

// StatsView is the JSON-tagged wire representation of task.Stats.
type StatsView struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}

func newStatsView(s task.Stats) StatsView {
	return StatsView{
		Pending:    s.Pending,
		Processing: s.Processing,
		Completed:  s.Completed,
		Failed:     s.Failed,
		Cancelled:  s.Cancelled,
		Total:      s.Total,
	}
}
