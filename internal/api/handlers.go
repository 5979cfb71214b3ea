package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumenshop/mailsched/internal/cache"
	"github.com/lumenshop/mailsched/internal/model"
	"github.com/lumenshop/mailsched/internal/repo"
	"github.com/lumenshop/mailsched/internal/scheduler"
	"github.com/lumenshop/mailsched/internal/service"
)

type Handler struct {
	sched *scheduler.Scheduler
	repo  repo.TaskRepository
	proc  *service.Processor
	cache cache.DeliveryCache

	sweepToken       string
	triggerThreshold time.Duration
	upcomingLimit    int

	now func() time.Time
}

type Options struct {
	SweepToken       string
	TriggerThreshold time.Duration
	UpcomingLimit    int
}

func NewHandler(s *scheduler.Scheduler, r repo.TaskRepository, p *service.Processor, c cache.DeliveryCache, opts Options) *Handler {
	if opts.UpcomingLimit <= 0 {
		opts.UpcomingLimit = 5
	}
	return &Handler{
		sched:            s,
		repo:             r,
		proc:             p,
		cache:            c,
		sweepToken:       opts.SweepToken,
		triggerThreshold: opts.TriggerThreshold,
		upcomingLimit:    opts.UpcomingLimit,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createTaskRequest struct {
	Template      model.Template        `json:"template"`
	Recipients    model.RecipientsInput `json:"recipients"`
	ScheduledTime *time.Time            `json:"scheduledTime"`
	Attachments   []model.Attachment    `json:"attachments"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := req.Template.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recipients, err := req.Recipients.Normalize()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.now()
	scheduledTime := now
	if req.ScheduledTime != nil {
		scheduledTime = req.ScheduledTime.UTC()
		if scheduledTime.Before(now) {
			writeError(w, http.StatusBadRequest, "scheduledTime must not be in the past")
			return
		}
	}

	task := model.ScheduledTask{
		Template:      req.Template,
		Recipients:    recipients,
		ScheduledTime: scheduledTime,
		Attachments:   req.Attachments,
	}

	if err := h.repo.Create(r.Context(), &task); err != nil {
		h.writeInternalError(w, "create task", err)
		return
	}

	// "Send soon" fast path: a task due before the next tick would
	// otherwise wait for the timer.
	if h.proc != nil && !scheduledTime.After(now.Add(h.triggerThreshold)) {
		// Detached from the request context: the response returns before
		// delivery finishes.
		go func(id string) {
			if _, err := h.proc.TriggerTask(context.Background(), id); err != nil {
				slog.Warn("immediate trigger after create failed", "task_id", id, "error", err)
			}
		}(task.ID)
	}

	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "task scheduled",
		Data:    map[string]any{"id": task.ID, "scheduledTime": task.ScheduledTime},
	})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.writeInternalError(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok", Data: tasks})
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok", Data: task})
}

type updateTaskRequest struct {
	Template      *model.Template        `json:"template"`
	Recipients    *model.RecipientsInput `json:"recipients"`
	ScheduledTime *time.Time             `json:"scheduledTime"`
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	patch := repo.TaskPatch{Template: req.Template}

	if req.Template != nil {
		if err := req.Template.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if req.Recipients != nil {
		recipients, err := req.Recipients.Normalize()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Recipients = recipients
	}

	if req.ScheduledTime != nil {
		t := req.ScheduledTime.UTC()
		if !t.After(h.now()) {
			writeError(w, http.StatusBadRequest, "scheduledTime must be in the future")
			return
		}
		patch.ScheduledTime = &t
	}

	if err := h.repo.Update(r.Context(), r.PathValue("id"), patch); err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "task updated"})
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "task deleted"})
}

type triggerRequest struct {
	ID string `json:"id"`
}

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		res service.SweepResult
		err error
	)
	if req.ID != "" {
		res, err = h.proc.TriggerTask(r.Context(), req.ID)
	} else {
		res, err = h.proc.TriggerAll(r.Context())
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if errors.Is(err, service.ErrNotPending) {
			writeError(w, http.StatusBadRequest, "task is not pending")
			return
		}
		h.writeInternalError(w, "manual trigger", err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "trigger complete", Data: res})
}

func (h *Handler) CronStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "ok",
		Data:    map[string]any{"jobs": []scheduler.State{h.sched.Snapshot()}},
	})
}

func (h *Handler) CronHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.HealthStats(r.Context(), h.now(), h.upcomingLimit)
	if err != nil {
		h.writeInternalError(w, "health stats", err)
		return
	}

	data := map[string]any{"tasks": stats}
	if h.cache != nil {
		if rec, err := h.cache.LastDelivery(r.Context()); err != nil {
			slog.Warn("delivery cache read failed", "error", err)
		} else if rec != nil {
			data["lastDelivery"] = rec
		}
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok", Data: data})
}

// Sweep is the externally callable sweep entry point, guarded by a shared
// bearer token when one is configured.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweepToken != "" && r.Header.Get("Authorization") != "Bearer "+h.sweepToken {
		writeError(w, http.StatusUnauthorized, "invalid sweep token")
		return
	}

	res, err := h.proc.Sweep(r.Context())
	if err != nil {
		h.writeInternalError(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "sweep complete", Data: res})
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	var missing *model.MissingFieldError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusBadRequest, "task is not pending")
	case errors.Is(err, model.ErrNoRecipients), errors.As(err, &missing):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.writeInternalError(w, "store operation", err)
	}
}

func (h *Handler) writeInternalError(w http.ResponseWriter, op string, err error) {
	slog.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
