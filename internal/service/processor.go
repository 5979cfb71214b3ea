package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenshop/mailsched/internal/cache"
	"github.com/lumenshop/mailsched/internal/mailer"
	"github.com/lumenshop/mailsched/internal/metrics"
	"github.com/lumenshop/mailsched/internal/model"
	"github.com/lumenshop/mailsched/internal/repo"
)

// Mailer is the outbound transport collaborator. The error is non-nil only
// when the whole call failed; per-recipient outcomes live in the Result.
type Mailer interface {
	Send(ctx context.Context, recipients []string, tmpl model.Template, attachments []model.Attachment) (mailer.Result, error)
}

// TaskResult is the per-task record accumulated for the sweep summary and
// the manual-trigger response.
type TaskResult struct {
	ID         string       `json:"id"`
	Subject    string       `json:"subject"`
	Recipients int          `json:"recipients"`
	Sent       int          `json:"sent"`
	Status     model.Status `json:"status,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type SweepResult struct {
	StartedAt time.Time    `json:"startedAt"`
	Reclaimed int          `json:"reclaimed"`
	Processed []TaskResult `json:"processed"`
	Sent      int          `json:"sent"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
}

// ErrNotPending is returned by TriggerTask when the requested task has
// already left the pending status.
var ErrNotPending = errors.New("task is not pending")

// Processor turns due tasks into delivery attempts with durable outcomes.
// All mutual exclusion is the store's conditional pending -> processing
// transition: whichever caller flips it owns the task, everyone else skips.
type Processor struct {
	repo       repo.TaskRepository
	mailer     Mailer
	cache      cache.DeliveryCache
	pastWindow time.Duration
	future     time.Duration
	staleAfter time.Duration

	now func() time.Time
}

func NewProcessor(r repo.TaskRepository, m Mailer, window, staleAfter time.Duration) *Processor {
	return &Processor{
		repo:       r,
		mailer:     m,
		pastWindow: window,
		future:     window,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithCache attaches a best-effort delivery cache. Cache errors are logged
// and never affect task outcomes.
func (p *Processor) WithCache(c cache.DeliveryCache) *Processor {
	p.cache = c
	return p
}

// WithClock overrides the time source. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Sweep runs one due-task pass: reclaim stale claims, query due + missed
// tasks, process each in order. A store error aborts the sweep (the next
// tick retries from scratch); a single bad task only fails itself.
func (p *Processor) Sweep(ctx context.Context) (SweepResult, error) {
	now := p.now()
	res := SweepResult{StartedAt: now}
	metrics.SweepsTotal.Inc()

	if p.staleAfter > 0 {
		reclaimed, err := p.repo.ReclaimStale(ctx, now.Add(-p.staleAfter))
		if err != nil {
			metrics.SweepErrors.Inc()
			return res, fmt.Errorf("reclaim stale tasks: %w", err)
		}
		if reclaimed > 0 {
			slog.Warn("reclaimed stale processing tasks", "count", reclaimed)
		}
		res.Reclaimed = reclaimed
	}

	due, err := p.repo.FindDue(ctx, now, p.pastWindow, p.future)
	if err != nil {
		metrics.SweepErrors.Inc()
		return res, fmt.Errorf("query due tasks: %w", err)
	}

	p.processAll(ctx, due, &res)
	return res, nil
}

// TriggerTask processes one task immediately, bypassing the timer. The task
// must still be pending.
func (p *Processor) TriggerTask(ctx context.Context, id string) (SweepResult, error) {
	res := SweepResult{StartedAt: p.now()}

	task, err := p.repo.Get(ctx, id)
	if err != nil {
		return res, err
	}
	if task.Status != model.Pending {
		return res, fmt.Errorf("%w: task %s is %s", ErrNotPending, id, task.Status)
	}

	p.processAll(ctx, []model.ScheduledTask{task}, &res)
	return res, nil
}

// TriggerAll processes every currently-pending task regardless of its
// scheduled time. Administrative override path.
func (p *Processor) TriggerAll(ctx context.Context) (SweepResult, error) {
	res := SweepResult{StartedAt: p.now()}

	pending, err := p.repo.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("query pending tasks: %w", err)
	}

	p.processAll(ctx, pending, &res)
	return res, nil
}

func (p *Processor) processAll(ctx context.Context, tasks []model.ScheduledTask, res *SweepResult) {
	for _, task := range tasks {
		tr := p.processOne(ctx, task)
		res.Processed = append(res.Processed, tr)
		switch {
		case tr.Skipped:
			res.Skipped++
		case tr.Status == model.Sent:
			res.Sent++
		default:
			res.Failed++
		}
	}
}

// processOne drives the pending -> processing -> sent|failed state machine
// for a single task. A panic anywhere past the claim marks the task failed
// before the sweep moves on: a claimed task must never be left in
// processing by this path.
func (p *Processor) processOne(ctx context.Context, task model.ScheduledTask) (tr TaskResult) {
	tr = TaskResult{
		ID:         task.ID,
		Subject:    task.Template.Subject,
		Recipients: len(task.Recipients),
	}

	err := p.repo.MarkProcessing(ctx, task.ID)
	if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
		// Another caller owns it (or it was deleted since the query).
		tr.Skipped = true
		return tr
	}
	if err != nil {
		tr.Skipped = true
		tr.Error = err.Error()
		slog.Error("failed to claim task", "task_id", task.ID, "error", err)
		return tr
	}

	metrics.TasksProcessing.Inc()
	defer metrics.TasksProcessing.Dec()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("task processing panic recovered", "task_id", task.ID, "panic", r)
			tr.Status = model.Failed
			tr.Error = fmt.Sprintf("panic: %v", r)
			p.finish(ctx, task, &tr, mailer.Result{})
		}
	}()

	result, sendErr := p.mailer.Send(ctx, task.Recipients, task.Template, task.Attachments)

	// Delivery policy: the task counts as sent when at least one recipient
	// was accepted and the transport call itself did not error.
	if sendErr == nil && result.Sent >= 1 {
		tr.Status = model.Sent
	} else {
		tr.Status = model.Failed
		if sendErr != nil {
			tr.Error = sendErr.Error()
		} else {
			tr.Error = fmt.Sprintf("no recipients accepted (%d failed)", result.Failed)
		}
	}

	p.finish(ctx, task, &tr, result)
	return tr
}

func (p *Processor) finish(ctx context.Context, task model.ScheduledTask, tr *TaskResult, result mailer.Result) {
	now := p.now()
	tr.Sent = result.Sent

	if err := p.repo.MarkTerminal(ctx, task.ID, tr.Status, now); err != nil {
		slog.Error("failed to record task outcome", "task_id", task.ID, "status", tr.Status, "error", err)
		if tr.Error == "" {
			tr.Error = err.Error()
		}
	}

	if tr.Status == model.Sent {
		metrics.TasksSent.Inc()
		slog.Info("task sent",
			"task_id", task.ID,
			"subject", task.Template.Subject,
			"recipients", len(task.Recipients),
			"accepted", result.Sent,
			"rejected", result.Failed,
		)
	} else {
		metrics.TasksFailed.Inc()
		slog.Error("task failed",
			"task_id", task.ID,
			"subject", task.Template.Subject,
			"error", tr.Error,
		)
	}
	metrics.RecipientsSent.Add(float64(result.Sent))
	metrics.RecipientsFailed.Add(float64(result.Failed))

	if p.cache != nil {
		rec := cache.DeliveryRecord{
			TaskID:    task.ID,
			Status:    tr.Status,
			SentAt:    now,
			SentCount: result.Sent,
		}
		if err := p.cache.StoreResult(ctx, rec); err != nil {
			slog.Warn("delivery cache write failed", "task_id", task.ID, "error", err)
		}
	}
}
