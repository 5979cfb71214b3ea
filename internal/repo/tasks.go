package repo

import (
	"context"
	"errors"
	"time"

	"github.com/lumenshop/mailsched/internal/model"
)

var (
	// ErrNotFound signals an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrConflict signals a status-gated operation attempted against a task
	// that is no longer in the required status (e.g. editing a sent task, or
	// losing the pending->processing race to another caller).
	ErrConflict = errors.New("task status conflict")
)

// TaskPatch carries the fields an administrator may change while a task is
// still pending. Nil fields are left untouched.
type TaskPatch struct {
	Template      *model.Template
	Recipients    []string
	ScheduledTime *time.Time
}

// HealthStats is the aggregate view served by the cron health endpoint.
type HealthStats struct {
	CountsByStatus map[model.Status]int `json:"countsByStatus"`
	SentLastHour   int                  `json:"sentLastHour"`
	FailedLastDay  int                  `json:"failedLastDay"`
	LastSentAt     *time.Time           `json:"lastSentAt,omitempty"`
	Upcoming       []model.ScheduledTask `json:"upcoming"`
}

// TaskRepository is the single shared mutable resource of the delivery core.
// All cross-caller coordination happens through the conditional transitions
// below, never through in-memory locks, so multiple process instances can
// race against the same store safely.
type TaskRepository interface {
	Create(ctx context.Context, task *model.ScheduledTask) error
	Get(ctx context.Context, id string) (model.ScheduledTask, error)
	ListAll(ctx context.Context) ([]model.ScheduledTask, error)

	// ListPending returns every pending task ordered by scheduled time,
	// regardless of the due window. Used by the manual trigger path.
	ListPending(ctx context.Context) ([]model.ScheduledTask, error)

	// FindDue returns pending tasks eligible for pickup at now: first every
	// "missed" task (scheduled before now-past, oldest first), then tasks
	// inside the [now-past, now+future] window in ascending order. Missed
	// work drains before current work.
	FindDue(ctx context.Context, now time.Time, past, future time.Duration) ([]model.ScheduledTask, error)

	// MarkProcessing atomically flips pending -> processing. Exactly one of
	// any number of concurrent callers succeeds; the rest get ErrConflict.
	MarkProcessing(ctx context.Context, id string) error

	// MarkTerminal atomically flips processing -> sent|failed and records
	// the completion time.
	MarkTerminal(ctx context.Context, id string, status model.Status, sentAt time.Time) error

	// Update applies patch to a pending task; ErrConflict otherwise.
	Update(ctx context.Context, id string, patch TaskPatch) error

	// Delete removes a pending task; ErrConflict otherwise.
	Delete(ctx context.Context, id string) error

	// ReclaimStale flips processing rows older than olderThan back to
	// pending so a crashed run is retried instead of stuck forever.
	// Returns the number of reclaimed tasks.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)

	HealthStats(ctx context.Context, now time.Time, upcoming int) (HealthStats, error)
}
