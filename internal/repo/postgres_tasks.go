package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenshop/mailsched/internal/model"
)

const taskColumns = `id, template, recipients, scheduled_time, status, attachments, sent_at, created_at`

type PostgresTaskRepo struct {
	db *sql.DB
}

func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.ScheduledTask) error {
	if len(task.Recipients) == 0 {
		return model.ErrNoRecipients
	}
	if err := task.Template.Validate(); err != nil {
		return err
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = model.Pending
	task.CreatedAt = time.Now().UTC()

	templateJSON, err := json.Marshal(task.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	recipientsJSON, err := json.Marshal(task.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	attachmentsJSON, err := json.Marshal(task.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_emails
			(id, template, recipients, scheduled_time, status, attachments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)
	`, task.ID, templateJSON, recipientsJSON, task.ScheduledTime.UTC(), attachmentsJSON, task.CreatedAt)
	return err
}

func (r *PostgresTaskRepo) Get(ctx context.Context, id string) (model.ScheduledTask, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_emails
		WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduledTask{}, ErrNotFound
	}
	return task, err
}

func (r *PostgresTaskRepo) ListAll(ctx context.Context) ([]model.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_emails
		ORDER BY scheduled_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (r *PostgresTaskRepo) ListPending(ctx context.Context) ([]model.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_emails
		WHERE status = 'pending'
		ORDER BY scheduled_time ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (r *PostgresTaskRepo) FindDue(ctx context.Context, now time.Time, past, future time.Duration) ([]model.ScheduledTask, error) {
	lower := now.Add(-past).UTC()
	upper := now.Add(future).UTC()

	missedRows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_emails
		WHERE status = 'pending' AND scheduled_time < $1
		ORDER BY scheduled_time ASC
	`, lower)
	if err != nil {
		return nil, err
	}
	defer missedRows.Close()

	missed, err := collectTasks(missedRows)
	if err != nil {
		return nil, err
	}

	windowRows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_emails
		WHERE status = 'pending' AND scheduled_time >= $1 AND scheduled_time <= $2
		ORDER BY scheduled_time ASC
	`, lower, upper)
	if err != nil {
		return nil, err
	}
	defer windowRows.Close()

	inWindow, err := collectTasks(windowRows)
	if err != nil {
		return nil, err
	}

	return append(missed, inWindow...), nil
}

func (r *PostgresTaskRepo) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PostgresTaskRepo) MarkTerminal(ctx context.Context, id string, status model.Status, sentAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET status = $2, sent_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, string(status), sentAt.UTC())
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PostgresTaskRepo) Update(ctx context.Context, id string, patch TaskPatch) error {
	templateJSON := []byte(nil)
	if patch.Template != nil {
		if err := patch.Template.Validate(); err != nil {
			return err
		}
		b, err := json.Marshal(patch.Template)
		if err != nil {
			return fmt.Errorf("encode template: %w", err)
		}
		templateJSON = b
	}

	recipientsJSON := []byte(nil)
	if patch.Recipients != nil {
		if len(patch.Recipients) == 0 {
			return model.ErrNoRecipients
		}
		b, err := json.Marshal(patch.Recipients)
		if err != nil {
			return fmt.Errorf("encode recipients: %w", err)
		}
		recipientsJSON = b
	}

	var scheduled *time.Time
	if patch.ScheduledTime != nil {
		t := patch.ScheduledTime.UTC()
		scheduled = &t
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET template       = COALESCE($2, template),
		    recipients     = COALESCE($3, recipients),
		    scheduled_time = COALESCE($4, scheduled_time),
		    updated_at     = now()
		WHERE id = $1 AND status = 'pending'
	`, id, templateJSON, recipientsJSON, scheduled)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_emails
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return err
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PostgresTaskRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET status = 'pending', updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresTaskRepo) HealthStats(ctx context.Context, now time.Time, upcoming int) (HealthStats, error) {
	stats := HealthStats{CountsByStatus: make(map[model.Status]int)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, count(*)
		FROM scheduled_emails
		GROUP BY status
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.CountsByStatus[model.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM scheduled_emails
		WHERE status = 'sent' AND sent_at >= $1
	`, now.Add(-time.Hour).UTC()).Scan(&stats.SentLastHour)
	if err != nil {
		return stats, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM scheduled_emails
		WHERE status = 'failed' AND sent_at >= $1
	`, now.Add(-24*time.Hour).UTC()).Scan(&stats.FailedLastDay)
	if err != nil {
		return stats, err
	}

	var lastSent sql.NullTime
	err = r.db.QueryRowContext(ctx, `
		SELECT max(sent_at)
		FROM scheduled_emails
		WHERE status = 'sent'
	`).Scan(&lastSent)
	if err != nil {
		return stats, err
	}
	if lastSent.Valid {
		t := lastSent.Time
		stats.LastSentAt = &t
	}

	if upcoming > 0 {
		upcomingRows, err := r.db.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM scheduled_emails
			WHERE status = 'pending' AND scheduled_time >= $1
			ORDER BY scheduled_time ASC
			LIMIT $2
		`, now.UTC(), upcoming)
		if err != nil {
			return stats, err
		}
		defer upcomingRows.Close()

		stats.Upcoming, err = collectTasks(upcomingRows)
		if err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// checkTransition maps a zero-row conditional update to ErrNotFound or
// ErrConflict depending on whether the id exists at all.
func (r *PostgresTaskRepo) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM scheduled_emails WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.ScheduledTask, error) {
	var (
		task            model.ScheduledTask
		status          string
		templateJSON    []byte
		recipientsJSON  []byte
		attachmentsJSON []byte
		sentAt          sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&templateJSON,
		&recipientsJSON,
		&task.ScheduledTime,
		&status,
		&attachmentsJSON,
		&sentAt,
		&task.CreatedAt,
	)
	if err != nil {
		return model.ScheduledTask{}, err
	}

	task.Status = model.Status(status)
	if err := json.Unmarshal(templateJSON, &task.Template); err != nil {
		return model.ScheduledTask{}, fmt.Errorf("decode template: %w", err)
	}
	if err := json.Unmarshal(recipientsJSON, &task.Recipients); err != nil {
		return model.ScheduledTask{}, fmt.Errorf("decode recipients: %w", err)
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &task.Attachments); err != nil {
			return model.ScheduledTask{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if sentAt.Valid {
		t := sentAt.Time
		task.SentAt = &t
	}
	return task, nil
}

func collectTasks(rows *sql.Rows) ([]model.ScheduledTask, error) {
	var out []model.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
