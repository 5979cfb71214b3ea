package cache

import (
	"context"
	"time"

	"github.com/lumenshop/mailsched/internal/model"
)

// DeliveryRecord is the cached outcome of one completed task.
type DeliveryRecord struct {
	TaskID    string       `json:"taskId"`
	Status    model.Status `json:"status"`
	SentAt    time.Time    `json:"sentAt"`
	SentCount int          `json:"sentCount"`
}

// DeliveryCache keeps recent delivery outcomes so the health endpoint can
// answer "what went out last" without a store round trip. Implementations
// are best-effort: callers log and continue on error.
type DeliveryCache interface {
	StoreResult(ctx context.Context, rec DeliveryRecord) error
	LastDelivery(ctx context.Context) (*DeliveryRecord, error)
}
