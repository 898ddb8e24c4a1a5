package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// VNCSessionStorage persists the durable session rows used for fleet
// allocation and restart recovery.
type VNCSessionStorage interface {
	Save(ctx context.Context, session *models.VNCSession) error
	Get(ctx context.Context, id string) (*models.VNCSession, error)
	ListByStatus(ctx context.Context, status models.VNCSessionStatus) ([]*models.VNCSession, error)
	ListActiveSince(ctx context.Context, since time.Time) ([]*models.VNCSession, error)
	UpdateStatus(ctx context.Context, id string, status models.VNCSessionStatus) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// ActionLogStorage persists per-(user, job) interaction logs with a
// 24-hour time-to-live.
type ActionLogStorage interface {
	Append(ctx context.Context, userID, jobID string, rec models.ActionRecord) error
	Get(ctx context.Context, userID, jobID string) (*models.ActionLog, error)
	MarkCompleted(ctx context.Context, userID, jobID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// BatchStorage persists batches and their job slots.
type BatchStorage interface {
	Save(ctx context.Context, batch *models.Batch) error
	Get(ctx context.Context, id string) (*models.Batch, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Batch, error)
	// UpdateSlot applies fn to the named slot under the store's write lock
	// and persists the batch.
	UpdateSlot(ctx context.Context, batchID, jobID string, fn func(*models.JobSlot)) error
}

// KVStorage is a small key/value store used for rate-limit counters and
// encrypted secrets.
type KVStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Increment atomically adds delta to an integer value, creating it at
	// zero, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}

// StorageManager aggregates the per-entity stores over one database.
type StorageManager interface {
	VNCSessionStorage() VNCSessionStorage
	ActionLogStorage() ActionLogStorage
	BatchStorage() BatchStorage
	KeyValueStorage() KVStorage
	Close() error
}
