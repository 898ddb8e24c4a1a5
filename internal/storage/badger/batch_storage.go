package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// BatchStorage implements the BatchStorage interface for Badger. Slot
// updates run under a process-wide write lock so concurrent progress
// callbacks never lose writes.
type BatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewBatchStorage creates a new BatchStorage instance
func NewBatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BatchStorage {
	return &BatchStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates a batch
func (s *BatchStorage) Save(ctx context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// Get retrieves a batch by ID
func (s *BatchStorage) Get(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.Store().Get(id, &batch)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("batch %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

// ListByUser returns a user's batches, newest first
func (s *BatchStorage) ListByUser(ctx context.Context, userID string) ([]*models.Batch, error) {
	var rows []models.Batch
	query := badgerhold.Where("UserID").Eq(userID).Index("UserID").SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	out := make([]*models.Batch, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// UpdateSlot applies fn to the named slot and persists the batch under
// the write lock
func (s *BatchStorage) UpdateSlot(ctx context.Context, batchID, jobID string, fn func(*models.JobSlot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch models.Batch
	err := s.db.Store().Get(batchID, &batch)
	if err == badgerhold.ErrNotFound {
		return fmt.Errorf("batch %s not found", batchID)
	}
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}

	slot := batch.Slot(jobID)
	if slot == nil {
		return fmt.Errorf("job %s not found in batch %s", jobID, batchID)
	}
	fn(slot)

	if err := s.db.Store().Update(batchID, &batch); err != nil {
		return fmt.Errorf("failed to update batch slot: %w", err)
	}
	return nil
}
