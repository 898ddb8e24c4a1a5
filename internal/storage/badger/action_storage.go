package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// actionLogTTL is how long interaction logs outlive their session.
const actionLogTTL = 24 * time.Hour

// ActionLogStorage implements the ActionLogStorage interface for Badger
type ActionLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewActionLogStorage creates a new ActionLogStorage instance
func NewActionLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ActionLogStorage {
	return &ActionLogStorage{
		db:     db,
		logger: logger,
	}
}

// Append adds one record to the per-(user, job) log, creating the log on
// first write. Every write pushes the expiry out to a full TTL.
func (s *ActionLogStorage) Append(ctx context.Context, userID, jobID string, rec models.ActionRecord) error {
	id := models.ActionLogID(userID, jobID)
	now := time.Now()

	var log models.ActionLog
	err := s.db.Store().Get(id, &log)
	if err == badgerhold.ErrNotFound {
		log = models.ActionLog{
			ID:        id,
			UserID:    userID,
			JobID:     jobID,
			CreatedAt: now,
		}
	} else if err != nil {
		return fmt.Errorf("failed to load action log: %w", err)
	}

	log.Records = append(log.Records, rec)
	log.ExpiresAt = now.Add(actionLogTTL)

	if err := s.db.Store().Upsert(id, &log); err != nil {
		return fmt.Errorf("failed to append action record: %w", err)
	}
	return nil
}

// Get retrieves the log for one (user, job) pair
func (s *ActionLogStorage) Get(ctx context.Context, userID, jobID string) (*models.ActionLog, error) {
	id := models.ActionLogID(userID, jobID)
	var log models.ActionLog
	err := s.db.Store().Get(id, &log)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("action log %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action log: %w", err)
	}
	return &log, nil
}

// MarkCompleted flags the log's session as finished
func (s *ActionLogStorage) MarkCompleted(ctx context.Context, userID, jobID string) error {
	id := models.ActionLogID(userID, jobID)
	var log models.ActionLog
	err := s.db.Store().Get(id, &log)
	if err == badgerhold.ErrNotFound {
		return fmt.Errorf("action log %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load action log: %w", err)
	}

	log.Completed = true
	if err := s.db.Store().Update(id, &log); err != nil {
		return fmt.Errorf("failed to mark action log completed: %w", err)
	}
	return nil
}

// DeleteExpired removes logs past their expiry and returns the count
func (s *ActionLogStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []models.ActionLog
	query := badgerhold.Where("ExpiresAt").Lt(now)
	if err := s.db.Store().Find(&expired, query); err != nil {
		return 0, fmt.Errorf("failed to find expired action logs: %w", err)
	}

	deleted := 0
	for _, log := range expired {
		if err := s.db.Store().Delete(log.ID, &models.ActionLog{}); err != nil {
			s.logger.Warn().Err(err).Str("id", log.ID).Msg("Failed to delete expired action log")
			continue
		}
		deleted++
	}
	return deleted, nil
}
