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

// VNCSessionStorage implements the VNCSessionStorage interface for Badger
type VNCSessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVNCSessionStorage creates a new VNCSessionStorage instance
func NewVNCSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VNCSessionStorage {
	return &VNCSessionStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates a session row
func (s *VNCSessionStorage) Save(ctx context.Context, session *models.VNCSession) error {
	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save vnc session: %w", err)
	}
	return nil
}

// Get retrieves a session row by ID
func (s *VNCSessionStorage) Get(ctx context.Context, id string) (*models.VNCSession, error) {
	var session models.VNCSession
	err := s.db.Store().Get(id, &session)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("vnc session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vnc session: %w", err)
	}
	return &session, nil
}

// ListByStatus returns every session row in the given status
func (s *VNCSessionStorage) ListByStatus(ctx context.Context, status models.VNCSessionStatus) ([]*models.VNCSession, error) {
	var rows []models.VNCSession
	if err := s.db.Store().Find(&rows, badgerhold.Where("Status").Eq(status).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to list vnc sessions: %w", err)
	}
	out := make([]*models.VNCSession, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// ListActiveSince returns active sessions with activity after the cutoff
func (s *VNCSessionStorage) ListActiveSince(ctx context.Context, since time.Time) ([]*models.VNCSession, error) {
	var rows []models.VNCSession
	query := badgerhold.Where("Status").Eq(models.VNCActive).Index("Status").
		And("LastActive").Ge(since)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to list active vnc sessions: %w", err)
	}
	out := make([]*models.VNCSession, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// UpdateStatus transitions a session row's status
func (s *VNCSessionStorage) UpdateStatus(ctx context.Context, id string, status models.VNCSessionStatus) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	session.Status = status
	if err := s.db.Store().Update(id, session); err != nil {
		return fmt.Errorf("failed to update vnc session status: %w", err)
	}
	return nil
}

// Touch records activity on a session row for the idle sweep
func (s *VNCSessionStorage) Touch(ctx context.Context, id string, at time.Time) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	session.LastActive = at
	if err := s.db.Store().Update(id, session); err != nil {
		return fmt.Errorf("failed to touch vnc session: %w", err)
	}
	return nil
}

// Delete removes a session row
func (s *VNCSessionStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.VNCSession{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete vnc session: %w", err)
	}
	return nil
}
