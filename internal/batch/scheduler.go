package batch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Scheduler runs batches of application jobs. Slots inside one batch run
// strictly in sequence; batches from different users run in parallel up
// to the configured bound.
type Scheduler struct {
	cfg    common.BatchConfig
	store  interfaces.BatchStorage
	runner interfaces.SessionRunner
	fleet  interfaces.Fleet
	events interfaces.EventService
	logger arbor.ILogger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // batch id -> in-flight run cancel
}

// NewScheduler creates the batch scheduler.
func NewScheduler(cfg common.BatchConfig, store interfaces.BatchStorage, runner interfaces.SessionRunner, fleet interfaces.Fleet, events interfaces.EventService, logger arbor.ILogger) *Scheduler {
	concurrency := cfg.MaxConcurrentBatches
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		fleet:   fleet,
		events:  events,
		logger:  logger,
		sem:     make(chan struct{}, concurrency),
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartBatch validates the URL list, persists the batch with every slot
// queued, and starts the run in the background. The caller polls GetBatch
// for progress.
func (s *Scheduler) StartBatch(ctx context.Context, userID string, urls []string, tailor []bool) (*models.Batch, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("batch requires at least one job url")
	}
	if len(urls) > s.cfg.MaxURLs {
		return nil, fmt.Errorf("batch of %d urls exceeds the limit of %d", len(urls), s.cfg.MaxURLs)
	}
	for _, raw := range urls {
		u, err := url.ParseRequestURI(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid job url: %s", raw)
		}
	}

	now := time.Now()
	batch := &models.Batch{
		ID:        common.NewBatchID(),
		UserID:    userID,
		Status:    models.BatchRunning,
		Slots:     make([]models.JobSlot, len(urls)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, raw := range urls {
		batch.Slots[i] = models.JobSlot{
			JobID:     common.NewJobID(),
			JobURL:    raw,
			Status:    models.SessionQueued,
			UpdatedAt: now,
		}
		if i < len(tailor) {
			batch.Slots[i].TailorResume = tailor[i]
		}
	}

	if err := s.store.Save(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	s.publish(models.EventBatchCreated, map[string]interface{}{
		"batch_id": batch.ID,
		"user_id":  userID,
		"slots":    len(batch.Slots),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[batch.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runBatch(runCtx, batch.ID, userID)

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("user_id", userID).
		Int("slots", len(batch.Slots)).
		Msg("Batch started")
	return batch, nil
}

// runBatch executes the batch's slots one after another. Slot order is
// submission order; a failed slot never blocks the next one.
func (s *Scheduler) runBatch(ctx context.Context, batchID, userID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, batchID)
		s.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return
	}

	batch, err := s.store.Get(ctx, batchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch vanished before run")
		return
	}

	for _, slot := range batch.Slots {
		if ctx.Err() != nil {
			return
		}
		if current, err := s.store.Get(ctx, batchID); err == nil && current.Status == models.BatchClosed {
			return
		}

		s.runSlot(ctx, batchID, userID, slot.JobID, slot.JobURL)
	}

	s.completeIfDone(context.Background(), batchID)
}

func (s *Scheduler) runSlot(ctx context.Context, batchID, userID, jobID, jobURL string) {
	s.updateSlot(ctx, batchID, jobID, func(slot *models.JobSlot) {
		slot.Status = models.SessionStarting
	})
	s.publish(models.EventSlotStarted, map[string]interface{}{
		"batch_id": batchID,
		"job_id":   jobID,
		"job_url":  jobURL,
	})

	progress := func(pct int) {
		s.updateSlot(ctx, batchID, jobID, func(slot *models.JobSlot) {
			slot.Status = models.SessionFilling
			slot.Progress = pct
		})
		s.publish(models.EventSlotProgress, map[string]interface{}{
			"batch_id": batchID,
			"job_id":   jobID,
			"progress": pct,
		})
	}

	result := s.runner.Run(ctx, userID, jobID, jobURL, progress)

	// A batch close can cancel ctx while the runner winds down; the
	// terminal slot state is recorded regardless.
	s.updateSlot(context.Background(), batchID, jobID, func(slot *models.JobSlot) {
		slot.Status = result.State
		slot.Error = result.Error
		slot.VNCSessionID = result.SessionID
		slot.ViewerURL = result.ViewerURL
		if result.State == models.SessionSubmitted {
			slot.Progress = 100
		}
	})

	switch result.State {
	case models.SessionSubmitted:
		s.publish(models.EventSlotCompleted, map[string]interface{}{
			"batch_id": batchID,
			"job_id":   jobID,
		})
	case models.SessionFailed:
		s.publish(models.EventSlotFailed, map[string]interface{}{
			"batch_id": batchID,
			"job_id":   jobID,
			"error":    result.Error,
		})
	}
	// ready_for_review is announced by the session runner with the
	// viewer URL attached.
}

// GetBatch returns a batch owned by the user.
func (s *Scheduler) GetBatch(ctx context.Context, userID, batchID string) (*models.Batch, error) {
	batch, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != userID {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	return batch, nil
}

// MarkSubmitted records that the user manually finished a
// ready_for_review slot. Its VNC session is released; the slot counts as
// completed from here on.
func (s *Scheduler) MarkSubmitted(ctx context.Context, userID, batchID, jobID string) error {
	batch, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return err
	}
	slot := batch.Slot(jobID)
	if slot == nil {
		return fmt.Errorf("job %s not found in batch %s", jobID, batchID)
	}
	if slot.Status != models.SessionReadyForReview {
		return fmt.Errorf("job %s is %s, not ready_for_review", jobID, slot.Status)
	}

	if slot.VNCSessionID != "" {
		if err := s.fleet.Release(slot.VNCSessionID); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", slot.VNCSessionID).
				Msg("Reviewed session release failed")
		}
	}

	if err := s.updateSlot(ctx, batchID, jobID, func(slot *models.JobSlot) {
		slot.Status = models.SessionCompleted
		slot.Progress = 100
		slot.ViewerURL = ""
	}); err != nil {
		return err
	}

	s.publish(models.EventSlotCompleted, map[string]interface{}{
		"batch_id": batchID,
		"job_id":   jobID,
		"manual":   true,
	})
	s.completeIfDone(ctx, batchID)
	return nil
}

// CloseBatch tears down every live VNC session the batch still holds and
// stops any slots not yet started.
func (s *Scheduler) CloseBatch(ctx context.Context, userID, batchID string) error {
	batch, err := s.GetBatch(ctx, userID, batchID)
	if err != nil {
		return err
	}
	if batch.Status == models.BatchClosed {
		return nil
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[batchID]; ok {
		cancel()
	}
	s.mu.Unlock()

	var sessionIDs []string
	for _, slot := range batch.Slots {
		if slot.VNCSessionID != "" && slot.Status == models.SessionReadyForReview {
			sessionIDs = append(sessionIDs, slot.VNCSessionID)
		}
	}
	if len(sessionIDs) > 0 {
		if err := s.fleet.CloseUserSessions(ctx, userID, sessionIDs); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Batch session teardown incomplete")
		}
	}

	batch.Status = models.BatchClosed
	batch.UpdatedAt = time.Now()
	for i := range batch.Slots {
		if batch.Slots[i].Status == models.SessionReadyForReview {
			batch.Slots[i].ViewerURL = ""
		}
	}
	if err := s.store.Save(ctx, batch); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	s.publish(models.EventBatchClosed, map[string]interface{}{
		"batch_id": batchID,
		"user_id":  userID,
	})
	return nil
}

// Stop waits for in-flight batches to reach their next slot boundary.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// completeIfDone flips the batch to completed once every slot is
// terminal. A closed batch stays closed.
func (s *Scheduler) completeIfDone(ctx context.Context, batchID string) {
	batch, err := s.store.Get(ctx, batchID)
	if err != nil || batch.Status != models.BatchRunning {
		return
	}
	for _, slot := range batch.Slots {
		if !slot.Status.Terminal() {
			return
		}
	}
	batch.Status = models.BatchCompleted
	batch.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, batch); err != nil {
		s.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Completed batch not saved")
	}
}

func (s *Scheduler) updateSlot(ctx context.Context, batchID, jobID string, fn func(*models.JobSlot)) error {
	err := s.store.UpdateSlot(ctx, batchID, jobID, func(slot *models.JobSlot) {
		fn(slot)
		slot.UpdatedAt = time.Now()
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("batch_id", batchID).
			Str("job_id", jobID).
			Msg("Slot update failed")
	}
	return err
}

func (s *Scheduler) publish(t models.EventType, payload map[string]interface{}) {
	s.events.Publish(models.Event{Type: t, Payload: payload, Timestamp: time.Now()})
}

var _ interfaces.BatchService = (*Scheduler)(nil)
