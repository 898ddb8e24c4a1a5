package vnc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// ErrFleetFull is returned when every session slot on this host is taken.
var ErrFleetFull = errors.New("no free vnc session slots on this host")

// coordinatorFactory builds the resource chain for an allocated session
// row. Injected so fleet allocation can be tested without X servers.
type coordinatorFactory func(ctx context.Context, cfg common.VNCConfig, session *models.VNCSession, store interfaces.VNCSessionStorage, logger arbor.ILogger) (interfaces.Coordinator, error)

type liveSession struct {
	coordinator interfaces.Coordinator
	slot        int
	userID      string
}

// Fleet owns the per-host slot allocator and the set of live
// coordinators. Slot i maps to (display, vnc_port, ws_port) =
// (bases + i); the row is persisted before any process starts so the
// allocation survives restarts.
type Fleet struct {
	cfg     common.VNCConfig
	store   interfaces.VNCSessionStorage
	logger  arbor.ILogger
	factory coordinatorFactory

	mu    sync.Mutex
	slots []bool // true = taken
	live  map[string]*liveSession
}

// NewFleet creates the fleet allocator for this host.
func NewFleet(cfg common.VNCConfig, store interfaces.VNCSessionStorage, logger arbor.ILogger) *Fleet {
	return &Fleet{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		factory: NewCoordinator,
		slots:   make([]bool, cfg.MaxSessions),
		live:    make(map[string]*liveSession),
	}
}

// Acquire allocates the smallest free slot, persists the session row, and
// builds the coordinator. On failure the slot is returned and the row is
// marked failed.
func (f *Fleet) Acquire(ctx context.Context, userID, jobURL string) (interfaces.Coordinator, error) {
	session, err := f.allocate(userID, jobURL)
	if err != nil {
		return nil, err
	}

	if err := f.store.Save(ctx, session); err != nil {
		f.freeSlot(session.SlotIndex)
		return nil, fmt.Errorf("failed to persist session row: %w", err)
	}

	coordinator, err := f.factory(ctx, f.cfg, session, f.store, f.logger)
	if err != nil {
		f.freeSlot(session.SlotIndex)
		if updateErr := f.store.UpdateStatus(ctx, session.ID, models.VNCFailed); updateErr != nil {
			f.logger.Warn().Err(updateErr).Str("session_id", session.ID).Msg("Failed session row not updated")
		}
		return nil, fmt.Errorf("failed to start session resources: %w", err)
	}

	f.mu.Lock()
	f.live[session.ID] = &liveSession{coordinator: coordinator, slot: session.SlotIndex, userID: userID}
	f.mu.Unlock()

	return coordinator, nil
}

// allocate reserves the smallest free slot and builds the session row.
func (f *Fleet) allocate(userID, jobURL string) (*models.VNCSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := -1
	for i := range f.slots {
		if !f.slots[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrFleetFull
	}
	f.slots[slot] = true

	id := common.NewVNCSessionID()
	now := time.Now()
	return &models.VNCSession{
		ID:            id,
		UserID:        userID,
		JobURL:        jobURL,
		SlotIndex:     slot,
		DisplayNum:    f.cfg.DisplayBase + slot,
		VNCPort:       f.cfg.VNCPortBase + slot,
		WSPort:        f.cfg.WSPortBase + slot,
		SandboxHome:   filepath.Join(f.cfg.SandboxRoot, userID, id),
		Status:        models.VNCActive,
		AllocatedHost: f.cfg.Host,
		CreatedAt:     now,
		LastActive:    now,
	}, nil
}

// Release stops the coordinator and frees the slot. The coordinator's
// Stop blocks until the sandboxed browser is dead, so the slot (and its
// ports) are only returned once nothing can still be bound to them.
func (f *Fleet) Release(sessionID string) error {
	f.mu.Lock()
	entry, ok := f.live[sessionID]
	if ok {
		delete(f.live, sessionID)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("session '%s' is not live on this host", sessionID)
	}

	stopErr := entry.coordinator.Stop()
	f.freeSlot(entry.slot)

	if err := f.store.UpdateStatus(context.Background(), sessionID, models.VNCClosed); err != nil {
		f.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Closed session row not updated")
	}
	return stopErr
}

// CloseUserSessions releases the named sessions, skipping any that do not
// belong to the user.
func (f *Fleet) CloseUserSessions(ctx context.Context, userID string, sessionIDs []string) error {
	var firstErr error
	for _, id := range sessionIDs {
		f.mu.Lock()
		entry, ok := f.live[id]
		f.mu.Unlock()
		if !ok {
			continue
		}
		if entry.userID != userID {
			f.logger.Warn().
				Str("session_id", id).
				Str("user_id", userID).
				Msg("Close refused - session belongs to another user")
			continue
		}
		if err := f.Release(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveCount returns the number of live sessions on this host.
func (f *Fleet) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Lookup returns the live coordinator for a session id.
func (f *Fleet) Lookup(sessionID string) (interfaces.Coordinator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.live[sessionID]
	if !ok {
		return nil, false
	}
	return entry.coordinator, true
}

// adopt re-binds a recovered session row to a fresh coordinator, keeping
// its original slot.
func (f *Fleet) adopt(ctx context.Context, session *models.VNCSession) error {
	f.mu.Lock()
	if session.SlotIndex < 0 || session.SlotIndex >= len(f.slots) {
		f.mu.Unlock()
		return fmt.Errorf("session '%s' slot %d outside this host's range", session.ID, session.SlotIndex)
	}
	if f.slots[session.SlotIndex] {
		f.mu.Unlock()
		return fmt.Errorf("session '%s' slot %d already taken", session.ID, session.SlotIndex)
	}
	f.slots[session.SlotIndex] = true
	f.mu.Unlock()

	coordinator, err := f.factory(ctx, f.cfg, session, f.store, f.logger)
	if err != nil {
		f.freeSlot(session.SlotIndex)
		return err
	}

	f.mu.Lock()
	f.live[session.ID] = &liveSession{coordinator: coordinator, slot: session.SlotIndex, userID: session.UserID}
	f.mu.Unlock()
	return nil
}

func (f *Fleet) freeSlot(slot int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot >= 0 && slot < len(f.slots) {
		f.slots[slot] = false
	}
}

var _ interfaces.Fleet = (*Fleet)(nil)
