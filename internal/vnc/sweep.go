package vnc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Sweeper is the periodic cleanup task: it closes sessions idle past the
// horizon, removes sandbox homes no live session owns, and expires old
// action logs.
type Sweeper struct {
	cfg     common.VNCConfig
	fleet   *Fleet
	store   interfaces.VNCSessionStorage
	actions interfaces.ActionLogStorage
	logger  arbor.ILogger
	cron    *cron.Cron
}

// NewSweeper creates the sweeper over the fleet and its stores.
func NewSweeper(cfg common.VNCConfig, fleet *Fleet, store interfaces.VNCSessionStorage, actions interfaces.ActionLogStorage, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		fleet:   fleet,
		store:   store,
		actions: actions,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules the sweep. The schedule comes from configuration;
// default every five minutes.
func (s *Sweeper) Start() error {
	schedule := s.cfg.SweepSchedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("Cleanup sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.closeIdleSessions(ctx)
	s.removeOrphanHomes(ctx)
	s.expireActionLogs(ctx)
}

func (s *Sweeper) closeIdleSessions(ctx context.Context) {
	horizon := common.ParseDurationOr(s.cfg.IdleHorizon, 45*time.Minute)
	cutoff := time.Now().Add(-horizon)

	rows, err := s.store.ListByStatus(ctx, models.VNCActive)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Sweep could not list active sessions")
		return
	}

	for _, row := range rows {
		if row.LastActive.After(cutoff) {
			continue
		}

		s.logger.Info().
			Str("session_id", row.ID).
			Str("user_id", row.UserID).
			Str("last_active", row.LastActive.Format(time.RFC3339)).
			Msg("Closing idle session")

		if _, live := s.fleet.Lookup(row.ID); live {
			if err := s.fleet.Release(row.ID); err != nil {
				s.logger.Warn().Err(err).Str("session_id", row.ID).Msg("Idle session release failed")
			}
			continue
		}

		// Row with no live coordinator: stale leftover from a crash.
		if err := s.store.UpdateStatus(ctx, row.ID, models.VNCClosed); err != nil {
			s.logger.Warn().Err(err).Str("session_id", row.ID).Msg("Stale session row not updated")
		}
		if row.SandboxHome != "" {
			_ = os.RemoveAll(row.SandboxHome)
		}
	}
}

// removeOrphanHomes deletes sandbox directories under the root that no
// active session row references.
func (s *Sweeper) removeOrphanHomes(ctx context.Context) {
	if s.cfg.SandboxRoot == "" {
		return
	}

	rows, err := s.store.ListByStatus(ctx, models.VNCActive)
	if err != nil {
		return
	}
	owned := make(map[string]bool, len(rows))
	for _, row := range rows {
		owned[filepath.Clean(row.SandboxHome)] = true
	}

	userDirs, err := os.ReadDir(s.cfg.SandboxRoot)
	if err != nil {
		return
	}
	for _, userDir := range userDirs {
		if !userDir.IsDir() {
			continue
		}
		userPath := filepath.Join(s.cfg.SandboxRoot, userDir.Name())
		sessionDirs, err := os.ReadDir(userPath)
		if err != nil {
			continue
		}
		for _, sessionDir := range sessionDirs {
			home := filepath.Join(userPath, sessionDir.Name())
			if owned[filepath.Clean(home)] {
				continue
			}
			if err := os.RemoveAll(home); err != nil {
				s.logger.Warn().Err(err).Str("home", home).Msg("Orphan sandbox home not removed")
				continue
			}
			s.logger.Info().Str("home", home).Msg("Orphan sandbox home removed")
		}
	}
}

func (s *Sweeper) expireActionLogs(ctx context.Context) {
	n, err := s.actions.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Action log expiry failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("Expired action logs removed")
	}
}
