package vnc

import (
	"context"
	"os"
	"time"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/models"
)

// Recover rebuilds coordinators for session rows still marked active from
// a previous process. Rows inside the recovery window are recreated on
// their original slots; rows that cannot be recreated, and rows older
// than the window, are marked failed_recovery and their sandbox homes
// removed. Returns the number of sessions brought back.
func (f *Fleet) Recover(ctx context.Context) (int, error) {
	rows, err := f.store.ListByStatus(ctx, models.VNCActive)
	if err != nil {
		return 0, err
	}

	window := common.ParseDurationOr(f.cfg.RecoveryWindow, 24*time.Hour)
	cutoff := time.Now().Add(-window)
	recovered := 0

	for _, row := range rows {
		if row.CreatedAt.Before(cutoff) {
			f.abandon(ctx, row, "outside recovery window")
			continue
		}

		if err := f.adopt(ctx, row); err != nil {
			f.logger.Warn().Err(err).
				Str("session_id", row.ID).
				Msg("Session could not be recreated")
			f.abandon(ctx, row, "recreate failed")
			continue
		}

		recovered++
		f.logger.Info().
			Str("session_id", row.ID).
			Str("user_id", row.UserID).
			Int("slot", row.SlotIndex).
			Msg("Session recovered after restart")
	}

	return recovered, nil
}

func (f *Fleet) abandon(ctx context.Context, row *models.VNCSession, reason string) {
	if err := f.store.UpdateStatus(ctx, row.ID, models.VNCFailedRecovery); err != nil {
		f.logger.Warn().Err(err).Str("session_id", row.ID).Msg("Abandoned session row not updated")
	}
	if row.SandboxHome != "" {
		if err := os.RemoveAll(row.SandboxHome); err != nil {
			f.logger.Warn().Err(err).Str("home", row.SandboxHome).Msg("Abandoned sandbox home not removed")
		}
	}
	f.logger.Info().
		Str("session_id", row.ID).
		Str("reason", reason).
		Msg("Session abandoned on recovery")
}
