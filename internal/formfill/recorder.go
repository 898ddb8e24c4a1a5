package formfill

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Recorder appends one ActionRecord per interaction to the durable
// per-(user, job) log. Recording is best-effort: a storage failure is
// logged, never propagated into the fill loop.
type Recorder struct {
	store  interfaces.ActionLogStorage
	userID string
	jobID  string
	logger arbor.ILogger
}

// NewRecorder creates the recorder for one job.
func NewRecorder(store interfaces.ActionLogStorage, userID, jobID string, logger arbor.ILogger) *Recorder {
	return &Recorder{store: store, userID: userID, jobID: jobID, logger: logger}
}

// Record appends one interaction record.
func (r *Recorder) Record(ctx context.Context, rec models.ActionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := r.store.Append(ctx, r.userID, r.jobID, rec); err != nil {
		r.logger.Warn().Err(err).
			Str("job_id", r.jobID).
			Str("kind", string(rec.Kind)).
			Msg("Failed to persist action record")
	}
}

// Complete sets the terminal flag on the job's records.
func (r *Recorder) Complete(ctx context.Context) {
	if err := r.store.MarkCompleted(ctx, r.userID, r.jobID); err != nil {
		r.logger.Warn().Err(err).
			Str("job_id", r.jobID).
			Msg("Failed to mark action log completed")
	}
}
