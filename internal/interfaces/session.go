package interfaces

import (
	"context"

	"github.com/ternarybob/peto/internal/models"
)

// Coordinator owns the per-session resources: virtual display, VNC
// server, WebSocket bridge, sandbox home, and the browser process. The
// resources are acquired together and released together on every exit
// path.
type Coordinator interface {
	Session() *models.VNCSession
	Driver() BrowserDriver
	// ViewerURL is the WebSocket URL the user's viewer connects to.
	ViewerURL() string
	// Touch records user/automation activity for the idle sweep.
	Touch()
	Stop() error
}

// Fleet allocates and supervises the coordinators on one host.
type Fleet interface {
	Acquire(ctx context.Context, userID, jobURL string) (Coordinator, error)
	// Release stops the coordinator and frees its allocation. The port is
	// freed only after the sandboxed browser is known dead.
	Release(sessionID string) error
	// CloseUserSessions tears down all live sessions belonging to a user's
	// batch close.
	CloseUserSessions(ctx context.Context, userID string, sessionIDs []string) error
	ActiveCount() int
}

// SessionResult is the terminal outcome of one job run.
type SessionResult struct {
	State     models.SessionState
	SessionID string
	ViewerURL string
	Error     string
}

// SessionRunner runs one application job end to end.
type SessionRunner interface {
	Run(ctx context.Context, userID, jobID, jobURL string, progress func(int)) SessionResult
}

// BatchService is the scheduler surface consumed by the HTTP handlers.
type BatchService interface {
	StartBatch(ctx context.Context, userID string, urls []string, tailor []bool) (*models.Batch, error)
	GetBatch(ctx context.Context, userID, batchID string) (*models.Batch, error)
	MarkSubmitted(ctx context.Context, userID, batchID, jobID string) error
	CloseBatch(ctx context.Context, userID, batchID string) error
}
