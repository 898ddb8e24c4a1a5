package interfaces

import (
	"context"

	"github.com/ternarybob/peto/internal/models"
)

// ProfileService supplies the read-only profile consumed by one job.
// Storage shape is opaque to the core.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*models.ProfileView, error)

	// ResolveResume copies the resume bytes behind an opaque blob ref into
	// destDir with owner-only permissions and returns the local path
	// visible inside the sandbox.
	ResolveResume(ctx context.Context, blobRef, destDir string) (string, error)
}
