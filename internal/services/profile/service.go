package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
)

// Service is the file-backed profile source. Each user's canonical data
// lives in <dir>/<user_id>.json; resume blobs live under <dir>/blobs and
// are referenced by opaque refs stored on the profile.
type Service struct {
	dir    string
	logger arbor.ILogger
}

// NewService creates the profile service rooted at dir.
func NewService(dir string, logger arbor.ILogger) (*Service, error) {
	if dir == "" {
		return nil, fmt.Errorf("profiles directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}
	return &Service{dir: dir, logger: logger}, nil
}

// GetProfile loads the read-only profile for a user. Unknown top-level
// keys in the stored document are ignored, not propagated.
func (s *Service) GetProfile(_ context.Context, userID string) (*models.ProfileView, error) {
	name, err := safeName(userID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no profile for user '%s'", userID)
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var view models.ProfileView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to parse profile for user '%s': %w", userID, err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int("education_entries", len(view.Education)).
		Int("work_entries", len(view.WorkExperience)).
		Msg("Profile loaded")

	return &view, nil
}

// ResolveResume copies the resume bytes behind blobRef into destDir with
// owner-only permissions and returns the local path. The ref is resolved
// strictly inside the profiles directory.
func (s *Service) ResolveResume(_ context.Context, blobRef, destDir string) (string, error) {
	if blobRef == "" {
		return "", fmt.Errorf("resume blob ref is empty")
	}

	src := filepath.Join(s.dir, filepath.Clean("/"+blobRef))
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read resume blob '%s': %w", blobRef, err)
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create resume destination: %w", err)
	}

	dest := filepath.Join(destDir, filepath.Base(blobRef))
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write resume copy: %w", err)
	}

	s.logger.Debug().
		Str("blob_ref", blobRef).
		Str("dest", dest).
		Int("bytes", len(data)).
		Msg("Resume resolved into sandbox")

	return dest, nil
}

// safeName rejects user identifiers that would escape the profiles
// directory when used as a file name.
func safeName(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if strings.ContainsAny(userID, "/\\") || strings.Contains(userID, "..") {
		return "", fmt.Errorf("invalid user id '%s'", userID)
	}
	return userID, nil
}
