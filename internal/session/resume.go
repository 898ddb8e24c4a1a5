package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// injectResume copies the profile's resume into the sandbox home and
// validates it. A resume that fails validation is not attached: uploading
// a broken file wastes the one shot the form gives us.
func injectResume(ctx context.Context, profiles interfaces.ProfileService, profile *models.ProfileView, sandboxHome string) (string, error) {
	if profile.ResumeBlobRef == "" {
		return "", nil
	}

	path, err := profiles.ResolveResume(ctx, profile.ResumeBlobRef, sandboxHome)
	if err != nil {
		return "", fmt.Errorf("failed to stage resume: %w", err)
	}

	if err := validateResume(path); err != nil {
		return "", fmt.Errorf("resume '%s' failed validation: %w", filepath.Base(path), err)
	}
	return path, nil
}

// validateResume structurally checks PDF resumes. Other formats are
// passed through; the form's own validation is the authority for those.
func validateResume(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil
	}
	return api.ValidateFile(path, nil)
}
