package formfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// sectionSpec describes one profile cardinal section: how to count its
// containers on the form and which "Add" button texts belong to it.
type sectionSpec struct {
	name              string
	containerSelector string
	addTexts          []string
}

var cardinalSections = []sectionSpec{
	{
		name:              "education",
		containerSelector: `[class*="education"] fieldset, fieldset[class*="education"], div[class*="education-entry"], section[class*="education"] > div`,
		addTexts:          []string{"add education", "add another education", "add school"},
	},
	{
		name:              "work_experience",
		containerSelector: `[class*="experience"] fieldset, fieldset[class*="experience"], div[class*="experience-entry"], section[class*="experience"] > div`,
		addTexts:          []string{"add experience", "add work experience", "add another experience", "add position", "add employer"},
	},
	{
		name:              "projects",
		containerSelector: `[class*="project"] fieldset, fieldset[class*="project"], div[class*="project-entry"], section[class*="project"] > div`,
		addTexts:          []string{"add project", "add another project"},
	},
}

var genericAddTexts = []string{"add another", "add more", "+ add"}

// Expander reconciles form section cardinality with profile cardinality.
// It clicks at most one "Add" affordance per section per pass, never
// clicks when the profile has no entries, and never exceeds profile
// cardinality across the whole navigation.
type Expander struct {
	driver interfaces.BrowserDriver
	logger arbor.ILogger
	clicks map[string]int
	settle time.Duration
}

// NewExpander creates the expander for one page navigation.
func NewExpander(driver interfaces.BrowserDriver, settle time.Duration, logger arbor.ILogger) *Expander {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Expander{
		driver: driver,
		logger: logger,
		clicks: make(map[string]int),
		settle: settle,
	}
}

// ExpandIfNeeded inspects every cardinal section and clicks one "Add"
// affordance where the form exposes fewer entries than the profile has.
// Returns true when any section grew.
func (e *Expander) ExpandIfNeeded(ctx context.Context, profile *models.ProfileView) (bool, error) {
	grew := false
	for _, section := range cardinalSections {
		desired := profileCardinality(profile, section.name)
		if desired == 0 {
			continue
		}

		count, err := e.driver.CountNodes(ctx, section.containerSelector)
		if err != nil {
			return grew, fmt.Errorf("failed to count %s sections: %w", section.name, err)
		}
		if count == 0 || count >= desired {
			continue
		}
		// One container is always present; at most desired-1 clicks ever.
		if e.clicks[section.name] >= desired-1 {
			continue
		}

		if err := e.clickAdd(ctx, section); err != nil {
			e.logger.Debug().Err(err).
				Str("section", section.name).
				Msg("No usable add affordance found")
			continue
		}

		e.clicks[section.name]++
		grew = true
		e.logger.Debug().
			Str("section", section.name).
			Int("visible", count).
			Int("desired", desired).
			Int("clicks", e.clicks[section.name]).
			Msg("Section expanded")

		select {
		case <-time.After(e.settle):
		case <-ctx.Done():
			return grew, ctx.Err()
		}
	}
	return grew, nil
}

// clickAdd prefers the section-labeled button and falls back to generic
// "Add another" texts.
func (e *Expander) clickAdd(ctx context.Context, section sectionSpec) error {
	buttons, err := e.driver.AllText(ctx, "button, [role=button]")
	if err != nil {
		return err
	}

	for _, want := range section.addTexts {
		if text, ok := findButtonText(buttons, want); ok {
			return e.driver.ClickNodeWithText(ctx, "button, [role=button]", text)
		}
	}
	for _, want := range genericAddTexts {
		if text, ok := findButtonText(buttons, want); ok {
			return e.driver.ClickNodeWithText(ctx, "button, [role=button]", text)
		}
	}
	return fmt.Errorf("no add button for section %s", section.name)
}

func findButtonText(buttons []string, want string) (string, bool) {
	for _, text := range buttons {
		if strings.Contains(normalizeLabel(text), want) {
			return text, true
		}
	}
	return "", false
}

func profileCardinality(profile *models.ProfileView, section string) int {
	switch section {
	case "education":
		return len(profile.Education)
	case "work_experience":
		return len(profile.WorkExperience)
	case "projects":
		return len(profile.Projects)
	}
	return 0
}
