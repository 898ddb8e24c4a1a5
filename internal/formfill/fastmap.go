package formfill

import (
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
)

// FastMapper resolves fields deterministically from the catalog: a tight
// label-anchored pattern pass first, then a broad synonym pass with the
// regulated Yes/No rules. Anything it cannot resolve cleanly is handed to
// the AI pass untouched; a junk guard returns category-inappropriate
// values rather than filling them.
type FastMapper struct {
	catalog  *Catalog
	skillCap int
	logger   arbor.ILogger
}

// NewFastMapper creates the mapper over the given catalog.
func NewFastMapper(catalog *Catalog, skillCap int, logger arbor.ILogger) *FastMapper {
	if skillCap <= 0 {
		skillCap = 10
	}
	return &FastMapper{catalog: catalog, skillCap: skillCap, logger: logger}
}

// PatternPass resolves descriptors whose labels match the anchored
// pattern table exactly. Free and precise; runs before everything else.
func (m *FastMapper) PatternPass(descriptors []models.FieldDescriptor, profile *models.ProfileView) (models.Mapping, []models.FieldDescriptor) {
	hits := make(models.Mapping)
	var remaining []models.FieldDescriptor

	for _, desc := range descriptors {
		key, ok := m.catalog.PatternKey(desc.Label)
		if !ok {
			remaining = append(remaining, desc)
			continue
		}
		value, ok := profile.Value(key)
		if !ok {
			remaining = append(remaining, desc)
			continue
		}
		resolved, ok := m.resolveFor(&desc, value)
		if !ok {
			remaining = append(remaining, desc)
			continue
		}
		hits[desc.StableID] = resolved
	}
	return hits, remaining
}

// BatchPass resolves descriptors via synonym substring matching and the
// Yes/No rule table. Broad but still deterministic.
func (m *FastMapper) BatchPass(descriptors []models.FieldDescriptor, profile *models.ProfileView) (models.Mapping, []models.FieldDescriptor) {
	hits := make(models.Mapping)
	var remaining []models.FieldDescriptor

	for _, desc := range descriptors {
		if resolved, ok := m.resolveOne(&desc, profile); ok {
			hits[desc.StableID] = resolved
			continue
		}
		remaining = append(remaining, desc)
	}
	return hits, remaining
}

func (m *FastMapper) resolveOne(desc *models.FieldDescriptor, profile *models.ProfileView) (models.ResolvedValue, bool) {
	// Regulated Yes/No questions take priority over synonym hits so
	// "Do you require visa sponsorship?" never maps to visa_status.
	if rule, ok := m.catalog.YesNoRuleFor(desc.Label); ok {
		if decision, reason, answered := answerYesNo(rule, profile); answered {
			return yesNoResolution(desc, decision, reason)
		}
		// Recognized but unanswerable from the profile: leave for the AI
		// pass rather than guessing.
		return models.ResolvedValue{}, false
	}

	// Skills multiselects take the flattened profile skills, bounded.
	if desc.Category == models.CategoryMultiselect {
		skills := profile.AllSkills()
		if len(skills) == 0 {
			return models.ResolvedValue{}, false
		}
		if len(skills) > m.skillCap {
			skills = skills[:m.skillCap]
		}
		return models.Simple(strings.Join(skills, ", ")), true
	}

	key, ok := m.catalog.SynonymKey(desc.Label)
	if !ok {
		return models.ResolvedValue{}, false
	}
	value, ok := profile.Value(key)
	if !ok {
		return models.ResolvedValue{}, false
	}
	return m.resolveFor(desc, value)
}

// resolveFor shapes a profile value for the descriptor's category, with
// the junk guard rejecting category-inappropriate values.
func (m *FastMapper) resolveFor(desc *models.FieldDescriptor, value string) (models.ResolvedValue, bool) {
	if !fitsCategory(desc.Category, value) {
		m.logger.Debug().
			Str("stable_id", desc.StableID).
			Str("category", string(desc.Category)).
			Msg("Fast-map value rejected by junk guard - deferring to AI pass")
		return models.ResolvedValue{}, false
	}

	switch {
	case desc.Category.IsDropdown():
		return models.Selection(value), true
	case desc.Category.IsCheckLike():
		// A scalar profile value cannot answer a check decision.
		return models.ResolvedValue{}, false
	case desc.Category == models.CategoryFileUpload:
		return models.ResolvedValue{}, false
	default:
		return models.Simple(value), true
	}
}

// yesNoResolution shapes a boolean decision for the field's category.
func yesNoResolution(desc *models.FieldDescriptor, decision bool, reason string) (models.ResolvedValue, bool) {
	answer := "No"
	if decision {
		answer = "Yes"
	}
	switch {
	case desc.Category.IsCheckLike():
		return models.Check(decision, reason), true
	case desc.Category.IsDropdown():
		return models.Selection(answer), true
	case desc.Category == models.CategoryText:
		return models.Simple(answer), true
	default:
		return models.ResolvedValue{}, false
	}
}

// answerYesNo derives the documented catalog answer for a regulated
// question. Answers come from the profile when present, from the explicit
// catalog default when defined, and are otherwise left unanswered.
func answerYesNo(rule *YesNoRule, profile *models.ProfileView) (decision bool, reason string, answered bool) {
	visa := normalizeLabel(profile.VisaStatus)

	switch rule.Kind {
	case YesNoWorkAuthorization:
		if visa == "" {
			return false, "", false
		}
		if matchesAny(visa, []string{"citizen", "permanent", "green card", "work visa", "h1b", "h-1b", "opt", "cpt", "ead"}) {
			return true, "visa status permits work", true
		}
		return false, "", false

	case YesNoSponsorship:
		if matchesAny(visa, []string{"h1b", "h-1b", "work visa", "student", "f1", "f-1", "opt", "cpt", "requires sponsorship"}) {
			return true, "visa status requires sponsorship", true
		}
		return false, "no sponsorship requirement on file", true

	case YesNoBackgroundCheck:
		return true, "standard consent", true

	case YesNoDrugTest:
		return true, "standard consent", true

	case YesNoRelocation:
		switch profile.WillingToRelocate {
		case models.TriYes:
			return true, "profile states willing to relocate", true
		case models.TriNo:
			return false, "profile states not willing to relocate", true
		}
		return false, "", false
	}
	return false, "", false
}

// fitsCategory is the junk guard: it rejects values that make no sense
// for the field's category so they go to the AI pass instead.
func fitsCategory(category models.FieldCategory, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	switch category {
	case models.CategoryEmail:
		return strings.Contains(value, "@")
	case models.CategoryURL:
		return strings.Contains(value, ".") || strings.Contains(value, "://")
	case models.CategoryNumber:
		return isNumeric(value)
	case models.CategoryPhone:
		return hasDigit(value)
	case models.CategoryDate:
		return hasDigit(value)
	case models.CategoryTextarea:
		return true
	case models.CategoryPassword:
		// Never fast-map anything into a password field.
		return false
	default:
		// Short text fields reject narrative-length values.
		return len(value) <= 120
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return true
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
