package formfill

import (
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
)

// SensitiveDetector holds back fields that must not be filled
// autonomously. It is a pure rule table over labels: no model call is ever
// made to decide sensitivity.
type SensitiveDetector struct {
	catalog *Catalog
	logger  arbor.ILogger
}

// NewSensitiveDetector creates the detector over the given catalog.
func NewSensitiveDetector(catalog *Catalog, logger arbor.ILogger) *SensitiveDetector {
	return &SensitiveDetector{catalog: catalog, logger: logger}
}

// Match returns the name of the first sensitive rule the descriptor
// trips, or false. A rule with an allow key releases the field when the
// profile explicitly supplies that key.
func (d *SensitiveDetector) Match(desc *models.FieldDescriptor, profile *models.ProfileView) (string, bool) {
	haystack := normalizeLabel(desc.Label + " " + desc.Element.LegendText)
	if haystack == "" {
		return "", false
	}

	for i := range d.catalog.Sensitive {
		rule := &d.catalog.Sensitive[i]
		if !matchesAny(haystack, rule.Keywords) {
			continue
		}
		if rule.AllowKey != "" && profileSupplies(profile, rule.AllowKey) {
			continue
		}
		return rule.Name, true
	}
	return "", false
}

// Partition splits descriptors into the held-back sensitive set and the
// rest, preserving order.
func (d *SensitiveDetector) Partition(descriptors []models.FieldDescriptor, profile *models.ProfileView) (sensitive, rest []models.FieldDescriptor) {
	for _, desc := range descriptors {
		if rule, hit := d.Match(&desc, profile); hit {
			d.logger.Debug().
				Str("stable_id", desc.StableID).
				Str("rule", rule).
				Msg("Field held back as sensitive")
			sensitive = append(sensitive, desc)
			continue
		}
		rest = append(rest, desc)
	}
	return sensitive, rest
}

func matchesAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// profileSupplies reports whether the profile explicitly carries the
// allow key. "disabilities" is a sequence key outside the scalar set.
func profileSupplies(profile *models.ProfileView, allowKey string) bool {
	if profile == nil {
		return false
	}
	if allowKey == "disabilities" {
		return len(profile.Disabilities) > 0
	}
	_, ok := profile.Value(models.ProfileKey(allowKey))
	return ok
}
