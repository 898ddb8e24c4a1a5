package formfill

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/peto/internal/models"
)

// YesNoRule recognizes one regulated Yes/No question by label keywords.
// Kind selects the documented answer derivation; answers are explicit and
// auditable, never inferred at runtime.
type YesNoRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Kind     string   `yaml:"kind"`
}

// Recognized YesNoRule kinds.
const (
	YesNoWorkAuthorization = "work_authorization"
	YesNoSponsorship       = "sponsorship"
	YesNoBackgroundCheck   = "background_check"
	YesNoDrugTest          = "drug_test"
	YesNoRelocation        = "relocation"
)

// SensitiveRule identifies one category of field that must not be filled
// autonomously. When AllowKey is set and the profile explicitly supplies
// that key, the field is released to the normal mapping passes.
type SensitiveRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	AllowKey string   `yaml:"allow_key,omitempty"`
}

// Catalog is the declarative mapping knowledge of the fast pass: label
// synonyms per canonical profile key, regulated Yes/No question rules, and
// the sensitive-field rule list. Deployments may extend it from YAML.
type Catalog struct {
	Synonyms  map[models.ProfileKey][]string
	YesNo     []YesNoRule
	Sensitive []SensitiveRule

	patterns []labelPattern
}

type labelPattern struct {
	key models.ProfileKey
	re  *regexp.Regexp
}

// DefaultCatalog returns the built-in mapping catalog.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Synonyms: map[models.ProfileKey][]string{
			models.KeyFirstName:   {"first name", "given name", "forename"},
			models.KeyLastName:    {"last name", "family name", "surname"},
			models.KeyFullName:    {"full name", "your name", "legal name"},
			models.KeyEmail:       {"email", "e-mail"},
			models.KeyPhone:       {"phone", "mobile", "cell", "telephone"},
			models.KeyAddress:     {"street address", "address line", "address"},
			models.KeyCity:        {"city", "town"},
			models.KeyState:       {"state", "province", "region"},
			models.KeyZip:         {"zip", "postal code", "postcode"},
			models.KeyCountry:     {"country"},
			models.KeyCountryCode: {"country code", "dial code"},
			models.KeyLinkedIn:    {"linkedin"},
			models.KeyGitHub:      {"github", "portfolio url", "personal website", "website"},
			models.KeySummary:     {"summary", "about you", "about yourself"},
			models.KeyNationality: {"nationality"},
			models.KeyVisaStatus:  {"visa status", "immigration status", "work authorization status"},
		},
		YesNo: []YesNoRule{
			{
				Name:     "work_authorization",
				Keywords: []string{"authorized to work", "legally authorized", "eligible to work", "right to work"},
				Kind:     YesNoWorkAuthorization,
			},
			{
				Name:     "sponsorship",
				Keywords: []string{"sponsorship", "require visa", "need a visa", "require immigration"},
				Kind:     YesNoSponsorship,
			},
			{
				Name:     "background_check",
				Keywords: []string{"background check", "background screening"},
				Kind:     YesNoBackgroundCheck,
			},
			{
				Name:     "drug_test",
				Keywords: []string{"drug test", "drug screening"},
				Kind:     YesNoDrugTest,
			},
			{
				Name:     "relocation",
				Keywords: []string{"willing to relocate", "open to relocation", "relocate for this"},
				Kind:     YesNoRelocation,
			},
		},
		Sensitive: []SensitiveRule{
			{Name: "national_id", Keywords: []string{"social security", "ssn", "national id", "national identification", "tax identification"}},
			{Name: "salary_history", Keywords: []string{"salary history", "current salary", "previous salary", "current compensation"}},
			{Name: "security_question", Keywords: []string{"security question", "mother's maiden", "secret answer"}},
			{Name: "conviction", Keywords: []string{"felony", "convicted", "criminal record", "criminal history"}},
			{Name: "date_of_birth", Keywords: []string{"date of birth", "birth date", "birthdate"}, AllowKey: string(models.KeyDateOfBirth)},
			{Name: "sexual_orientation", Keywords: []string{"sexual orientation", "lgbt"}},
			{Name: "transgender", Keywords: []string{"transgender"}},
			{Name: "gender", Keywords: []string{"gender"}, AllowKey: string(models.KeyGender)},
			{Name: "veteran", Keywords: []string{"veteran", "protected veteran", "military service"}, AllowKey: string(models.KeyVeteranStatus)},
			{Name: "disability", Keywords: []string{"disability", "disabilities", "disabled"}, AllowKey: "disabilities"},
			{Name: "race_ethnicity", Keywords: []string{"race", "ethnicity", "ethnic"}},
			{Name: "religion", Keywords: []string{"religion", "religious"}},
			{Name: "medical", Keywords: []string{"medical condition", "health condition", "pregnan"}},
		},
	}
	c.compilePatterns()
	return c
}

// compilePatterns builds the tight label-anchored regex table for the
// pattern pass. Anchored matches are precise enough to fill without any
// synonym ambiguity.
func (c *Catalog) compilePatterns() {
	anchored := []struct {
		key  models.ProfileKey
		expr string
	}{
		{models.KeyFirstName, `^(?:your\s+)?first\s*name\s*\*?$`},
		{models.KeyLastName, `^(?:your\s+)?(?:last|family)\s*name\s*\*?$`},
		{models.KeyFullName, `^(?:full|legal)\s*name\s*\*?$`},
		{models.KeyEmail, `^e-?mail(?:\s*address)?\s*\*?$`},
		{models.KeyPhone, `^(?:phone|mobile|cell)(?:\s*(?:number|no\.?))?\s*\*?$`},
		{models.KeyCity, `^city\s*\*?$`},
		{models.KeyState, `^(?:state|province)\s*\*?$`},
		{models.KeyZip, `^(?:zip|postal)\s*(?:code)?\s*\*?$`},
		{models.KeyCountry, `^country\s*\*?$`},
		{models.KeyLinkedIn, `^linkedin(?:\s*(?:url|profile))?\s*\*?$`},
		{models.KeyGitHub, `^github(?:\s*(?:url|profile))?\s*\*?$`},
	}
	c.patterns = c.patterns[:0]
	for _, p := range anchored {
		c.patterns = append(c.patterns, labelPattern{key: p.key, re: regexp.MustCompile(p.expr)})
	}
}

// PatternKey resolves a label against the anchored pattern table.
func (c *Catalog) PatternKey(label string) (models.ProfileKey, bool) {
	norm := normalizeLabel(label)
	for _, p := range c.patterns {
		if p.re.MatchString(norm) {
			return p.key, true
		}
	}
	return "", false
}

// SynonymKey resolves a label by case-insensitive substring match against
// the synonym table. First match in declaration order wins; longer
// synonyms are checked before shorter ones within a key so "country code"
// beats "country".
func (c *Catalog) SynonymKey(label string) (models.ProfileKey, bool) {
	norm := normalizeLabel(label)
	if norm == "" {
		return "", false
	}

	bestLen := 0
	var best models.ProfileKey
	for key, synonyms := range c.Synonyms {
		for _, syn := range synonyms {
			if strings.Contains(norm, syn) && len(syn) > bestLen {
				bestLen = len(syn)
				best = key
			}
		}
	}
	if bestLen == 0 {
		return "", false
	}
	return best, true
}

// YesNoRuleFor finds the first Yes/No rule matching the label.
func (c *Catalog) YesNoRuleFor(label string) (*YesNoRule, bool) {
	norm := normalizeLabel(label)
	for i := range c.YesNo {
		for _, kw := range c.YesNo[i].Keywords {
			if strings.Contains(norm, kw) {
				return &c.YesNo[i], true
			}
		}
	}
	return nil, false
}

// catalogOverride is the YAML shape of one deployment override file.
type catalogOverride struct {
	Synonyms  map[string][]string `yaml:"synonyms"`
	YesNo     []YesNoRule         `yaml:"yes_no"`
	Sensitive []SensitiveRule     `yaml:"sensitive"`
}

// LoadOverrides merges every *.yaml/*.yml file in dir into the catalog.
// Overrides extend the built-in tables; they never remove entries.
func (c *Catalog) LoadOverrides(dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read catalog dir: %w", err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read catalog override %s: %w", entry.Name(), err)
		}
		var override catalogOverride
		if err := yaml.Unmarshal(data, &override); err != nil {
			return fmt.Errorf("invalid catalog override %s: %w", entry.Name(), err)
		}
		c.merge(&override)
	}

	c.compilePatterns()
	return nil
}

func (c *Catalog) merge(o *catalogOverride) {
	for key, synonyms := range o.Synonyms {
		k := models.ProfileKey(key)
		c.Synonyms[k] = append(c.Synonyms[k], lowered(synonyms)...)
	}
	for _, rule := range o.YesNo {
		rule.Keywords = lowered(rule.Keywords)
		c.YesNo = append(c.YesNo, rule)
	}
	for _, rule := range o.Sensitive {
		rule.Keywords = lowered(rule.Keywords)
		c.Sensitive = append(c.Sensitive, rule)
	}
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
