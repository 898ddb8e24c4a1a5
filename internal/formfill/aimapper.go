package formfill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// AIMapper resolves the fields the fast pass could not. It issues at most
// three gateway calls per page pass: one for simple text fields, one for
// dropdowns with their enumerated options, one for check decisions. Every
// call is quota-governed; a quota error surfaces to the orchestrator so
// the batch can be deferred instead of dropped.
type AIMapper struct {
	gateway interfaces.LLMGateway
	logger  arbor.ILogger
}

// NewAIMapper creates the mapper over the LLM gateway.
func NewAIMapper(gateway interfaces.LLMGateway, logger arbor.ILogger) *AIMapper {
	return &AIMapper{gateway: gateway, logger: logger}
}

const mapperSystem = `You map job-application form fields to values from a candidate profile.
Rules:
- Use only information present in the profile. Never invent facts.
- Never answer questions about disability, veteran status, gender identity,
  sexual orientation, religion, ethnicity, or medical conditions unless the
  profile explicitly provides that value.
- Answer null for any field you cannot resolve confidently.
- Respond with a single JSON object and nothing else.`

// Map resolves the given descriptors. The returned mapping holds every
// field resolved before any error; the error reports the first failed
// batch (quota errors wrap the gateway's exhaustion sentinel).
func (m *AIMapper) Map(ctx context.Context, userID, jobID string, descriptors []models.FieldDescriptor, profile *models.ProfileView, jobDescription string) (models.Mapping, error) {
	var simple, dropdown, check []models.FieldDescriptor
	for _, desc := range descriptors {
		switch {
		case desc.Category.IsDropdown():
			if len(desc.Options) > 0 {
				dropdown = append(dropdown, desc)
			}
		case desc.Category.IsCheckLike():
			check = append(check, desc)
		case desc.Category == models.CategoryFileUpload:
			// Uploads are never LLM-resolved.
		default:
			simple = append(simple, desc)
		}
	}

	mapping := make(models.Mapping)

	if len(simple) > 0 {
		if err := m.mapSimple(ctx, userID, jobID, simple, profile, jobDescription, mapping); err != nil {
			return mapping, err
		}
	}
	if len(dropdown) > 0 {
		if err := m.mapDropdowns(ctx, userID, jobID, dropdown, profile, mapping); err != nil {
			return mapping, err
		}
	}
	if len(check) > 0 {
		if err := m.mapChecks(ctx, userID, jobID, check, profile, mapping); err != nil {
			return mapping, err
		}
	}
	return mapping, nil
}

func (m *AIMapper) mapSimple(ctx context.Context, userID, jobID string, descriptors []models.FieldDescriptor, profile *models.ProfileView, jobDescription string, out models.Mapping) error {
	var sb strings.Builder
	sb.WriteString("Candidate profile:\n")
	sb.WriteString(profileJSON(profile))
	if jobDescription != "" {
		sb.WriteString("\n\nJob description:\n")
		sb.WriteString(bounded(jobDescription, 4000))
	}
	sb.WriteString("\n\nForm fields:\n")
	for _, desc := range descriptors {
		fmt.Fprintf(&sb, "- %s: label %q", desc.StableID, desc.Label)
		if desc.Placeholder != "" {
			fmt.Fprintf(&sb, ", placeholder %q", desc.Placeholder)
		}
		if desc.Category == models.CategoryTextarea {
			sb.WriteString(" (long answer: write a submission-ready response of at most 150 words, no placeholder tokens, no bracketed assumptions)")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn a JSON object mapping each field id to its string value or null.")

	response, err := m.gateway.Generate(ctx, interfaces.GatewayRequest{
		UserID:   userID,
		JobID:    jobID,
		Priority: 5,
		Purpose:  "simple_text_batch",
		System:   mapperSystem,
		Prompt:   sb.String(),
	})
	if err != nil {
		return fmt.Errorf("simple text batch failed: %w", err)
	}

	values, err := parseStringMap(response)
	if err != nil {
		return fmt.Errorf("simple text batch returned unparseable output: %w", err)
	}

	byID := descriptorIndex(descriptors)
	for id, value := range values {
		desc, ok := byID[id]
		if !ok || value == nil || strings.TrimSpace(*value) == "" {
			continue
		}
		text := strings.TrimSpace(*value)
		if hasPlaceholderTokens(text) {
			m.logger.Debug().Str("stable_id", id).Msg("Generated text contained placeholder tokens - dropped")
			continue
		}
		if desc.Category == models.CategoryTextarea {
			out[id] = models.Generated(bounded(text, 2000))
		} else {
			out[id] = models.Simple(text)
		}
	}
	return nil
}

func (m *AIMapper) mapDropdowns(ctx context.Context, userID, jobID string, descriptors []models.FieldDescriptor, profile *models.ProfileView, out models.Mapping) error {
	var sb strings.Builder
	sb.WriteString("Candidate profile:\n")
	sb.WriteString(profileJSON(profile))
	sb.WriteString("\n\nDropdown fields with their options:\n")
	for _, desc := range descriptors {
		fmt.Fprintf(&sb, "- %s: label %q, options: ", desc.StableID, desc.Label)
		texts := make([]string, 0, len(desc.Options))
		for _, opt := range desc.Options {
			texts = append(texts, fmt.Sprintf("%q", opt.Text))
		}
		sb.WriteString(strings.Join(texts, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn a JSON object mapping each field id to the exact displayed text of the chosen option, or null.")

	response, err := m.gateway.Generate(ctx, interfaces.GatewayRequest{
		UserID:   userID,
		JobID:    jobID,
		Priority: 5,
		Purpose:  "dropdown_batch",
		System:   mapperSystem,
		Prompt:   sb.String(),
	})
	if err != nil {
		return fmt.Errorf("dropdown batch failed: %w", err)
	}

	values, err := parseStringMap(response)
	if err != nil {
		return fmt.Errorf("dropdown batch returned unparseable output: %w", err)
	}

	byID := descriptorIndex(descriptors)
	for id, value := range values {
		desc, ok := byID[id]
		if !ok || value == nil {
			continue
		}
		// Only accept options the field actually offers.
		if opt, found := matchOption(desc.Options, *value); found {
			out[id] = models.Selection(opt)
		}
	}
	return nil
}

func (m *AIMapper) mapChecks(ctx context.Context, userID, jobID string, descriptors []models.FieldDescriptor, profile *models.ProfileView, out models.Mapping) error {
	var sb strings.Builder
	sb.WriteString("Candidate profile:\n")
	sb.WriteString(profileJSON(profile))
	sb.WriteString("\n\nCheckbox/radio/button-group questions:\n")
	for _, desc := range descriptors {
		fmt.Fprintf(&sb, "- %s: %q\n", desc.StableID, desc.Label)
	}
	sb.WriteString("\nReturn a JSON object mapping each field id to {\"decision\": true|false, \"reason\": \"...\"} or null when the profile does not answer the question.")

	response, err := m.gateway.Generate(ctx, interfaces.GatewayRequest{
		UserID:   userID,
		JobID:    jobID,
		Priority: 5,
		Purpose:  "check_batch",
		System:   mapperSystem,
		Prompt:   sb.String(),
	})
	if err != nil {
		return fmt.Errorf("check batch failed: %w", err)
	}

	type decision struct {
		Decision bool   `json:"decision"`
		Reason   string `json:"reason"`
	}
	var values map[string]*decision
	if err := json.Unmarshal([]byte(extractJSON(response)), &values); err != nil {
		return fmt.Errorf("check batch returned unparseable output: %w", err)
	}

	byID := descriptorIndex(descriptors)
	for id, dec := range values {
		if _, ok := byID[id]; !ok || dec == nil {
			continue
		}
		out[id] = models.Check(dec.Decision, dec.Reason)
	}
	return nil
}

func descriptorIndex(descriptors []models.FieldDescriptor) map[string]*models.FieldDescriptor {
	index := make(map[string]*models.FieldDescriptor, len(descriptors))
	for i := range descriptors {
		index[descriptors[i].StableID] = &descriptors[i]
	}
	return index
}

func matchOption(options []models.OptionItem, want string) (string, bool) {
	wantNorm := normalizeLabel(want)
	for _, opt := range options {
		if normalizeLabel(opt.Text) == wantNorm {
			return opt.Text, true
		}
	}
	for _, opt := range options {
		if strings.Contains(normalizeLabel(opt.Text), wantNorm) {
			return opt.Text, true
		}
	}
	return "", false
}

func parseStringMap(response string) (map[string]*string, error) {
	var values map[string]*string
	if err := json.Unmarshal([]byte(extractJSON(response)), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// extractJSON strips code fences and surrounding prose from a model
// response, keeping the outermost JSON object.
func extractJSON(response string) string {
	s := strings.TrimSpace(response)
	if start := strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func hasPlaceholderTokens(text string) bool {
	if strings.Contains(text, "{{") || strings.Contains(text, "[[") {
		return true
	}
	// Bracketed assumptions like "[Company Name]".
	open := strings.Index(text, "[")
	if open >= 0 {
		if close := strings.Index(text[open:], "]"); close > 1 {
			return true
		}
	}
	return false
}

func profileJSON(profile *models.ProfileView) string {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func bounded(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
