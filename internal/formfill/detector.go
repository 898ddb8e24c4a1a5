package formfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Detector enumerates the interactive elements of the current page and
// produces classified FieldDescriptors. Scanning is read-only: the page
// is never scrolled or mutated. Option extraction for custom dropdowns is
// a separate, explicitly invoked step because it has to open popups.
type Detector struct {
	driver interfaces.BrowserDriver
	logger arbor.ILogger
}

// NewDetector creates a detector over the session's browser driver.
func NewDetector(driver interfaces.BrowserDriver, logger arbor.ILogger) *Detector {
	return &Detector{driver: driver, logger: logger}
}

// Scan snapshots the page and returns one descriptor per visible
// interactive element, in document order, each with a page-unique stable
// id. Hidden checkbox/radio inputs under a row of sibling buttons are
// admitted because the buttons are their visible surface.
func (d *Detector) Scan(ctx context.Context) ([]models.FieldDescriptor, error) {
	snapshot, err := d.driver.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("detection snapshot failed: %w", err)
	}
	return d.describe(snapshot)
}

func (d *Detector) describe(snapshot *interfaces.PageSnapshot) ([]models.FieldDescriptor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}
	labels := indexLabelFor(doc)

	var descriptors []models.FieldDescriptor
	seen := make(map[string]int)

	for i := range snapshot.Elements {
		el := snapshot.Elements[i]
		if strings.EqualFold(el.Type, "hidden") {
			continue
		}
		if !el.Visible && !(el.Tag == "input" && (el.Type == "checkbox" || el.Type == "radio") && el.SiblingButtons >= 2) {
			continue
		}
		// Bare buttons are affordances, not fields.
		if el.Tag == "button" && el.Role != "combobox" && !el.HasPopup {
			continue
		}

		label := resolveLabel(&el, doc, labels)
		desc := models.FieldDescriptor{
			StableID:    uniqueStableID(stableID(&el, label, len(descriptors)), seen),
			Label:       label,
			Category:    Classify(&el),
			Required:    el.Required,
			Filled:      el.Value != "" || el.Checked,
			Placeholder: el.Placeholder,
			Element:     el,
			Index:       len(descriptors),
		}
		descriptors = append(descriptors, desc)
	}

	d.logger.Debug().
		Str("url", snapshot.URL).
		Int("elements", len(snapshot.Elements)).
		Int("descriptors", len(descriptors)).
		Msg("Page scan complete")

	return descriptors, nil
}

// resolveLabel walks the resolution order: label[for], aria-label,
// aria-labelledby, fieldset legend + own option text for check-like
// elements, nearest preceding text block, placeholder, empty.
func resolveLabel(el *models.ElementInfo, doc *goquery.Document, labelFor map[string]string) string {
	if el.ID != "" {
		if text, ok := labelFor[el.ID]; ok && text != "" {
			return text
		}
	}
	if el.AriaLabel != "" {
		return strings.TrimSpace(el.AriaLabel)
	}
	if el.AriaLabelledBy != "" {
		return strings.TrimSpace(el.AriaLabelledBy)
	}
	if el.Type == "checkbox" || el.Type == "radio" {
		combined := strings.TrimSpace(strings.Join(nonEmpty(el.LegendText, el.OwnText), " "))
		if combined != "" {
			return combined
		}
	}
	if text := precedingText(el, doc); text != "" {
		return text
	}
	if el.Placeholder != "" {
		return strings.TrimSpace(el.Placeholder)
	}
	return ""
}

// indexLabelFor builds the label[for=id] text index in one pass.
func indexLabelFor(doc *goquery.Document) map[string]string {
	index := make(map[string]string)
	doc.Find("label[for]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("for")
		if id == "" {
			return
		}
		if _, exists := index[id]; !exists {
			index[id] = strings.TrimSpace(collapseSpace(sel.Text()))
		}
	})
	return index
}

// precedingText finds the nearest preceding text block within the same
// form container: earlier siblings first, then the parent's earlier
// siblings, up to three levels.
func precedingText(el *models.ElementInfo, doc *goquery.Document) string {
	if el.Path == "" {
		return ""
	}
	node := doc.Find(el.Path).First()
	if node.Length() == 0 {
		return ""
	}

	current := node
	for depth := 0; depth < 3; depth++ {
		for prev := current.Prev(); prev.Length() > 0; prev = prev.Prev() {
			if prev.Is("input, select, textarea, button, script, style") {
				break
			}
			if text := strings.TrimSpace(collapseSpace(prev.Text())); text != "" && len(text) <= 200 {
				return text
			}
		}
		parent := current.Parent()
		if parent.Length() == 0 || parent.Is("form, body, html") {
			break
		}
		current = parent
	}
	return ""
}

// stableID derives the deterministic element identifier. Priority: DOM
// id, name, aria-label, resolved label, placeholder, positional fallback.
func stableID(el *models.ElementInfo, label string, index int) string {
	switch {
	case el.ID != "":
		return "id:" + el.ID
	case el.Name != "":
		return "name:" + el.Name
	case el.AriaLabel != "":
		return "aria_label:" + el.AriaLabel
	case label != "":
		return fmt.Sprintf("label:%s:%s:%s", label, el.Tag, el.Type)
	case el.Placeholder != "":
		return fmt.Sprintf("placeholder:%s:%s:%s", el.Placeholder, el.Tag, el.Type)
	default:
		return fmt.Sprintf("index:%d:%s:%s", index, el.Tag, el.Type)
	}
}

// uniqueStableID disambiguates collisions within one page scan.
func uniqueStableID(id string, seen map[string]int) string {
	n := seen[id]
	seen[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s:%d", id, n)
}

// ExtractOptions populates the descriptor's option list. Native selects
// are read in place; custom and vendor dropdowns are opened, their popup
// read, and any residual overlay dismissed with Escape.
func (d *Detector) ExtractOptions(ctx context.Context, desc *models.FieldDescriptor) error {
	if !desc.Category.IsDropdown() {
		return fmt.Errorf("field '%s' (%s) has no options to extract", desc.StableID, desc.Category)
	}

	if desc.Category == models.CategorySelectNative {
		return d.extractNativeOptions(ctx, desc)
	}
	return d.extractPopupOptions(ctx, desc)
}

func (d *Detector) extractNativeOptions(ctx context.Context, desc *models.FieldDescriptor) error {
	var options []models.OptionItem
	expr := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%q);
		if (!sel) return [];
		return Array.from(sel.options).map(o => ({text: o.text.trim(), value: o.value}));
	})()`, desc.Selector())
	if err := d.driver.Evaluate(ctx, expr, &options); err != nil {
		return fmt.Errorf("failed to read options of '%s': %w", desc.StableID, err)
	}
	desc.Options = pruneOptions(options)
	return nil
}

// popupOptionSelector matches the visible entries of an open dropdown
// popup across the widget patterns the classifier recognizes.
const popupOptionSelector = `[role=option], [role=listbox] li, .select__option, .select2-results__option, .autocomplete-item, .typeahead-item`

func (d *Detector) extractPopupOptions(ctx context.Context, desc *models.FieldDescriptor) error {
	selector := desc.Selector()

	if err := d.driver.Click(ctx, selector); err != nil {
		if err := d.driver.JSClick(ctx, selector); err != nil {
			return fmt.Errorf("failed to open dropdown '%s': %w", desc.StableID, err)
		}
	}
	if err := d.driver.WaitVisible(ctx, popupOptionSelector, 3*time.Second); err != nil {
		_ = d.driver.PressKey(ctx, "Escape")
		return fmt.Errorf("dropdown '%s' popup did not appear: %w", desc.StableID, err)
	}

	texts, err := d.driver.AllText(ctx, popupOptionSelector)
	if err != nil {
		_ = d.driver.PressKey(ctx, "Escape")
		return fmt.Errorf("failed to read popup options of '%s': %w", desc.StableID, err)
	}

	// Close the popup before anything else touches the page.
	_ = d.driver.PressKey(ctx, "Escape")

	options := make([]models.OptionItem, 0, len(texts))
	for _, text := range texts {
		options = append(options, models.OptionItem{Text: text, Value: text})
	}
	desc.Options = pruneOptions(options)

	d.logger.Debug().
		Str("stable_id", desc.StableID).
		Int("options", len(desc.Options)).
		Msg("Dropdown options extracted")

	return nil
}

// pruneOptions drops empty entries and placeholder rows.
func pruneOptions(in []models.OptionItem) []models.OptionItem {
	out := make([]models.OptionItem, 0, len(in))
	for _, o := range in {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			continue
		}
		norm := strings.ToLower(text)
		if strings.HasPrefix(norm, "select") || strings.HasPrefix(norm, "choose") || norm == "--" {
			continue
		}
		out = append(out, models.OptionItem{Text: text, Value: o.Value})
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
