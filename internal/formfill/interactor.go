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

// InteractorConfig tunes the shared retry/verify loop.
type InteractorConfig struct {
	MaxRetries          int
	SettleWait          time.Duration
	RetryBackoff        time.Duration
	SimilarityThreshold float64
}

// Interactor performs the DOM interaction for one resolved field. Every
// strategy shares the same shape: re-resolve the live element from its
// stable id, act, settle, verify, retry with exponential backoff, and
// record the attempt. The strategies differ only in the act/verify pair.
type Interactor struct {
	driver   interfaces.BrowserDriver
	tracker  *Tracker
	recorder *Recorder
	config   InteractorConfig
	logger   arbor.ILogger
}

// NewInteractor creates the interactor for one page session.
func NewInteractor(driver interfaces.BrowserDriver, tracker *Tracker, recorder *Recorder, config InteractorConfig, logger arbor.ILogger) *Interactor {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.SettleWait <= 0 {
		config.SettleWait = 300 * time.Millisecond
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 250 * time.Millisecond
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.8
	}
	return &Interactor{
		driver:   driver,
		tracker:  tracker,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Apply drives one resolved value into its field. Skips are recorded
// without touching the DOM. Failures after all retries mark the field
// failed in the tracker; the error is returned for the caller's
// bookkeeping but other fields continue.
func (it *Interactor) Apply(ctx context.Context, desc *models.FieldDescriptor, value models.ResolvedValue) error {
	if value.Kind == models.ResolvedSkip {
		it.tracker.Record(desc.StableID, models.CompletionSkipped, "")
		it.recorder.Record(ctx, models.ActionRecord{
			Kind:     actionKind(desc.Category),
			StableID: desc.StableID,
			Success:  true,
			Error:    value.Reason,
		})
		return nil
	}

	backoff := it.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= it.config.MaxRetries; attempt++ {
		verification, err := it.attempt(ctx, desc, value, attempt)

		it.recorder.Record(ctx, models.ActionRecord{
			Kind:         actionKind(desc.Category),
			StableID:     desc.StableID,
			Value:        value.Value,
			Success:      err == nil,
			RetryCount:   attempt,
			Error:        errString(err),
			Verification: verification,
		})

		if err == nil {
			it.tracker.Record(desc.StableID, models.CompletionSucceeded, value.Value)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt == it.config.MaxRetries {
			break
		}

		it.recoverOverlay(ctx, desc)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = it.config.MaxRetries
		}
		backoff *= 2
	}

	it.tracker.Record(desc.StableID, models.CompletionFailed, value.Value)
	return fmt.Errorf("field '%s' failed after %d attempts: %w", desc.StableID, it.config.MaxRetries+1, lastErr)
}

func (it *Interactor) attempt(ctx context.Context, desc *models.FieldDescriptor, value models.ResolvedValue, attempt int) (*models.Verification, error) {
	switch desc.Category {
	case models.CategorySelectNative:
		return it.selectNative(ctx, desc, value.Value)
	case models.CategorySelectCustom, models.CategorySelectVendorA, models.CategorySelectVendorB:
		return it.selectCustom(ctx, desc, value.Value)
	case models.CategoryButtonGroup:
		return it.buttonGroup(ctx, desc, value)
	case models.CategoryCheckbox, models.CategoryRadio:
		return it.checkLike(ctx, desc, value)
	case models.CategoryFileUpload:
		return it.upload(ctx, desc, value.Value)
	case models.CategoryMultiselect:
		return it.multiselect(ctx, desc, value.Value)
	case models.CategoryTextarea:
		return it.textLike(ctx, desc, value.Value, attempt, false)
	default:
		return it.textLike(ctx, desc, value.Value, attempt, true)
	}
}

// textLike clears, types, and reads back. The first retry switches to the
// framework-aware value setter for inputs that reorder keystrokes.
func (it *Interactor) textLike(ctx context.Context, desc *models.FieldDescriptor, value string, attempt int, strict bool) (*models.Verification, error) {
	selector := desc.Selector()

	if attempt == 0 {
		if err := it.driver.Clear(ctx, selector); err != nil {
			return nil, err
		}
		if err := it.driver.TypeText(ctx, selector, value); err != nil {
			return nil, err
		}
	} else {
		if err := it.driver.SetValue(ctx, selector, value); err != nil {
			return nil, err
		}
	}

	it.settle(ctx)
	actual, err := it.driver.ReadValue(ctx, selector)
	if err != nil {
		return nil, err
	}

	verification := &models.Verification{Expected: value, Actual: actual}
	if strict && actual != value {
		return verification, fmt.Errorf("read-back mismatch: wanted %q, field holds %q", value, actual)
	}
	if !strict && strings.TrimSpace(actual) == "" && strings.TrimSpace(value) != "" {
		return verification, fmt.Errorf("textarea remained empty after fill")
	}
	return verification, nil
}

// selectNative selects by visible label, falling back to select-by-value
// when labels collide.
func (it *Interactor) selectNative(ctx context.Context, desc *models.FieldDescriptor, label string) (*models.Verification, error) {
	selector := desc.Selector()

	if err := it.driver.SelectByLabel(ctx, selector, label); err != nil {
		if valueErr := it.driver.SelectByValue(ctx, selector, label); valueErr != nil {
			return nil, err
		}
	}

	it.settle(ctx)
	actual, err := it.driver.SelectedLabel(ctx, selector)
	if err != nil {
		return nil, err
	}
	verification := &models.Verification{Expected: label, Actual: actual}
	if !strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(label)) {
		return verification, fmt.Errorf("select shows %q, wanted %q", actual, label)
	}
	return verification, nil
}

// selectCustom opens the popup and clicks the option whose text is an
// exact or containment match, with a word-Jaccard fallback for noisy
// labels. Residual overlays are dismissed with Escape.
func (it *Interactor) selectCustom(ctx context.Context, desc *models.FieldDescriptor, want string) (*models.Verification, error) {
	selector := desc.Selector()

	if err := it.driver.Click(ctx, selector); err != nil {
		if jsErr := it.driver.JSClick(ctx, selector); jsErr != nil {
			return nil, err
		}
	}
	if err := it.driver.WaitVisible(ctx, popupOptionSelector, 3*time.Second); err != nil {
		return nil, fmt.Errorf("dropdown popup did not appear: %w", err)
	}

	chosen, err := it.clickBestOption(ctx, want)
	if err != nil {
		_ = it.driver.PressKey(ctx, "Escape")
		return nil, err
	}
	_ = it.driver.PressKey(ctx, "Escape")

	it.settle(ctx)
	actual, readErr := it.driver.ReadValue(ctx, selector)
	verification := &models.Verification{Expected: want, Actual: actual}
	if readErr == nil && actual != "" && !strings.EqualFold(actual, chosen) && !strings.Contains(strings.ToLower(actual), strings.ToLower(chosen)) {
		return verification, fmt.Errorf("dropdown holds %q after selecting %q", actual, chosen)
	}
	verification.Actual = chosen
	return verification, nil
}

// clickBestOption picks the popup entry closest to want: exact, then
// containment, then similarity above the configured threshold.
func (it *Interactor) clickBestOption(ctx context.Context, want string) (string, error) {
	texts, err := it.driver.AllText(ctx, popupOptionSelector)
	if err != nil {
		return "", err
	}

	wantNorm := normalizeLabel(want)
	best, bestScore := "", 0.0
	for _, text := range texts {
		norm := normalizeLabel(text)
		if norm == wantNorm {
			best, bestScore = text, 1.0
			break
		}
		if strings.Contains(norm, wantNorm) || strings.Contains(wantNorm, norm) {
			if bestScore < 0.9 {
				best, bestScore = text, 0.9
			}
			continue
		}
		if score := WordJaccard(text, want); score > bestScore {
			best, bestScore = text, score
		}
	}
	if best == "" || bestScore < it.config.SimilarityThreshold {
		return "", fmt.Errorf("no popup option close enough to %q (best score %.2f)", want, bestScore)
	}
	if err := it.driver.ClickNodeWithText(ctx, popupOptionSelector, best); err != nil {
		return "", err
	}
	return best, nil
}

// buttonGroup clicks the sibling button whose text equals the intended
// value and verifies via aria-pressed or a selection class.
func (it *Interactor) buttonGroup(ctx context.Context, desc *models.FieldDescriptor, value models.ResolvedValue) (*models.Verification, error) {
	want := value.Value
	if value.Kind == models.ResolvedCheck {
		want = "No"
		if value.Decision {
			want = "Yes"
		}
	}

	type result struct {
		Clicked  bool   `json:"clicked"`
		Verified bool   `json:"verified"`
		Actual   string `json:"actual"`
	}
	var res result
	expr := fmt.Sprintf(`(() => {
		const input = document.querySelector(%q);
		if (!input || !input.parentElement) return {clicked: false, verified: false, actual: ""};
		const want = %q.trim().toLowerCase();
		const buttons = Array.from(input.parentElement.querySelectorAll("button, [role=button]"));
		for (const b of buttons) {
			if (b.textContent.trim().toLowerCase() === want) {
				b.click();
				const pressed = b.getAttribute("aria-pressed") === "true" ||
					/selected|active|checked/.test(b.className);
				return {clicked: true, verified: pressed, actual: b.textContent.trim()};
			}
		}
		return {clicked: false, verified: false, actual: ""};
	})()`, desc.Selector(), want)
	if err := it.driver.Evaluate(ctx, expr, &res); err != nil {
		return nil, err
	}
	if !res.Clicked {
		return nil, fmt.Errorf("no button in group matches %q", want)
	}

	it.settle(ctx)
	verification := &models.Verification{Expected: want, Actual: res.Actual}
	if !res.Verified {
		// Some groups only reflect state after settle; accept a checked
		// underlying input as verification.
		checked, err := it.driver.IsChecked(ctx, desc.Selector())
		if err != nil || !checked {
			return verification, fmt.Errorf("button %q did not register as selected", want)
		}
	}
	return verification, nil
}

// checkLike sets the checked state and verifies by reading it back.
func (it *Interactor) checkLike(ctx context.Context, desc *models.FieldDescriptor, value models.ResolvedValue) (*models.Verification, error) {
	want := value.Decision
	if value.Kind != models.ResolvedCheck {
		want = strings.EqualFold(strings.TrimSpace(value.Value), "yes") || value.Value == "true"
	}

	selector := desc.Selector()
	if err := it.driver.SetChecked(ctx, selector, want); err != nil {
		return nil, err
	}

	it.settle(ctx)
	actual, err := it.driver.IsChecked(ctx, selector)
	if err != nil {
		return nil, err
	}
	verification := &models.Verification{
		Expected: fmt.Sprintf("%t", want),
		Actual:   fmt.Sprintf("%t", actual),
	}
	if actual != want {
		return verification, fmt.Errorf("checkbox state is %t, wanted %t", actual, want)
	}
	return verification, nil
}

// upload attaches the local file and verifies the input holds it.
func (it *Interactor) upload(ctx context.Context, desc *models.FieldDescriptor, path string) (*models.Verification, error) {
	selector := desc.Selector()
	if err := it.driver.UploadFile(ctx, selector, path); err != nil {
		return nil, err
	}

	it.settle(ctx)
	var count int
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return el && el.files ? el.files.length : 0;
	})()`, selector)
	if err := it.driver.Evaluate(ctx, expr, &count); err != nil {
		return nil, err
	}
	verification := &models.Verification{Expected: "1 file", Actual: fmt.Sprintf("%d files", count)}
	if count == 0 {
		return verification, fmt.Errorf("file input holds no files after upload")
	}
	return verification, nil
}

// multiselectChipSelector matches the entries a tag-style widget has
// already committed next to its search input.
const multiselectChipSelector = `[class*="chip"], [class*="tag"], [class*="token"], [class*="pill"]`

// multiselect commits each requested skill through the widget's search
// input. A suggestion is clicked on exact or containment match; failing
// that, Enter commits the typed value (or the widget's top suggestion)
// and the resulting entry is kept only when its similarity to the
// intended skill clears the threshold.
func (it *Interactor) multiselect(ctx context.Context, desc *models.FieldDescriptor, joined string) (*models.Verification, error) {
	selector := desc.Selector()
	skills := splitList(joined)
	committed := 0

	for _, skill := range skills {
		if err := it.driver.Focus(ctx, selector); err != nil {
			return nil, err
		}
		if err := it.driver.Clear(ctx, selector); err != nil {
			return nil, err
		}
		if err := it.driver.TypeText(ctx, selector, skill); err != nil {
			return nil, err
		}

		if err := it.driver.WaitVisible(ctx, popupOptionSelector, 2*time.Second); err == nil {
			if it.clickSuggestedOption(ctx, skill) {
				committed++
				it.settle(ctx)
				continue
			}
		}

		if it.commitTyped(ctx, desc, skill) {
			committed++
		} else {
			it.logger.Debug().
				Str("stable_id", desc.StableID).
				Str("skill", skill).
				Msg("Skill discarded")
			_ = it.driver.PressKey(ctx, "Escape")
		}
	}

	verification := &models.Verification{
		Expected: fmt.Sprintf("%d skills", len(skills)),
		Actual:   fmt.Sprintf("%d committed", committed),
	}
	if committed == 0 && len(skills) > 0 {
		return verification, fmt.Errorf("no skill could be committed")
	}
	return verification, nil
}

// clickSuggestedOption clicks the popup entry whose text is an exact or
// containment match for the skill. Near-miss suggestions are left to the
// Enter-commit path.
func (it *Interactor) clickSuggestedOption(ctx context.Context, want string) bool {
	texts, err := it.driver.AllText(ctx, popupOptionSelector)
	if err != nil {
		return false
	}
	wantNorm := normalizeLabel(want)
	for _, text := range texts {
		norm := normalizeLabel(text)
		if norm == wantNorm || strings.Contains(norm, wantNorm) || strings.Contains(wantNorm, norm) {
			return it.driver.ClickNodeWithText(ctx, popupOptionSelector, text) == nil
		}
	}
	return false
}

// commitTyped presses Enter so the widget commits the typed value or its
// top suggestion, then keeps the new entry only when it is close enough
// to the intended skill. A stray commit is removed with Backspace on the
// emptied search input.
func (it *Interactor) commitTyped(ctx context.Context, desc *models.FieldDescriptor, skill string) bool {
	before, err := it.driver.CountNodes(ctx, multiselectChipSelector)
	if err != nil {
		return false
	}
	if err := it.driver.PressKey(ctx, "Enter"); err != nil {
		return false
	}
	it.settle(ctx)

	chips, err := it.driver.AllText(ctx, multiselectChipSelector)
	if err != nil || len(chips) <= before {
		return false
	}
	chip := chips[len(chips)-1]
	if WordJaccard(chip, skill) >= it.config.SimilarityThreshold {
		return true
	}

	it.logger.Debug().
		Str("stable_id", desc.StableID).
		Str("skill", skill).
		Str("committed", chip).
		Msg("Committed entry too far from the intended skill - removed")
	_ = it.driver.Focus(ctx, desc.Selector())
	_ = it.driver.PressKey(ctx, "Backspace")
	it.settle(ctx)
	return false
}

// recoverOverlay is the interception recovery ladder applied between
// retries: scroll the element into view and dismiss common overlays.
func (it *Interactor) recoverOverlay(ctx context.Context, desc *models.FieldDescriptor) {
	_ = it.driver.ScrollIntoView(ctx, desc.Selector())
	_ = it.driver.PressKey(ctx, "Escape")
}

func (it *Interactor) settle(ctx context.Context) {
	select {
	case <-time.After(it.config.SettleWait):
	case <-ctx.Done():
	}
}

func actionKind(category models.FieldCategory) models.ActionKind {
	switch {
	case category.IsDropdown() || category == models.CategoryMultiselect:
		return models.ActionSelect
	case category.IsCheckLike():
		return models.ActionClick
	case category == models.CategoryFileUpload:
		return models.ActionUpload
	default:
		return models.ActionFill
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func splitList(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
