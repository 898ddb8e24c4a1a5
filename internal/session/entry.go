package session

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/peto/internal/interfaces"
)

const clickableSelector = `button, [role=button], a`

// Entry-action texts in preference order. Manual-apply affordances beat
// plain apply because some boards route "Apply" through an account flow.
var entryTexts = []string{
	"apply manually",
	"apply now",
	"apply for this job",
	"apply for this position",
	"apply",
}

// Autofill-by-resume affordances are ignored by policy: parsing accuracy
// on those flows is poor and the result overwrites fields we fill better
// ourselves.
var ignoredEntryTexts = []string{
	"autofill with resume",
	"apply with resume",
	"autofill from resume",
	"easy apply",
	"apply with linkedin",
	"apply with indeed",
}

// formFieldSelector detects a directly embedded application form.
const formFieldSelector = `form input:not([type=hidden]), form select, form textarea`

// selectEntryAction gets the page to the application form: click the
// preferred apply affordance when one exists, otherwise rely on a form
// already being present. Returns false when neither path is available.
func selectEntryAction(ctx context.Context, driver interfaces.BrowserDriver) (bool, error) {
	texts, err := driver.AllText(ctx, clickableSelector)
	if err != nil {
		return false, err
	}

	for _, want := range entryTexts {
		text, ok := findEntryText(texts, want)
		if !ok {
			continue
		}
		if err := driver.ClickNodeWithText(ctx, clickableSelector, text); err != nil {
			continue
		}
		return true, nil
	}

	// No apply affordance: accept a page that embeds the form directly.
	fields, err := driver.CountNodes(ctx, formFieldSelector)
	if err != nil {
		return false, err
	}
	return fields > 0, nil
}

// findEntryText matches want against the clickable texts, skipping
// ignored autofill affordances.
func findEntryText(texts []string, want string) (string, bool) {
	for _, text := range texts {
		norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
		if norm == "" || !strings.Contains(norm, want) {
			continue
		}
		if isIgnoredEntry(norm) {
			continue
		}
		return text, true
	}
	return "", false
}

func isIgnoredEntry(norm string) bool {
	for _, ignored := range ignoredEntryTexts {
		if strings.Contains(norm, ignored) {
			return true
		}
	}
	return false
}

// captchaSelector matches the widget chrome of the common captcha
// providers.
const captchaSelector = `iframe[src*="captcha"], iframe[src*="turnstile"], .g-recaptcha, .h-captcha, [class*="captcha"]`

// captchaPresent reports whether the page shows a captcha challenge.
// Captchas are a hard human-intervention signal: automation never
// attempts to solve one.
func captchaPresent(ctx context.Context, driver interfaces.BrowserDriver) bool {
	count, err := driver.CountNodes(ctx, captchaSelector)
	return err == nil && count > 0
}

// Submit affordances in preference order.
var submitTexts = []string{
	"submit application",
	"submit",
	"send application",
	"finish",
	"review and submit",
}

// errorIndicatorSelector matches visible validation error chrome.
const errorIndicatorSelector = `[role=alert], .error-message, .field-error, [class*="error"]:not(input):not(select):not(textarea)`

// attemptSubmit clicks the submit affordance and decides success by URL
// change or by the absence of visible error indicators after settle.
func attemptSubmit(ctx context.Context, driver interfaces.BrowserDriver, settle time.Duration) (bool, error) {
	before, err := driver.CurrentURL(ctx)
	if err != nil {
		return false, err
	}

	texts, err := driver.AllText(ctx, clickableSelector)
	if err != nil {
		return false, err
	}

	clicked := false
	for _, want := range submitTexts {
		if text, ok := findEntryText(texts, want); ok {
			if err := driver.ClickNodeWithText(ctx, clickableSelector, text); err == nil {
				clicked = true
				break
			}
		}
	}
	if !clicked {
		return false, nil
	}

	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return false, ctx.Err()
	}

	after, err := driver.CurrentURL(ctx)
	if err == nil && after != before {
		return true, nil
	}

	errorCount, err := driver.CountNodes(ctx, errorIndicatorSelector)
	if err != nil {
		return false, err
	}
	return errorCount == 0, nil
}
