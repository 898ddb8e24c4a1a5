package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
)

// ChromeDriver implements the BrowserDriver interface over CDP against a
// Chromium instance that is already running inside a session sandbox. It
// attaches via the remote debugging port rather than spawning its own
// browser, so the page stays visible on the session's VNC display.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	logger      arbor.ILogger
}

// Attach connects to the Chromium debugging endpoint of a sandboxed
// browser. The returned driver owns the CDP session but not the browser
// process.
func Attach(ctx context.Context, debugURL string, logger arbor.ILogger) (*ChromeDriver, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, debugURL)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Verify the connection with a trivial round-trip.
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 15*time.Second)
	defer probeCancel()
	var title string
	if err := chromedp.Run(probeCtx, chromedp.Title(&title)); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to attach to browser at %s: %w", debugURL, err)
	}

	logger.Debug().Str("debug_url", debugURL).Msg("Attached to sandboxed browser")

	return &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
		logger:      logger,
	}, nil
}

// Close detaches from the browser. The browser process itself is owned by
// the session sandbox.
func (d *ChromeDriver) Close() error {
	d.cancel()
	d.allocCancel()
	return nil
}

func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeContext(d.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeContext ties the browser context's lifetime to the caller's
// deadline and cancellation.
func mergeContext(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Navigate loads the URL and waits for the document body to be ready.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of the active page.
func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Exists reports whether the selector matches at least one node.
func (d *ChromeDriver) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
	if err := d.Evaluate(ctx, expr, &found); err != nil {
		return false, err
	}
	return found, nil
}

// WaitVisible blocks until the selector is visible or the timeout expires.
func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("'%s' not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

// CountNodes returns the number of nodes matching the selector.
func (d *ChromeDriver) CountNodes(ctx context.Context, selector string) (int, error) {
	var count int
	expr := fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector))
	if err := d.Evaluate(ctx, expr, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// TextOf returns the trimmed text content of the first matching node.
func (d *ChromeDriver) TextOf(ctx context.Context, selector string) (string, error) {
	var text string
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.textContent.trim() : "";
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &text); err != nil {
		return "", err
	}
	return text, nil
}

// AllText returns the trimmed text content of every matching node.
func (d *ChromeDriver) AllText(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => el.textContent.trim())`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

// AttributeOf returns the named attribute of the first matching node, or
// empty when absent.
func (d *ChromeDriver) AttributeOf(ctx context.Context, selector, name string) (string, error) {
	var value string
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? (el.getAttribute(%s) || "") : "";
	})()`, jsString(selector), jsString(name))
	if err := d.Evaluate(ctx, expr, &value); err != nil {
		return "", err
	}
	return value, nil
}

// Click dispatches a trusted click on the first matching node.
func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click on '%s' failed: %w", selector, err)
	}
	return nil
}

// JSClick clicks via the DOM API. Used when the node is obscured by an
// overlay that swallows trusted pointer events.
func (d *ChromeDriver) JSClick(ctx context.Context, selector string) error {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("js click: no node matches '%s'", selector)
	}
	return nil
}

// ClickNodeWithText clicks the first node matching the selector whose
// trimmed text equals the given text (case-insensitive).
func (d *ChromeDriver) ClickNodeWithText(ctx context.Context, selector, text string) error {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const want = %s.trim().toLowerCase();
		for (const el of document.querySelectorAll(%s)) {
			if (el.textContent.trim().toLowerCase() === want) {
				el.scrollIntoView({block: "center"});
				el.click();
				return true;
			}
		}
		return false;
	})()`, jsString(text), jsString(selector))
	if err := d.Evaluate(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no node matching '%s' has text %q", selector, text)
	}
	return nil
}

// ScrollIntoView centers the first matching node in the viewport.
func (d *ChromeDriver) ScrollIntoView(ctx context.Context, selector string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({block: "center"});
		return true;
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scroll: no node matches '%s'", selector)
	}
	return nil
}

// Focus gives keyboard focus to the first matching node.
func (d *ChromeDriver) Focus(ctx context.Context, selector string) error {
	if err := d.run(ctx, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focus on '%s' failed: %w", selector, err)
	}
	return nil
}

// Clear empties the current value of the first matching node.
func (d *ChromeDriver) Clear(ctx context.Context, selector string) error {
	if err := d.run(ctx, chromedp.Clear(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clear on '%s' failed: %w", selector, err)
	}
	return nil
}

// TypeText sends individual key events to the focused node, which fires
// the per-keystroke handlers that framework-bound inputs listen for.
func (d *ChromeDriver) TypeText(ctx context.Context, selector, text string) error {
	if err := d.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("typing into '%s' failed: %w", selector, err)
	}
	return nil
}

// SetValue writes the value through the framework-aware native setter and
// dispatches input and change events so bound state observes the write.
func (d *ChromeDriver) SetValue(ctx context.Context, selector, value string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const proto = el instanceof HTMLTextAreaElement
			? HTMLTextAreaElement.prototype
			: el instanceof HTMLSelectElement
				? HTMLSelectElement.prototype
				: HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, "value");
		if (desc && desc.set) {
			desc.set.call(el, %s);
		} else {
			el.value = %s;
		}
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	})()`, jsString(selector), jsString(value), jsString(value))
	if err := d.Evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set value: no node matches '%s'", selector)
	}
	return nil
}

// ReadValue returns the current value of the first matching node.
func (d *ChromeDriver) ReadValue(ctx context.Context, selector string) (string, error) {
	var value string
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? (el.value || "") : "";
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &value); err != nil {
		return "", err
	}
	return value, nil
}

// SelectByLabel selects the native <select> option whose visible text
// matches the label (case-insensitive) and dispatches a change event.
func (d *ChromeDriver) SelectByLabel(ctx context.Context, selector, label string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%s);
		if (!sel) return false;
		const want = %s.trim().toLowerCase();
		for (let i = 0; i < sel.options.length; i++) {
			if (sel.options[i].text.trim().toLowerCase() === want) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event("input", {bubbles: true}));
				sel.dispatchEvent(new Event("change", {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, jsString(selector), jsString(label))
	if err := d.Evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("select '%s' has no option labeled %q", selector, label)
	}
	return nil
}

// SelectByValue selects the native <select> option with the given value
// attribute and dispatches a change event.
func (d *ChromeDriver) SelectByValue(ctx context.Context, selector, value string) error {
	var ok bool
	expr := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%s);
		if (!sel) return false;
		for (let i = 0; i < sel.options.length; i++) {
			if (sel.options[i].value === %s) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event("input", {bubbles: true}));
				sel.dispatchEvent(new Event("change", {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, jsString(selector), jsString(value))
	if err := d.Evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("select '%s' has no option with value %q", selector, value)
	}
	return nil
}

// SelectedLabel returns the visible text of the currently selected option.
func (d *ChromeDriver) SelectedLabel(ctx context.Context, selector string) (string, error) {
	var label string
	expr := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%s);
		if (!sel || sel.selectedIndex < 0) return "";
		return sel.options[sel.selectedIndex].text.trim();
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &label); err != nil {
		return "", err
	}
	return label, nil
}

// IsChecked reports the checked state of the first matching node.
func (d *ChromeDriver) IsChecked(ctx context.Context, selector string) (bool, error) {
	var checked bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? !!el.checked : false;
	})()`, jsString(selector))
	if err := d.Evaluate(ctx, expr, &checked); err != nil {
		return false, err
	}
	return checked, nil
}

// SetChecked clicks the node when its checked state differs from the
// desired one, so framework handlers observe a real toggle.
func (d *ChromeDriver) SetChecked(ctx context.Context, selector string, checked bool) error {
	current, err := d.IsChecked(ctx, selector)
	if err != nil {
		return err
	}
	if current == checked {
		return nil
	}
	return d.JSClick(ctx, selector)
}

// PressKey sends a keyboard event for a named key to the focused node.
func (d *ChromeDriver) PressKey(ctx context.Context, key string) error {
	code, ok := namedKeys[key]
	if !ok {
		if len(key) == 1 {
			code = key
		} else {
			return fmt.Errorf("unknown key %q", key)
		}
	}
	if err := d.run(ctx, chromedp.KeyEvent(code)); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

var namedKeys = map[string]string{
	"Enter":     kb.Enter,
	"Escape":    kb.Escape,
	"Tab":       kb.Tab,
	"Backspace": kb.Backspace,
	"ArrowDown": kb.ArrowDown,
	"ArrowUp":   kb.ArrowUp,
}

// UploadFile attaches a local file to the matching file input.
func (d *ChromeDriver) UploadFile(ctx context.Context, selector, path string) error {
	if err := d.run(ctx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("upload into '%s' failed: %w", selector, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and unmarshals the result.
func (d *ChromeDriver) Evaluate(ctx context.Context, expression string, result interface{}) error {
	if result == nil {
		var discard json.RawMessage
		result = &discard
	}
	if err := d.run(ctx, chromedp.Evaluate(expression, result)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// jsString encodes a Go string as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// compile-time interface check
var _ interfaces.BrowserDriver = (*ChromeDriver)(nil)
