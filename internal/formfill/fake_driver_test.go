package formfill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// fakeDriver is an in-memory BrowserDriver over a fixed element list.
// Values written through it show up on the next Snapshot so rescans see
// filled fields.
type fakeDriver struct {
	mu sync.Mutex

	url      string
	html     string
	elements []models.ElementInfo

	values   map[string]string
	checked  map[string]bool
	options  map[string][]string // native select options per selector
	selected map[string]string

	popupVisible bool
	popupOptions []string
	buttonTexts  []string

	// Tag-widget behavior: when commitOnEnter is set, Enter turns the
	// typed text into a chip (optionally rewritten via commitAs, the way
	// widgets substitute their top suggestion).
	chips         []string
	commitOnEnter bool
	commitAs      map[string]string
	lastTyped     string

	sectionCounts map[string]int
	onButtonClick func(text string)

	writes      int
	clickedText []string
	typeFails   map[string]int
}

func newFakeDriver(html string, elements []models.ElementInfo) *fakeDriver {
	return &fakeDriver{
		url:           "https://jobs.example.com/apply",
		html:          html,
		elements:      elements,
		values:        make(map[string]string),
		checked:       make(map[string]bool),
		options:       make(map[string][]string),
		selected:      make(map[string]string),
		sectionCounts: make(map[string]int),
		typeFails:     make(map[string]int),
		commitAs:      make(map[string]string),
	}
}

func selectorOf(el *models.ElementInfo) string {
	if el.ID != "" {
		return "#" + el.ID
	}
	if el.Name != "" {
		return fmt.Sprintf("%s[name=%q]", el.Tag, el.Name)
	}
	return el.Path
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeDriver) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) Snapshot(context.Context) (*interfaces.PageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	elements := make([]models.ElementInfo, len(f.elements))
	copy(elements, f.elements)
	for i := range elements {
		sel := selectorOf(&elements[i])
		if v, ok := f.values[sel]; ok {
			elements[i].Value = v
		}
		if c, ok := f.checked[sel]; ok {
			elements[i].Checked = c
		}
	}
	return &interfaces.PageSnapshot{URL: f.url, HTML: f.html, Elements: elements}, nil
}

func (f *fakeDriver) Exists(_ context.Context, selector string) (bool, error) {
	return true, nil
}

func (f *fakeDriver) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector == popupOptionSelector && !f.popupVisible {
		return fmt.Errorf("'%s' not visible", selector)
	}
	return nil
}

func (f *fakeDriver) CountNodes(_ context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector == multiselectChipSelector {
		return len(f.chips), nil
	}
	return f.sectionCounts[selector], nil
}

func (f *fakeDriver) TextOf(_ context.Context, selector string) (string, error) {
	return "", nil
}

func (f *fakeDriver) AllText(_ context.Context, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector == popupOptionSelector {
		return append([]string(nil), f.popupOptions...), nil
	}
	if selector == multiselectChipSelector {
		return append([]string(nil), f.chips...), nil
	}
	return append([]string(nil), f.buttonTexts...), nil
}

func (f *fakeDriver) AttributeOf(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (f *fakeDriver) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.popupOptions) > 0 {
		f.popupVisible = true
	}
	return nil
}

func (f *fakeDriver) JSClick(ctx context.Context, selector string) error {
	return f.Click(ctx, selector)
}

func (f *fakeDriver) ClickNodeWithText(_ context.Context, selector, text string) error {
	f.mu.Lock()
	cb := f.onButtonClick
	f.clickedText = append(f.clickedText, text)
	if selector == popupOptionSelector {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
	return nil
}

func (f *fakeDriver) ScrollIntoView(context.Context, string) error { return nil }
func (f *fakeDriver) Focus(context.Context, string) error          { return nil }

func (f *fakeDriver) Clear(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = ""
	return nil
}

func (f *fakeDriver) TypeText(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typeFails[selector] > 0 {
		f.typeFails[selector]--
		return fmt.Errorf("typing into '%s' failed", selector)
	}
	f.values[selector] += text
	f.lastTyped = text
	f.writes++
	if len(f.popupOptions) > 0 {
		f.popupVisible = true
	}
	return nil
}

func (f *fakeDriver) SetValue(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = value
	f.writes++
	return nil
}

func (f *fakeDriver) ReadValue(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[selector], nil
}

func (f *fakeDriver) SelectByLabel(_ context.Context, selector, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, opt := range f.options[selector] {
		if strings.EqualFold(opt, label) {
			f.selected[selector] = opt
			f.values[selector] = opt
			f.writes++
			return nil
		}
	}
	return fmt.Errorf("select '%s' has no option labeled %q", selector, label)
}

func (f *fakeDriver) SelectByValue(ctx context.Context, selector, value string) error {
	return f.SelectByLabel(ctx, selector, value)
}

func (f *fakeDriver) SelectedLabel(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected[selector], nil
}

func (f *fakeDriver) IsChecked(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked[selector], nil
}

func (f *fakeDriver) SetChecked(_ context.Context, selector string, checked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked[selector] = checked
	f.writes++
	return nil
}

func (f *fakeDriver) PressKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch key {
	case "Escape":
		f.popupVisible = false
	case "Enter":
		if f.commitOnEnter && f.lastTyped != "" {
			chip := f.lastTyped
			if rewritten, ok := f.commitAs[chip]; ok {
				chip = rewritten
			}
			f.chips = append(f.chips, chip)
			f.lastTyped = ""
			f.popupVisible = false
		}
	case "Backspace":
		if len(f.chips) > 0 {
			f.chips = f.chips[:len(f.chips)-1]
		}
	}
	return nil
}

func (f *fakeDriver) UploadFile(_ context.Context, selector, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = path
	f.writes++
	return nil
}

// Evaluate pattern-matches the expressions the engine emits and answers
// from the in-memory state. Results are delivered through JSON the same
// way the real driver does.
func (f *fakeDriver) Evaluate(_ context.Context, expression string, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	selector := f.selectorIn(expression)

	switch {
	case strings.Contains(expression, "sel.options") || strings.Contains(expression, "Array.from(sel.options)"):
		opts := make([]models.OptionItem, 0)
		for _, o := range f.options[selector] {
			opts = append(opts, models.OptionItem{Text: o, Value: o})
		}
		return deliver(opts, result)

	case strings.Contains(expression, ".files"):
		count := 0
		if f.values[selector] != "" {
			count = 1
		}
		return deliver(count, result)

	case strings.Contains(expression, "aria-pressed"):
		want := wantedButtonText(expression)
		for _, text := range f.buttonTexts {
			if strings.EqualFold(strings.TrimSpace(text), want) {
				f.checked[selector] = true
				return deliver(map[string]interface{}{"clicked": true, "verified": true, "actual": text}, result)
			}
		}
		return deliver(map[string]interface{}{"clicked": false, "verified": false, "actual": ""}, result)
	}
	return deliver(nil, result)
}

func (f *fakeDriver) selectorIn(expression string) string {
	for sel := range f.values {
		if strings.Contains(expression, fmt.Sprintf("%q", sel)) {
			return sel
		}
	}
	for sel := range f.options {
		if strings.Contains(expression, fmt.Sprintf("%q", sel)) {
			return sel
		}
	}
	for i := range f.elements {
		sel := selectorOf(&f.elements[i])
		if strings.Contains(expression, fmt.Sprintf("%q", sel)) {
			return sel
		}
	}
	return ""
}

// wantedButtonText pulls the second %q literal out of the button-group
// expression.
func wantedButtonText(expression string) string {
	var literals []string
	dec := json.NewDecoder(strings.NewReader(expression))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if s, ok := tok.(string); ok && s != "" {
			literals = append(literals, s)
		}
	}
	// Fallback: scan quoted strings manually.
	if len(literals) < 2 {
		literals = literals[:0]
		for i := 0; i < len(expression); i++ {
			if expression[i] == '"' {
				end := strings.IndexByte(expression[i+1:], '"')
				if end < 0 {
					break
				}
				if end > 0 {
					literals = append(literals, expression[i+1:i+1+end])
				}
				i += end + 1
			}
		}
	}
	if len(literals) >= 2 {
		return literals[1]
	}
	return ""
}

func deliver(value interface{}, result interface{}) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

var _ interfaces.BrowserDriver = (*fakeDriver)(nil)

// memActionLog is an in-memory ActionLogStorage.
type memActionLog struct {
	mu   sync.Mutex
	logs map[string]*models.ActionLog
}

func newMemActionLog() *memActionLog {
	return &memActionLog{logs: make(map[string]*models.ActionLog)}
}

func (m *memActionLog) Append(_ context.Context, userID, jobID string, rec models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := models.ActionLogID(userID, jobID)
	log, ok := m.logs[id]
	if !ok {
		log = &models.ActionLog{ID: id, UserID: userID, JobID: jobID, CreatedAt: time.Now()}
		m.logs[id] = log
	}
	log.Records = append(log.Records, rec)
	return nil
}

func (m *memActionLog) Get(_ context.Context, userID, jobID string) (*models.ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[models.ActionLogID(userID, jobID)]
	if !ok {
		return nil, fmt.Errorf("no action log")
	}
	return log, nil
}

func (m *memActionLog) MarkCompleted(_ context.Context, userID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log, ok := m.logs[models.ActionLogID(userID, jobID)]; ok {
		log.Completed = true
	}
	return nil
}

func (m *memActionLog) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return 0, nil
}

// fakeGateway counts calls and optionally fails with a scripted error.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	err      error
	response string
}

func (g *fakeGateway) Generate(_ context.Context, req interfaces.GatewayRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGateway) ForgetJob(userID, jobID string) {}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
