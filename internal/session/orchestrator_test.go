package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/vnc"
)

// stubDriver implements the slice of the browser surface the runner and
// the fill loop touch for a static page. Unimplemented methods panic via
// the embedded nil interface, which is exactly what a test reaching them
// deserves.
type stubDriver struct {
	interfaces.BrowserDriver

	url      string
	bodyText string
	texts    []string               // clickable texts on the page
	counts   map[string]int         // CountNodes answers by selector
	elements []models.ElementInfo   // snapshot elements
	clicked  []string

	// submitBumpsURL simulates a board that navigates to a confirmation
	// page after submit.
	submitBumpsURL bool
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	d.url = url
	return nil
}

func (d *stubDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.url, nil
}

func (d *stubDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (d *stubDriver) Snapshot(ctx context.Context) (*interfaces.PageSnapshot, error) {
	return &interfaces.PageSnapshot{URL: d.url, Elements: d.elements}, nil
}

func (d *stubDriver) TextOf(ctx context.Context, selector string) (string, error) {
	return d.bodyText, nil
}

func (d *stubDriver) AllText(ctx context.Context, selector string) ([]string, error) {
	return d.texts, nil
}

func (d *stubDriver) CountNodes(ctx context.Context, selector string) (int, error) {
	return d.counts[selector], nil
}

func (d *stubDriver) ClickNodeWithText(ctx context.Context, selector, text string) error {
	d.clicked = append(d.clicked, text)
	if d.submitBumpsURL && strings.Contains(strings.ToLower(text), "submit") {
		d.url += "/confirmation"
	}
	return nil
}

type stubCoordinator struct {
	sess    *models.VNCSession
	driver  interfaces.BrowserDriver
	touches int
	stopped bool
}

func (c *stubCoordinator) Session() *models.VNCSession      { return c.sess }
func (c *stubCoordinator) Driver() interfaces.BrowserDriver { return c.driver }
func (c *stubCoordinator) ViewerURL() string                { return "ws://localhost:6090/" }
func (c *stubCoordinator) Touch()                           { c.touches++ }
func (c *stubCoordinator) Stop() error                      { c.stopped = true; return nil }

type stubFleet struct {
	coord      *stubCoordinator
	acquireErr error
	released   []string
}

func (f *stubFleet) Acquire(ctx context.Context, userID, jobURL string) (interfaces.Coordinator, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return f.coord, nil
}

func (f *stubFleet) Release(sessionID string) error {
	f.released = append(f.released, sessionID)
	f.coord.stopped = true
	return nil
}

func (f *stubFleet) CloseUserSessions(ctx context.Context, userID string, sessionIDs []string) error {
	return nil
}

func (f *stubFleet) ActiveCount() int { return 0 }

type stubProfiles struct {
	profile    *models.ProfileView
	resolveErr error
}

func (p *stubProfiles) GetProfile(ctx context.Context, userID string) (*models.ProfileView, error) {
	if p.profile == nil {
		return nil, errors.New("no profile")
	}
	return p.profile, nil
}

func (p *stubProfiles) ResolveResume(ctx context.Context, blobRef, destDir string) (string, error) {
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	return filepath.Join(destDir, "resume.txt"), nil
}

type stubGateway struct {
	mu       sync.Mutex
	calls    int
	response string
}

func (g *stubGateway) Generate(ctx context.Context, req interfaces.GatewayRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.response == "" {
		return "{}", nil
	}
	return g.response, nil
}

func (g *stubGateway) ForgetJob(userID, jobID string) {}

type memActions struct {
	mu        sync.Mutex
	appended  int
	completed bool
}

func (m *memActions) Append(ctx context.Context, userID, jobID string, rec models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended++
	return nil
}

func (m *memActions) Get(ctx context.Context, userID, jobID string) (*models.ActionLog, error) {
	return nil, nil
}

func (m *memActions) MarkCompleted(ctx context.Context, userID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = true
	return nil
}

func (m *memActions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memEvents) Publish(event models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memEvents) Subscribe(types ...models.EventType) (<-chan models.Event, func()) {
	ch := make(chan models.Event)
	return ch, func() {}
}

func (m *memEvents) Close() error { return nil }

func (m *memEvents) typesSeen() []models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func testSession(t *testing.T) *models.VNCSession {
	return &models.VNCSession{
		ID:          "vnc_test",
		UserID:      "u1",
		SlotIndex:   0,
		SandboxHome: t.TempDir(),
		Status:      models.VNCActive,
	}
}

func newTestRunner(t *testing.T, driver *stubDriver) (*Runner, *stubFleet, *memEvents, *memActions) {
	cfg := common.DefaultConfig()
	cfg.FormFill.SettleWait = "1ms"
	cfg.FormFill.RetryBackoff = "1ms"

	fleet := &stubFleet{coord: &stubCoordinator{sess: testSession(t), driver: driver}}
	events := &memEvents{}
	actions := &memActions{}
	profiles := &stubProfiles{profile: &models.ProfileView{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
	}}

	r := NewRunner(cfg, fleet, profiles, &stubGateway{}, actions, events, common.GetLogger())
	r.submitGrace = time.Millisecond
	r.settleWait = time.Millisecond
	r.pageTimeout = 10 * time.Millisecond
	return r, fleet, events, actions
}

func TestRunSubmitsAndReleasesSession(t *testing.T) {
	driver := &stubDriver{
		texts:          []string{"Share", "Apply", "Submit"},
		submitBumpsURL: true,
	}
	r, fleet, events, actions := newTestRunner(t, driver)

	var progress []int
	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", func(p int) {
		progress = append(progress, p)
	})

	assert.Equal(t, models.SessionSubmitted, result.State)
	assert.Equal(t, "vnc_test", result.SessionID)
	assert.Empty(t, result.Error)

	assert.Equal(t, []string{"vnc_test"}, fleet.released)
	assert.True(t, actions.completed)
	assert.Contains(t, driver.clicked, "Apply")
	assert.Contains(t, driver.clicked, "Submit")
	assert.NotEmpty(t, progress)

	seen := events.typesSeen()
	assert.Contains(t, seen, models.EventVNCStarted)
	assert.Contains(t, seen, models.EventVNCClosed)
}

func TestRunPrefersManualApplyOverAutofill(t *testing.T) {
	driver := &stubDriver{
		texts:          []string{"Autofill with Resume", "Apply Manually", "Apply", "Submit"},
		submitBumpsURL: true,
	}
	r, _, _, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionSubmitted, result.State)
	require.NotEmpty(t, driver.clicked)
	assert.Equal(t, "Apply Manually", driver.clicked[0])
	assert.NotContains(t, driver.clicked, "Autofill with Resume")
}

func TestRunFailsWhenFleetIsFull(t *testing.T) {
	driver := &stubDriver{}
	r, fleet, events, _ := newTestRunner(t, driver)
	fleet.acquireErr = vnc.ErrFleetFull

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionFailed, result.State)
	assert.Equal(t, "no session capacity available", result.Error)
	assert.Empty(t, events.typesSeen())
}

func TestRunFailsWithoutApplicationEntry(t *testing.T) {
	driver := &stubDriver{texts: []string{"Learn more", "Share"}}
	r, fleet, _, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionFailed, result.State)
	assert.Contains(t, result.Error, "no application form")
	assert.Equal(t, []string{"vnc_test"}, fleet.released)
}

func TestRunEntersEmbeddedFormWithoutApplyButton(t *testing.T) {
	driver := &stubDriver{
		texts:          []string{"Submit"},
		counts:         map[string]int{formFieldSelector: 3},
		submitBumpsURL: true,
	}
	r, _, _, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionSubmitted, result.State)
}

func TestRunFlagsCaptchaForReview(t *testing.T) {
	driver := &stubDriver{
		texts:  []string{"Apply"},
		counts: map[string]int{captchaSelector: 1},
	}
	r, fleet, events, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionReadyForReview, result.State)
	assert.Equal(t, "ws://localhost:6090/", result.ViewerURL)
	assert.Contains(t, result.Error, "captcha")

	// Session stays alive for the human.
	assert.Empty(t, fleet.released)
	assert.Contains(t, events.typesSeen(), models.EventReadyForReview)
}

func TestRunKeepsSessionWhenSubmitUnconfirmed(t *testing.T) {
	driver := &stubDriver{
		texts:  []string{"Apply", "Submit"},
		counts: map[string]int{errorIndicatorSelector: 2},
	}
	r, fleet, _, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionReadyForReview, result.State)
	assert.Contains(t, result.Error, "submission not confirmed")
	assert.Empty(t, fleet.released)
}

func TestRunHoldsUnresolvedRequiredFieldForReview(t *testing.T) {
	driver := &stubDriver{
		texts: []string{"Apply", "Submit"},
		elements: []models.ElementInfo{{
			Path:      "form > input:nth-of-type(1)",
			Tag:       "input",
			Type:      "text",
			AriaLabel: "Explain your interest in this role",
			Required:  true,
			Visible:   true,
			Width:     220,
			Height:    32,
		}},
	}
	r, fleet, events, _ := newTestRunner(t, driver)

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionReadyForReview, result.State)
	assert.Contains(t, result.Error, "required fields unresolved")
	assert.Empty(t, fleet.released)
	assert.Contains(t, events.typesSeen(), models.EventReadyForReview)
}

func TestRunContinuesWhenResumeStagingFails(t *testing.T) {
	driver := &stubDriver{
		texts:          []string{"Apply", "Submit"},
		submitBumpsURL: true,
	}
	r, _, _, _ := newTestRunner(t, driver)
	r.profiles = &stubProfiles{
		profile:    &models.ProfileView{FirstName: "Ada", ResumeBlobRef: "blob:1"},
		resolveErr: errors.New("blob store unreachable"),
	}

	result := r.Run(context.Background(), "u1", "job1", "https://jobs.example.com/1", nil)

	assert.Equal(t, models.SessionSubmitted, result.State)
}
