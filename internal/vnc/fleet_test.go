package vnc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// memSessionStore is an in-memory VNCSessionStorage.
type memSessionStore struct {
	mu   sync.Mutex
	rows map[string]*models.VNCSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: make(map[string]*models.VNCSession)}
}

func (m *memSessionStore) Save(_ context.Context, session *models.VNCSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.rows[session.ID] = &copied
	return nil
}

func (m *memSessionStore) Get(_ context.Context, id string) (*models.VNCSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("session '%s' not found", id)
	}
	copied := *row
	return &copied, nil
}

func (m *memSessionStore) ListByStatus(_ context.Context, status models.VNCSessionStatus) ([]*models.VNCSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VNCSession
	for _, row := range m.rows {
		if row.Status == status {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memSessionStore) ListActiveSince(_ context.Context, since time.Time) ([]*models.VNCSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VNCSession
	for _, row := range m.rows {
		if row.Status == models.VNCActive && row.CreatedAt.After(since) {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memSessionStore) UpdateStatus(_ context.Context, id string, status models.VNCSessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("session '%s' not found", id)
	}
	row.Status = status
	return nil
}

func (m *memSessionStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.LastActive = at
	}
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// fakeCoordinator stands in for the real resource chain.
type fakeCoordinator struct {
	session *models.VNCSession
	stopped bool
}

func (f *fakeCoordinator) Session() *models.VNCSession     { return f.session }
func (f *fakeCoordinator) Driver() interfaces.BrowserDriver { return nil }
func (f *fakeCoordinator) ViewerURL() string               { return fmt.Sprintf("ws://test:%d/", f.session.WSPort) }
func (f *fakeCoordinator) Touch()                          {}
func (f *fakeCoordinator) Stop() error                     { f.stopped = true; return nil }

func testFleetConfig() common.VNCConfig {
	return common.VNCConfig{
		DisplayBase: 90,
		VNCPortBase: 5990,
		WSPortBase:  6090,
		MaxSessions: 3,
		SandboxRoot: "/tmp/peto-test-sandboxes",
		Host:        "test",
	}
}

func newTestFleet(store interfaces.VNCSessionStorage) *Fleet {
	fleet := NewFleet(testFleetConfig(), store, common.GetLogger())
	fleet.factory = func(_ context.Context, _ common.VNCConfig, session *models.VNCSession, _ interfaces.VNCSessionStorage, _ arbor.ILogger) (interfaces.Coordinator, error) {
		return &fakeCoordinator{session: session}, nil
	}
	return fleet
}

func TestAcquireAssignsSmallestFreeSlot(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	ctx := context.Background()

	first, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/1")
	require.NoError(t, err)
	second, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/2")
	require.NoError(t, err)

	assert.Equal(t, 0, first.Session().SlotIndex)
	assert.Equal(t, 90, first.Session().DisplayNum)
	assert.Equal(t, 5990, first.Session().VNCPort)
	assert.Equal(t, 6090, first.Session().WSPort)

	assert.Equal(t, 1, second.Session().SlotIndex)
	assert.Equal(t, 5991, second.Session().VNCPort)

	// Releasing slot 0 makes it the next allocation again.
	require.NoError(t, fleet.Release(first.Session().ID))
	third, err := fleet.Acquire(ctx, "u2", "https://jobs.example.com/3")
	require.NoError(t, err)
	assert.Equal(t, 0, third.Session().SlotIndex)
}

func TestAcquireNeverSharesPortsAcrossLiveSessions(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	ctx := context.Background()

	displays := make(map[int]bool)
	vncPorts := make(map[int]bool)
	wsPorts := make(map[int]bool)
	homes := make(map[string]bool)

	for i := 0; i < 3; i++ {
		c, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
		require.NoError(t, err)
		s := c.Session()
		assert.False(t, displays[s.DisplayNum], "display %d reused", s.DisplayNum)
		assert.False(t, vncPorts[s.VNCPort], "vnc port %d reused", s.VNCPort)
		assert.False(t, wsPorts[s.WSPort], "ws port %d reused", s.WSPort)
		assert.False(t, homes[s.SandboxHome], "sandbox home %q reused", s.SandboxHome)
		displays[s.DisplayNum] = true
		vncPorts[s.VNCPort] = true
		wsPorts[s.WSPort] = true
		homes[s.SandboxHome] = true
	}
}

func TestAcquireRejectsWhenFleetFull(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
		require.NoError(t, err)
	}

	_, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
	assert.ErrorIs(t, err, ErrFleetFull)
	assert.Equal(t, 3, fleet.ActiveCount())
}

func TestAcquireFreesSlotWhenCoordinatorFails(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	fleet.factory = func(_ context.Context, _ common.VNCConfig, session *models.VNCSession, _ interfaces.VNCSessionStorage, _ arbor.ILogger) (interfaces.Coordinator, error) {
		return nil, fmt.Errorf("xvfb refused to start")
	}
	ctx := context.Background()

	_, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
	require.Error(t, err)
	assert.Equal(t, 0, fleet.ActiveCount())

	rows, _ := store.ListByStatus(ctx, models.VNCFailed)
	require.Len(t, rows, 1, "failed allocation leaves a failed row behind")

	// The slot is usable again.
	fleet.factory = func(_ context.Context, _ common.VNCConfig, session *models.VNCSession, _ interfaces.VNCSessionStorage, _ arbor.ILogger) (interfaces.Coordinator, error) {
		return &fakeCoordinator{session: session}, nil
	}
	c, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Session().SlotIndex)
}

func TestReleaseStopsCoordinatorBeforeFreeingSlot(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	ctx := context.Background()

	c, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
	require.NoError(t, err)
	id := c.Session().ID

	require.NoError(t, fleet.Release(id))

	assert.True(t, c.(*fakeCoordinator).stopped)
	assert.Equal(t, 0, fleet.ActiveCount())

	row, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.VNCClosed, row.Status)

	assert.Error(t, fleet.Release(id), "double release reports not-live")
}

func TestCloseUserSessionsSkipsForeignSessions(t *testing.T) {
	store := newMemSessionStore()
	fleet := newTestFleet(store)
	ctx := context.Background()

	mine, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/1")
	require.NoError(t, err)
	theirs, err := fleet.Acquire(ctx, "u2", "https://jobs.example.com/2")
	require.NoError(t, err)

	ids := []string{mine.Session().ID, theirs.Session().ID, "vnc_unknown"}
	require.NoError(t, fleet.CloseUserSessions(ctx, "u1", ids))

	assert.True(t, mine.(*fakeCoordinator).stopped)
	assert.False(t, theirs.(*fakeCoordinator).stopped, "another user's session is never touched")
	assert.Equal(t, 1, fleet.ActiveCount())
}

func TestRecoverRebuildsRecentActiveRows(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()

	recent := &models.VNCSession{
		ID: "vnc_recent", UserID: "u1", SlotIndex: 1,
		DisplayNum: 91, VNCPort: 5991, WSPort: 6091,
		Status: models.VNCActive, CreatedAt: time.Now().Add(-time.Hour), LastActive: time.Now(),
	}
	stale := &models.VNCSession{
		ID: "vnc_stale", UserID: "u1", SlotIndex: 2,
		DisplayNum: 92, VNCPort: 5992, WSPort: 6092,
		Status: models.VNCActive, CreatedAt: time.Now().Add(-48 * time.Hour), LastActive: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, store.Save(ctx, recent))
	require.NoError(t, store.Save(ctx, stale))

	fleet := newTestFleet(store)
	recovered, err := fleet.Recover(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, fleet.ActiveCount())

	_, live := fleet.Lookup("vnc_recent")
	assert.True(t, live)

	staleRow, _ := store.Get(ctx, "vnc_stale")
	assert.Equal(t, models.VNCFailedRecovery, staleRow.Status)

	// The recovered session keeps its slot: a new acquire takes slot 0.
	c, err := fleet.Acquire(ctx, "u3", "https://jobs.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Session().SlotIndex)
}

func TestRecoverMarksUnrecreatableRows(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &models.VNCSession{
		ID: "vnc_dead", UserID: "u1", SlotIndex: 0,
		Status: models.VNCActive, CreatedAt: time.Now(), LastActive: time.Now(),
	}))

	fleet := newTestFleet(store)
	fleet.factory = func(_ context.Context, _ common.VNCConfig, _ *models.VNCSession, _ interfaces.VNCSessionStorage, _ arbor.ILogger) (interfaces.Coordinator, error) {
		return nil, fmt.Errorf("display busy")
	}

	recovered, err := fleet.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	row, _ := store.Get(ctx, "vnc_dead")
	assert.Equal(t, models.VNCFailedRecovery, row.Status)

	// Slot 0 was returned after the failed recreate.
	fleet.factory = func(_ context.Context, _ common.VNCConfig, session *models.VNCSession, _ interfaces.VNCSessionStorage, _ arbor.ILogger) (interfaces.Coordinator, error) {
		return &fakeCoordinator{session: session}, nil
	}
	c, err := fleet.Acquire(ctx, "u1", "https://jobs.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Session().SlotIndex)
}
