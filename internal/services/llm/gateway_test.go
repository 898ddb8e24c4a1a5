package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

type fakeLLM struct {
	mu        sync.Mutex
	failFirst int // number of leading calls that error
	calls     int
	response  string
}

func (f *fakeLLM) Chat(_ context.Context, _ []interfaces.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return "", errors.New("provider unavailable")
	}
	return f.response, nil
}

func (f *fakeLLM) HealthCheck(context.Context) error { return nil }
func (f *fakeLLM) GetMode() interfaces.LLMMode       { return interfaces.LLMModeCloud }
func (f *fakeLLM) Close() error                      { return nil }

type fakeLimiter struct {
	mu       sync.Mutex
	blocked  map[string]bool
	consumed map[string]int
	paced    int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{blocked: make(map[string]bool), consumed: make(map[string]int)}
}

func (f *fakeLimiter) Check(_ context.Context, limitType, _ string) (interfaces.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return interfaces.Decision{Allowed: !f.blocked[limitType]}, nil
}

func (f *fakeLimiter) Consume(_ context.Context, limitType, _ string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed[limitType] += n
	return nil
}

func (f *fakeLimiter) IsAdmin(string) bool { return false }

func (f *fakeLimiter) PaceLLM(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paced++
	return nil
}

type fakeReservation struct {
	ch chan struct{}
}

func (r *fakeReservation) Granted() <-chan struct{} { return r.ch }
func (r *fakeReservation) Position() int            { return 1 }

type fakeReserver struct {
	mu       sync.Mutex
	grant    bool
	reserves int
	releases int
}

func (f *fakeReserver) Reserve(context.Context, string, int) (interfaces.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	r := &fakeReservation{ch: make(chan struct{})}
	if f.grant {
		close(r.ch)
	}
	return r, nil
}

func (f *fakeReserver) Release(interfaces.Reservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func testGateway(service interfaces.LLMService, limiter interfaces.RateLimiter, reserver interfaces.QuotaReserver, budget int) *Gateway {
	cfg := &common.LLMConfig{
		MaxRetries:    2,
		RetryBackoff:  "1ms",
		PerJobBudget:  budget,
		ReserveWaitMs: 50,
	}
	return NewGateway(cfg, service, limiter, reserver, common.GetLogger())
}

func request() interfaces.GatewayRequest {
	return interfaces.GatewayRequest{
		UserID:  "user-1",
		JobID:   "job_abc",
		Purpose: "field_mapping",
		Prompt:  "map these fields",
	}
}

func TestGenerateAccountsSuccessfulCall(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	limiter := newFakeLimiter()
	reserver := &fakeReserver{grant: true}
	g := testGateway(llm, limiter, reserver, 0)

	resp, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	assert.Equal(t, 1, limiter.consumed[common.LimitLLMPerMinute])
	assert.Equal(t, 1, limiter.consumed[common.LimitLLMPerDay])
	assert.Equal(t, 1, limiter.paced)
	assert.Equal(t, 1, reserver.releases, "reservation must be released")
}

func TestGenerateReleasesReservationOnProviderFailure(t *testing.T) {
	llm := &fakeLLM{failFirst: 100}
	limiter := newFakeLimiter()
	reserver := &fakeReserver{grant: true}
	g := testGateway(llm, limiter, reserver, 0)

	_, err := g.Generate(context.Background(), request())
	require.Error(t, err)

	assert.Equal(t, 1, reserver.releases, "reservation must be released on failure")
	assert.Zero(t, limiter.consumed[common.LimitLLMPerMinute], "failed calls are not accounted")
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	llm := &fakeLLM{failFirst: 2, response: "recovered"}
	g := testGateway(llm, newFakeLimiter(), &fakeReserver{grant: true}, 0)

	resp, err := g.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp)
	assert.Equal(t, 3, llm.calls)
}

// cappedLimiter enforces a max count per (limit, identifier) pair, the
// way the sliding-window service does.
type cappedLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func newCappedLimiter(max int) *cappedLimiter {
	return &cappedLimiter{max: max, counts: make(map[string]int)}
}

func (f *cappedLimiter) Check(_ context.Context, limitType, identifier string) (interfaces.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return interfaces.Decision{Allowed: f.counts[limitType+":"+identifier] < f.max}, nil
}

func (f *cappedLimiter) Consume(_ context.Context, limitType, identifier string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[limitType+":"+identifier] += n
	return nil
}

func (f *cappedLimiter) IsAdmin(string) bool { return false }

func (f *cappedLimiter) PaceLLM(context.Context) error { return nil }

func TestGenerateWindowsAreSharedAcrossUsers(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := testGateway(llm, newCappedLimiter(1), &fakeReserver{grant: true}, 0)

	_, err := g.Generate(context.Background(), request())
	require.NoError(t, err)

	// A different user's call lands in the same windows: the caps bound
	// the shared API, not each user separately.
	other := interfaces.GatewayRequest{
		UserID:  "user-2",
		JobID:   "job_xyz",
		Purpose: "field_mapping",
		Prompt:  "map these fields",
	}
	_, err = g.Generate(context.Background(), other)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 1, llm.calls, "the second call must not reach the provider")
}

func TestGenerateClosedWindowReturnsQuotaExhausted(t *testing.T) {
	limiter := newFakeLimiter()
	limiter.blocked[common.LimitLLMPerDay] = true
	reserver := &fakeReserver{grant: true}
	g := testGateway(&fakeLLM{response: "ok"}, limiter, reserver, 0)

	_, err := g.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Zero(t, reserver.reserves, "no reservation is taken for a closed window")
}

func TestGeneratePerJobBudget(t *testing.T) {
	llm := &fakeLLM{response: "ok"}
	g := testGateway(llm, newFakeLimiter(), &fakeReserver{grant: true}, 2)

	ctx := context.Background()
	_, err := g.Generate(ctx, request())
	require.NoError(t, err)
	_, err = g.Generate(ctx, request())
	require.NoError(t, err)

	_, err = g.Generate(ctx, request())
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	// Another job for the same user has its own budget.
	other := request()
	other.JobID = "job_other"
	_, err = g.Generate(ctx, other)
	assert.NoError(t, err)

	// Forgetting the job resets its counter.
	g.ForgetJob("user-1", "job_abc")
	_, err = g.Generate(ctx, request())
	assert.NoError(t, err)
}

func TestGenerateFailedCallRefundsBudget(t *testing.T) {
	llm := &fakeLLM{failFirst: 3, response: "ok"} // exhausts all retries once
	g := testGateway(llm, newFakeLimiter(), &fakeReserver{grant: true}, 1)

	ctx := context.Background()
	_, err := g.Generate(ctx, request())
	require.Error(t, err)

	// The failed attempt did not spend the budget of one.
	resp, err := g.Generate(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestGenerateReservationTimeoutDefers(t *testing.T) {
	reserver := &fakeReserver{grant: false}
	g := testGateway(&fakeLLM{response: "ok"}, newFakeLimiter(), reserver, 0)

	_, err := g.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 1, reserver.releases, "an ungranted reservation is still released")
}
