package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// ErrQuotaExhausted is returned when a request cannot be issued because a
// quota window is closed, the per-job call budget is spent, or no
// reservation slot was granted in time. Callers treat it as a deferral
// signal, not a hard failure.
var ErrQuotaExhausted = errors.New("llm quota exhausted")

// Gateway is the single choke-point in front of the shared LLM API. Every
// call passes the quota windows, acquires a priority reservation slot, and
// is paced against the global minute budget before it reaches the
// provider. Successful calls are always accounted.
type Gateway struct {
	service  interfaces.LLMService
	limiter  interfaces.RateLimiter
	reserver interfaces.QuotaReserver
	logger   arbor.ILogger

	maxRetries  int
	backoff     time.Duration
	budget      int
	reserveWait time.Duration

	mu     sync.Mutex
	issued map[string]int // calls issued per user/job
}

// NewGateway creates the LLM gateway from the shared gateway configuration.
func NewGateway(cfg *common.LLMConfig, service interfaces.LLMService, limiter interfaces.RateLimiter, reserver interfaces.QuotaReserver, logger arbor.ILogger) *Gateway {
	reserveWait := time.Duration(cfg.ReserveWaitMs) * time.Millisecond
	if reserveWait <= 0 {
		reserveWait = 30 * time.Second
	}

	return &Gateway{
		service:     service,
		limiter:     limiter,
		reserver:    reserver,
		logger:      logger,
		maxRetries:  cfg.MaxRetries,
		backoff:     common.ParseDurationOr(cfg.RetryBackoff, 500*time.Millisecond),
		budget:      cfg.PerJobBudget,
		reserveWait: reserveWait,
	}
}

// Generate issues one completion through the gateway. The reservation slot
// is released on every path, including provider failure and context
// cancellation.
func (g *Gateway) Generate(ctx context.Context, req interfaces.GatewayRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if !g.chargeBudget(req.UserID, req.JobID) {
		g.logger.Warn().
			Str("user_id", req.UserID).
			Str("job_id", req.JobID).
			Str("purpose", req.Purpose).
			Int("budget", g.budget).
			Msg("Per-job LLM call budget spent")
		return "", fmt.Errorf("per-job call budget of %d spent: %w", g.budget, ErrQuotaExhausted)
	}

	if err := g.checkWindows(ctx, req.UserID); err != nil {
		g.refundBudget(req.UserID, req.JobID)
		return "", err
	}

	reservation, err := g.reserver.Reserve(ctx, req.UserID, req.Priority)
	if err != nil {
		g.refundBudget(req.UserID, req.JobID)
		return "", fmt.Errorf("reservation failed: %w", err)
	}
	defer g.reserver.Release(reservation)

	select {
	case <-reservation.Granted():
	case <-time.After(g.reserveWait):
		g.refundBudget(req.UserID, req.JobID)
		g.logger.Info().
			Str("user_id", req.UserID).
			Str("purpose", req.Purpose).
			Int("position", reservation.Position()).
			Msg("No reservation slot granted in time - deferring")
		return "", fmt.Errorf("no reservation slot within %s: %w", g.reserveWait, ErrQuotaExhausted)
	case <-ctx.Done():
		g.refundBudget(req.UserID, req.JobID)
		return "", ctx.Err()
	}

	if err := g.limiter.PaceLLM(ctx); err != nil {
		g.refundBudget(req.UserID, req.JobID)
		return "", fmt.Errorf("llm pacing interrupted: %w", err)
	}

	messages := []interfaces.Message{}
	if req.System != "" {
		messages = append(messages, interfaces.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, interfaces.Message{Role: "user", Content: req.Prompt})

	response, err := g.chatWithRetry(ctx, messages, req.Purpose)
	if err != nil {
		g.refundBudget(req.UserID, req.JobID)
		return "", err
	}

	// The call was issued: account it even though the caller may still
	// discard the response.
	g.consume(ctx)

	return response, nil
}

// ForgetJob drops the per-job budget counter once a session finishes.
func (g *Gateway) ForgetJob(userID, jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.issued, budgetKey(userID, jobID))
}

// globalQuotaID keys the minute and day windows. They bound aggregate
// usage of the shared LLM API across all users and sessions; per-user
// fairness is the reservation queue's job, not the windows'.
const globalQuotaID = "global"

func (g *Gateway) checkWindows(ctx context.Context, userID string) error {
	for _, limitType := range []string{common.LimitLLMPerMinute, common.LimitLLMPerDay} {
		dec, err := g.limiter.Check(ctx, limitType, globalQuotaID)
		if err != nil {
			return fmt.Errorf("limit check failed: %w", err)
		}
		if !dec.Allowed {
			g.logger.Info().
				Str("user_id", userID).
				Str("limit", limitType).
				Str("reset_at", dec.ResetAt.Format(time.RFC3339)).
				Msg("LLM quota window closed")
			return fmt.Errorf("%s window closed until %s: %w", limitType, dec.ResetAt.Format(time.RFC3339), ErrQuotaExhausted)
		}
	}
	return nil
}

func (g *Gateway) chatWithRetry(ctx context.Context, messages []interfaces.Message, purpose string) (string, error) {
	backoff := g.backoff
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		response, err := g.service.Chat(ctx, messages)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == g.maxRetries {
			break
		}

		g.logger.Warn().Err(err).
			Str("purpose", purpose).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("LLM call failed - retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", fmt.Errorf("llm call failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

// chargeBudget reserves one call against the per-job budget up front so
// concurrent requests for the same job cannot overshoot it.
func (g *Gateway) chargeBudget(userID, jobID string) bool {
	if g.budget <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.issued == nil {
		g.issued = make(map[string]int)
	}
	key := budgetKey(userID, jobID)
	if g.issued[key] >= g.budget {
		return false
	}
	g.issued[key]++
	return true
}

// refundBudget returns the up-front charge when the call never reached the
// provider.
func (g *Gateway) refundBudget(userID, jobID string) {
	if g.budget <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := budgetKey(userID, jobID)
	if g.issued[key] > 0 {
		g.issued[key]--
	}
}

func (g *Gateway) consume(ctx context.Context) {
	_ = g.limiter.Consume(ctx, common.LimitLLMPerMinute, globalQuotaID, 1)
	_ = g.limiter.Consume(ctx, common.LimitLLMPerDay, globalQuotaID, 1)
}

func budgetKey(userID, jobID string) string {
	return userID + "/" + jobID
}

var _ interfaces.LLMGateway = (*Gateway)(nil)
