package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// Service enforces sliding-window limits backed by the KV counter store.
//
// The window is approximated with two fixed slots (current + previous,
// weighted by elapsed fraction), which keeps counter writes to a single
// atomic increment per consume.
//
// Failure policy: a counter-store failure fails OPEN for admission (Check
// returns allowed) but never silently for accounting (Consume retries,
// then logs the units as unbilled). A degraded counter must not take the
// service down.
type Service struct {
	kv     interfaces.KVStorage
	limits map[string]common.LimitConfig
	admins map[string]bool
	logger arbor.ILogger
	pacer  *rate.Limiter // token-bucket pacing for the global LLM minute budget
	now    func() time.Time
}

// accountingRetries bounds the short backoff used when a quota-accounting
// write fails.
const accountingRetries = 2

// NewService creates the rate-limit manager from the declarative limit
// table in configuration.
func NewService(cfg *common.RateLimitConfig, llmCfg *common.LLMConfig, kv interfaces.KVStorage, logger arbor.ILogger) *Service {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = true
	}

	pace := llmCfg.MinutePace
	if pace <= 0 {
		pace = 30
	}

	return &Service{
		kv:     kv,
		limits: cfg.Limits,
		admins: admins,
		logger: logger,
		pacer:  rate.NewLimiter(rate.Limit(float64(pace)/60.0), pace),
		now:    time.Now,
	}
}

// IsAdmin reports whether the identifier is on the bypass allow-list.
func (s *Service) IsAdmin(identifier string) bool {
	return s.admins[strings.ToLower(identifier)]
}

// Check evaluates the sliding window for (limitType, identifier) without
// consuming. Unknown limit types are unlimited.
func (s *Service) Check(ctx context.Context, limitType, identifier string) (interfaces.Decision, error) {
	lim, ok := s.limits[limitType]
	if !ok {
		return interfaces.Decision{Allowed: true, Remaining: -1}, nil
	}
	if s.IsAdmin(identifier) {
		return interfaces.Decision{Allowed: true, Remaining: lim.Max, Limit: lim.Max}, nil
	}

	window := common.ParseDurationOr(lim.Window, time.Minute)
	count, resetAt, err := s.windowCount(ctx, limitType, identifier, window)
	if err != nil {
		// Fail open for admission.
		s.logger.Warn().Err(err).
			Str("limit", limitType).
			Str("identifier", identifier).
			Msg("Counter store unavailable - admitting request (fail-open)")
		return interfaces.Decision{Allowed: true, Remaining: -1, Limit: lim.Max}, nil
	}

	remaining := lim.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return interfaces.Decision{
		Allowed:   count < lim.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     lim.Max,
	}, nil
}

// Consume records n units against the window. For quota accounting of
// already-issued LLM calls the write is retried with a short bounded
// backoff; if it still fails the units are logged as unbilled for operator
// attention rather than failing the caller.
func (s *Service) Consume(ctx context.Context, limitType, identifier string, n int) error {
	lim, ok := s.limits[limitType]
	if !ok || s.IsAdmin(identifier) {
		return nil
	}

	window := common.ParseDurationOr(lim.Window, time.Minute)
	key := s.slotKey(limitType, identifier, s.currentSlot(window))

	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt <= accountingRetries; attempt++ {
		if _, err = s.kv.Increment(ctx, key, int64(n)); err == nil {
			return nil
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			err = ctx.Err()
			attempt = accountingRetries
		}
		backoff *= 2
	}

	s.logger.Warn().Err(err).
		Str("limit", limitType).
		Str("identifier", identifier).
		Int("units", n).
		Bool("unbilled", true).
		Msg("Quota accounting write failed after retries - units unbilled")
	return nil
}

// PaceLLM blocks until the global minute pacer admits one LLM call.
func (s *Service) PaceLLM(ctx context.Context) error {
	return s.pacer.Wait(ctx)
}

// windowCount returns the weighted two-slot count and the time the current
// slot rolls over.
func (s *Service) windowCount(ctx context.Context, limitType, identifier string, window time.Duration) (int, time.Time, error) {
	now := s.now()
	slot := now.Truncate(window)
	prev := slot.Add(-window)

	cur, err := s.readSlot(ctx, limitType, identifier, slot)
	if err != nil {
		return 0, time.Time{}, err
	}
	prior, err := s.readSlot(ctx, limitType, identifier, prev)
	if err != nil {
		return 0, time.Time{}, err
	}

	// Weight the previous slot by the unelapsed fraction of the window.
	elapsed := float64(now.Sub(slot)) / float64(window)
	weighted := cur + int(float64(prior)*(1.0-elapsed))
	return weighted, slot.Add(window), nil
}

func (s *Service) readSlot(ctx context.Context, limitType, identifier string, slot time.Time) (int, error) {
	v, err := s.kv.Get(ctx, s.slotKey(limitType, identifier, slot))
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter value %q: %w", v, err)
	}
	return n, nil
}

func (s *Service) currentSlot(window time.Duration) time.Time {
	return s.now().Truncate(window)
}

func (s *Service) slotKey(limitType, identifier string, slot time.Time) string {
	return fmt.Sprintf("rl:%s:%s:%d", limitType, identifier, slot.Unix())
}
