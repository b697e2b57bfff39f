package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/metrics"
)

// Ledger is the quota service. All counter mutations go through the store's
// atomic Update, so check-and-reserve and commit behave as single state
// transitions even under concurrent invocations for the same user.
type Ledger struct {
	store    Store
	limiter  *RateLimiter
	defaults Limits

	now func() time.Time
}

// NewLedger creates a quota ledger. limiter may be nil when Redis is not
// configured; the durable rate_limited flag still applies.
func NewLedger(store Store, limiter *RateLimiter, defaults Limits) *Ledger {
	return &Ledger{
		store:    store,
		limiter:  limiter,
		defaults: defaults,
		now:      time.Now,
	}
}

// CheckAndReserve runs the ordered pre-checks and, if all pass, charges one
// request plus the estimated tokens and cost in the same atomic update. The
// returned Decision carries the reservation to settle at Commit time.
func (l *Ledger) CheckAndReserve(ctx context.Context, userID uuid.UUID, estTokens int64, estCost float64) (*Decision, error) {
	if l.limiter != nil {
		allowed, err := l.limiter.Allow(ctx, userID)
		if err != nil {
			// Redis smoothing is best-effort; the ledger limits still hold.
			slog.Warn("request smoothing unavailable, failing open", "error", err, "user_id", userID)
		} else if !allowed {
			metrics.AIQuotaDenialsTotal.WithLabelValues(string(DenyRateLimited)).Inc()
			return &Decision{Allowed: false, Reason: DenyRateLimited, RetryAfter: l.limiter.Window()}, nil
		}
	}

	var decision *Decision
	_, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		now := l.now()
		s.Rollover(now)
		if reason, retryAfter := s.Evaluate(estTokens, estCost, now); reason != "" {
			decision = &Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
			return nil
		}
		s.Reserve(estTokens, estCost)
		decision = &Decision{
			Allowed:     true,
			Reservation: &Reservation{UserID: userID, Tokens: estTokens, Cost: estCost},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checking quota: %w", err)
	}

	if !decision.Allowed {
		metrics.AIQuotaDenialsTotal.WithLabelValues(string(decision.Reason)).Inc()
	}
	return decision, nil
}

// Commit settles a reservation against actual usage. The request slot is
// kept regardless of outcome; token and cost counters are adjusted by the
// difference between actuals and the reserved estimate.
func (l *Ledger) Commit(ctx context.Context, res Reservation, actualTokens int64, actualCost float64) error {
	_, err := l.store.Update(ctx, res.UserID, l.defaults, func(s *State) error {
		s.Rollover(l.now())
		s.Settle(res, actualTokens, actualCost)
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing quota usage: %w", err)
	}
	return nil
}

// ApplyRateLimit sets the durable rate-limit flag until now+cooldown.
func (l *Ledger) ApplyRateLimit(ctx context.Context, userID uuid.UUID, cooldown time.Duration) error {
	until := l.now().Add(cooldown)
	_, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		s.RateLimitedUntil = &until
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying rate limit: %w", err)
	}
	slog.Info("rate limit applied", "user_id", userID, "until", until)
	return nil
}

// ClearRateLimit removes the durable rate-limit flag.
func (l *Ledger) ClearRateLimit(ctx context.Context, userID uuid.UUID) error {
	_, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		s.RateLimitedUntil = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing rate limit: %w", err)
	}
	return nil
}

// SetActive enables or disables AI features for the user. reason is recorded
// only when disabling.
func (l *Ledger) SetActive(ctx context.Context, userID uuid.UUID, active bool, reason string) error {
	_, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		s.Active = active
		if active {
			s.DisabledReason = ""
		} else {
			s.DisabledReason = reason
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating active flag: %w", err)
	}
	return nil
}

// SetLimits replaces the user's quota ceilings.
func (l *Ledger) SetLimits(ctx context.Context, userID uuid.UUID, limits Limits) error {
	_, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		s.Limits = limits
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating quota limits: %w", err)
	}
	return nil
}

// Metrics returns a fresh usage snapshot, rolling over stale windows first so
// a read just after midnight shows zeroed daily counters.
func (l *Ledger) Metrics(ctx context.Context, userID uuid.UUID) (*UsageMetrics, error) {
	state, err := l.store.Update(ctx, userID, l.defaults, func(s *State) error {
		s.Rollover(l.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching usage metrics: %w", err)
	}
	return state.Metrics(), nil
}
