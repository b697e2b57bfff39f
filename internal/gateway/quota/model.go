package quota

import (
	"time"

	"github.com/google/uuid"
)

// Limits are the per-user quota ceilings. Zero-valued limits never occur in
// practice: states are created from system defaults and admin updates replace
// the whole struct.
type Limits struct {
	DailyRequests   int64   `json:"daily_requests"`
	DailyTokens     int64   `json:"daily_tokens"`
	DailyCost       float64 `json:"daily_cost"`
	MonthlyRequests int64   `json:"monthly_requests"`
	MonthlyTokens   int64   `json:"monthly_tokens"`
	MonthlyCost     float64 `json:"monthly_cost"`
}

// State tracks one user's rolling usage counters. It is only ever mutated
// inside a Store.Update critical section.
type State struct {
	UserID uuid.UUID `json:"user_id"`

	RequestsToday int64   `json:"requests_today"`
	TokensToday   int64   `json:"tokens_today"`
	CostToday     float64 `json:"cost_today"`

	RequestsMonth int64   `json:"requests_month"`
	TokensMonth   int64   `json:"tokens_month"`
	CostMonth     float64 `json:"cost_month"`

	DayResetAt   time.Time `json:"day_reset_at"`
	MonthResetAt time.Time `json:"month_reset_at"`

	Limits Limits `json:"limits"`

	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`

	Active         bool   `json:"active"`
	DisabledReason string `json:"disabled_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates a fresh state for a user first seen at now.
func NewState(userID uuid.UUID, limits Limits, now time.Time) *State {
	return &State{
		UserID:       userID,
		DayResetAt:   NextDayReset(now),
		MonthResetAt: NextMonthReset(now),
		Limits:       limits,
		Active:       true,
		UpdatedAt:    now,
	}
}

// NextDayReset returns the first midnight UTC strictly after t.
func NextDayReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}

// NextMonthReset returns the first instant of the month strictly after t.
func NextMonthReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Rollover zeroes any counters whose reset boundary has passed and advances
// the boundary to the next one after now. Each boundary crossing resets
// exactly once: boundaries advance past now, never by a fixed interval.
func (s *State) Rollover(now time.Time) {
	if !now.Before(s.DayResetAt) {
		s.RequestsToday = 0
		s.TokensToday = 0
		s.CostToday = 0
		s.DayResetAt = NextDayReset(now)
	}
	if !now.Before(s.MonthResetAt) {
		s.RequestsMonth = 0
		s.TokensMonth = 0
		s.CostMonth = 0
		s.MonthResetAt = NextMonthReset(now)
	}
}

// DenyReason identifies the first failing pre-check.
type DenyReason string

const (
	DenyDisabled        DenyReason = "disabled"
	DenyRateLimited     DenyReason = "rate_limited"
	DenyDailyRequests   DenyReason = "daily_request_limit"
	DenyDailyTokens     DenyReason = "daily_token_limit"
	DenyDailyCost       DenyReason = "daily_cost_limit"
	DenyMonthlyRequests DenyReason = "monthly_request_limit"
	DenyMonthlyTokens   DenyReason = "monthly_token_limit"
	DenyMonthlyCost     DenyReason = "monthly_cost_limit"
)

// Evaluate runs the ordered pre-checks against the post-estimate totals and
// returns the first failing reason, or "" if the request may proceed.
// Rollover must have run first.
func (s *State) Evaluate(estTokens int64, estCost float64, now time.Time) (DenyReason, time.Duration) {
	if !s.Active {
		return DenyDisabled, 0
	}
	if s.RateLimitedUntil != nil {
		if now.Before(*s.RateLimitedUntil) {
			return DenyRateLimited, s.RateLimitedUntil.Sub(now)
		}
		// Window elapsed; clear the flag as part of this update.
		s.RateLimitedUntil = nil
	}
	if s.RequestsToday+1 > s.Limits.DailyRequests {
		return DenyDailyRequests, s.DayResetAt.Sub(now)
	}
	if s.TokensToday+estTokens > s.Limits.DailyTokens {
		return DenyDailyTokens, s.DayResetAt.Sub(now)
	}
	if s.CostToday+estCost > s.Limits.DailyCost {
		return DenyDailyCost, s.DayResetAt.Sub(now)
	}
	if s.RequestsMonth+1 > s.Limits.MonthlyRequests {
		return DenyMonthlyRequests, s.MonthResetAt.Sub(now)
	}
	if s.TokensMonth+estTokens > s.Limits.MonthlyTokens {
		return DenyMonthlyTokens, s.MonthResetAt.Sub(now)
	}
	if s.CostMonth+estCost > s.Limits.MonthlyCost {
		return DenyMonthlyCost, s.MonthResetAt.Sub(now)
	}
	return "", 0
}

// Reserve charges one request plus the estimated tokens and cost to both
// windows. It runs in the same atomic update as Evaluate, which is what makes
// the limits hard ceilings rather than advisory averages under concurrency.
func (s *State) Reserve(estTokens int64, estCost float64) {
	s.RequestsToday++
	s.TokensToday += estTokens
	s.CostToday += estCost
	s.RequestsMonth++
	s.TokensMonth += estTokens
	s.CostMonth += estCost
}

// Settle replaces the reserved estimate with the actual post-call usage.
// The request slot itself is kept: a failed call still spent an attempt.
// If a window rolled over between reserve and settle, the adjustment is
// clamped so counters never go negative.
func (s *State) Settle(res Reservation, actualTokens int64, actualCost float64) {
	dTokens := actualTokens - res.Tokens
	dCost := actualCost - res.Cost
	s.TokensToday = max0(s.TokensToday + dTokens)
	s.TokensMonth = max0(s.TokensMonth + dTokens)
	s.CostToday = maxf0(s.CostToday + dCost)
	s.CostMonth = maxf0(s.CostMonth + dCost)
}

// Reservation records what CheckAndReserve charged, so Commit can settle the
// difference against actual usage.
type Reservation struct {
	UserID uuid.UUID
	Tokens int64
	Cost   float64
}

// Decision is the outcome of a pre-check.
type Decision struct {
	Allowed     bool
	Reason      DenyReason
	RetryAfter  time.Duration
	Reservation *Reservation
}

// UsageMetrics is the caller-facing usage snapshot.
type UsageMetrics struct {
	RequestsToday     int64   `json:"requests_today"`
	TokensToday       int64   `json:"tokens_today"`
	CostToday         float64 `json:"cost_today"`
	RequestsThisMonth int64   `json:"requests_this_month"`
	TokensThisMonth   int64   `json:"tokens_this_month"`
	CostThisMonth     float64 `json:"cost_this_month"`

	Limits Limits `json:"limits"`

	DailyLimitRemaining   int64 `json:"daily_limit_remaining"`
	MonthlyLimitRemaining int64 `json:"monthly_limit_remaining"`
}

func (s *State) Metrics() *UsageMetrics {
	return &UsageMetrics{
		RequestsToday:         s.RequestsToday,
		TokensToday:           s.TokensToday,
		CostToday:             s.CostToday,
		RequestsThisMonth:     s.RequestsMonth,
		TokensThisMonth:       s.TokensMonth,
		CostThisMonth:         s.CostMonth,
		Limits:                s.Limits,
		DailyLimitRemaining:   max0(s.Limits.DailyRequests - s.RequestsToday),
		MonthlyLimitRemaining: max0(s.Limits.MonthlyRequests - s.RequestsMonth),
	}
}

func max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func maxf0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
