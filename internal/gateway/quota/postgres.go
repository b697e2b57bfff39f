package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists quota state in the user_ai_quotas table. Update runs
// inside a transaction holding a row lock (SELECT ... FOR UPDATE), so
// concurrent check-and-reserve calls for the same user serialize at the
// database.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const quotaColumns = `user_id, requests_today, tokens_today, cost_today,
	requests_month, tokens_month, cost_month,
	day_reset_at, month_reset_at,
	daily_request_limit, daily_token_limit, daily_cost_limit,
	monthly_request_limit, monthly_token_limit, monthly_cost_limit,
	rate_limited_until, active, disabled_reason, updated_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (p *PostgresStore) ensure(ctx context.Context, q execer, userID uuid.UUID, defaults Limits) error {
	fresh := NewState(userID, defaults, p.now())
	_, err := q.Exec(ctx,
		`INSERT INTO user_ai_quotas (user_id, day_reset_at, month_reset_at,
		     daily_request_limit, daily_token_limit, daily_cost_limit,
		     monthly_request_limit, monthly_token_limit, monthly_cost_limit,
		     active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, fresh.DayResetAt, fresh.MonthResetAt,
		defaults.DailyRequests, defaults.DailyTokens, defaults.DailyCost,
		defaults.MonthlyRequests, defaults.MonthlyTokens, defaults.MonthlyCost,
		fresh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ensuring quota row: %w", err)
	}
	return nil
}

func scanState(row pgx.Row) (*State, error) {
	var s State
	err := row.Scan(&s.UserID, &s.RequestsToday, &s.TokensToday, &s.CostToday,
		&s.RequestsMonth, &s.TokensMonth, &s.CostMonth,
		&s.DayResetAt, &s.MonthResetAt,
		&s.Limits.DailyRequests, &s.Limits.DailyTokens, &s.Limits.DailyCost,
		&s.Limits.MonthlyRequests, &s.Limits.MonthlyTokens, &s.Limits.MonthlyCost,
		&s.RateLimitedUntil, &s.Active, &s.DisabledReason, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning quota state: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) Update(ctx context.Context, userID uuid.UUID, defaults Limits, fn func(*State) error) (*State, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning quota update: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := p.ensure(ctx, tx, userID, defaults); err != nil {
		return nil, err
	}

	state, err := scanState(tx.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM user_ai_quotas WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, err
	}

	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = p.now()

	_, err = tx.Exec(ctx,
		`UPDATE user_ai_quotas
		 SET requests_today = $2, tokens_today = $3, cost_today = $4,
		     requests_month = $5, tokens_month = $6, cost_month = $7,
		     day_reset_at = $8, month_reset_at = $9,
		     daily_request_limit = $10, daily_token_limit = $11, daily_cost_limit = $12,
		     monthly_request_limit = $13, monthly_token_limit = $14, monthly_cost_limit = $15,
		     rate_limited_until = $16, active = $17, disabled_reason = $18, updated_at = $19
		 WHERE user_id = $1`,
		state.UserID, state.RequestsToday, state.TokensToday, state.CostToday,
		state.RequestsMonth, state.TokensMonth, state.CostMonth,
		state.DayResetAt, state.MonthResetAt,
		state.Limits.DailyRequests, state.Limits.DailyTokens, state.Limits.DailyCost,
		state.Limits.MonthlyRequests, state.Limits.MonthlyTokens, state.Limits.MonthlyCost,
		state.RateLimitedUntil, state.Active, state.DisabledReason, state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("persisting quota state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing quota update: %w", err)
	}
	return state, nil
}

func (p *PostgresStore) Get(ctx context.Context, userID uuid.UUID, defaults Limits) (*State, error) {
	if err := p.ensure(ctx, p.pool, userID, defaults); err != nil {
		return nil, err
	}
	return scanState(p.pool.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM user_ai_quotas WHERE user_id = $1`, userID))
}
