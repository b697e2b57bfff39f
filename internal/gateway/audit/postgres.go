package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore handles ai_usage_log PostgreSQL operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO ai_usage_log (id, user_id, operation_kind, model, status,
		     input_tokens, output_tokens, total_tokens, estimated_cost,
		     request_size, response_size, response_time_ms,
		     error_code, error_message, message_id, conversation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.UserID, entry.OperationKind, entry.Model, entry.Status,
		entry.InputTokens, entry.OutputTokens, entry.TotalTokens, entry.EstimatedCost,
		entry.RequestSize, entry.ResponseSize, entry.ResponseTimeMs,
		entry.ErrorCode, entry.ErrorMessage, entry.MessageID, entry.ConversationID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage entry: %w", err)
	}
	return nil
}

const entryColumns = `id, user_id, operation_kind, model, status,
	input_tokens, output_tokens, total_tokens, estimated_cost,
	request_size, response_size, response_time_ms,
	error_code, error_message, message_id, conversation_id, created_at`

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var e Entry
	err := scan(&e.ID, &e.UserID, &e.OperationKind, &e.Model, &e.Status,
		&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.EstimatedCost,
		&e.RequestSize, &e.ResponseSize, &e.ResponseTimeMs,
		&e.ErrorCode, &e.ErrorMessage, &e.MessageID, &e.ConversationID, &e.CreatedAt)
	return e, err
}

func (p *PostgresStore) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, userID)
	argIdx++

	if params.OperationKind != "" {
		conditions = append(conditions, fmt.Sprintf("operation_kind = $%d", argIdx))
		args = append(args, params.OperationKind)
		argIdx++
	}

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}

	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ai_usage_log WHERE %s", where)
	var totalCount int64
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting usage entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT `+entryColumns+` FROM ai_usage_log WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := p.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying usage entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning usage entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading usage entries: %w", err)
	}

	return entries, totalCount, nil
}

func (p *PostgresStore) ListFailed(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ai_usage_log
		 WHERE status = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT $3`, StatusFailure, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying failed entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning failed entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Rollup(ctx context.Context, userID uuid.UUID, from, to time.Time) (*Rollup, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT operation_kind,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failure'),
		        COUNT(*) FILTER (WHERE status IN ('rate_limited', 'quota_exceeded')),
		        COALESCE(SUM(total_tokens), 0),
		        COALESCE(SUM(estimated_cost), 0)
		 FROM ai_usage_log
		 WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		 GROUP BY operation_kind
		 ORDER BY operation_kind`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying usage rollup: %w", err)
	}
	defer rows.Close()

	rollup := &Rollup{From: from, To: to}
	for rows.Next() {
		var k KindRollup
		if err := rows.Scan(&k.OperationKind, &k.Requests, &k.Successes, &k.Failures,
			&k.Denied, &k.TotalTokens, &k.TotalCost); err != nil {
			return nil, fmt.Errorf("scanning usage rollup: %w", err)
		}
		rollup.ByKind = append(rollup.ByKind, k)
		rollup.Requests += k.Requests
		rollup.TotalTokens += k.TotalTokens
		rollup.TotalCost += k.TotalCost
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading usage rollup: %w", err)
	}
	return rollup, nil
}

func (p *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM ai_usage_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging usage entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
