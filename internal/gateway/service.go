package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/config"
	"github.com/omnichat-platform/omnichat/internal/gateway/audit"
	"github.com/omnichat-platform/omnichat/internal/gateway/quota"
	"github.com/omnichat-platform/omnichat/internal/metrics"
	"github.com/omnichat-platform/omnichat/internal/model"
	"github.com/omnichat-platform/omnichat/internal/search"
)

// rateLimitTripThreshold is how many consecutive upstream 429 failures a user
// accumulates before the durable rate-limit flag is set.
const rateLimitTripThreshold = 3

// Completer is the remote model surface the facade needs. Satisfied by
// *model.Client.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*model.Completion, error)
	Model() string
	EmbeddingModel() string
	HealthCheck(ctx context.Context) error
}

// Searcher runs semantic search queries. Satisfied by *search.Service.
type Searcher interface {
	Query(ctx context.Context, userID uuid.UUID, query string, conversationIDs []uuid.UUID, limit int) ([]search.Match, int64, error)
}

// InvokeOptions carries optional correlation IDs recorded on the audit entry
// and an optional caller-supplied output-token estimate. When TokenEstimate
// is positive it replaces the adaptive estimate for the reservation; callers
// that know their output shape can reserve tighter or wider than the default.
type InvokeOptions struct {
	MessageID      *uuid.UUID
	ConversationID *uuid.UUID
	TokenEstimate  int64
}

// Service is the single entry point for AI feature invocations. Every call
// flows quota check, remote invocation, audit, quota commit, in that order;
// exactly one audit entry is recorded per invocation regardless of outcome.
type Service struct {
	ledger   *quota.Ledger
	auditor  *audit.Service
	client   Completer
	searcher Searcher
	prices   *model.PriceTable
	validate *validator.Validate

	estimator *outputEstimator
	cooldown  time.Duration

	mu             sync.Mutex
	consecutive429 map[uuid.UUID]int

	now func() time.Time
}

// NewService wires the facade. searcher may be nil when pgvector is not
// configured; semantic_search then fails with ErrInvalidInput.
func NewService(ledger *quota.Ledger, auditor *audit.Service, client Completer, searcher Searcher, prices *model.PriceTable, cfg config.GatewayConfig) *Service {
	return &Service{
		ledger:         ledger,
		auditor:        auditor,
		client:         client,
		searcher:       searcher,
		prices:         prices,
		validate:       validator.New(),
		estimator:      newOutputEstimator(cfg.DefaultOutputTokens),
		cooldown:       cfg.RateLimitCooldown,
		consecutive429: make(map[uuid.UUID]int),
		now:            time.Now,
	}
}

// Invoke runs one AI operation for the user. On denial the typed sentinel
// error identifies the reason and no tokens are charged; on remote failure
// the attempt is audited and the request slot is kept.
func (s *Service) Invoke(ctx context.Context, userID uuid.UUID, kind model.Kind, payload any, opts InvokeOptions) (any, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidInput, kind)
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	estInput := model.EstimateTokens(string(requestBody))
	estOutput := s.estimator.estimate(kind)
	if opts.TokenEstimate > 0 {
		estOutput = opts.TokenEstimate
	}
	estTokens := estInput + estOutput
	estCost := s.prices.Cost(s.costModel(kind), estInput, estOutput)

	decision, err := s.ledger.CheckAndReserve(ctx, userID, estTokens, estCost)
	if err != nil {
		return nil, fmt.Errorf("checking quota: %w", err)
	}

	entry := &audit.Entry{
		ID:             uuid.New(),
		UserID:         userID,
		OperationKind:  string(kind),
		Model:          s.costModel(kind),
		RequestSize:    len(requestBody),
		MessageID:      opts.MessageID,
		ConversationID: opts.ConversationID,
		CreatedAt:      s.now().UTC(),
	}

	if !decision.Allowed {
		entry.Status = denialStatus(decision.Reason)
		entry.ErrorCode = string(decision.Reason)
		s.auditor.Record(ctx, entry)
		metrics.AIInvocationsTotal.WithLabelValues(string(kind), entry.Status).Inc()
		return nil, denialError(decision)
	}

	start := s.now()
	result, comp, invokeErr := s.run(ctx, userID, kind, payload)
	entry.ResponseTimeMs = s.now().Sub(start).Milliseconds()

	actualTokens := int64(0)
	actualCost := 0.0
	if comp != nil {
		entry.InputTokens = comp.InputTokens
		entry.OutputTokens = comp.OutputTokens
		entry.TotalTokens = comp.InputTokens + comp.OutputTokens
		entry.ResponseSize = len(comp.Text)
		actualTokens = entry.TotalTokens
		actualCost = s.prices.Cost(s.costModel(kind), comp.InputTokens, comp.OutputTokens)
		entry.EstimatedCost = actualCost
	}

	if invokeErr != nil {
		entry.Status = audit.StatusFailure
		entry.ErrorCode = model.ErrorCode(invokeErr)
		entry.ErrorMessage = invokeErr.Error()
	} else {
		entry.Status = audit.StatusSuccess
		s.estimator.observe(kind, entry.OutputTokens)
	}

	// Audit before commit before return, so a crash between steps can only
	// lose the quota adjustment, never the audit trail.
	s.auditor.Record(ctx, entry)

	if err := s.ledger.Commit(ctx, *decision.Reservation, actualTokens, actualCost); err != nil {
		slog.Error("committing quota usage", "error", err, "user_id", userID, "operation_kind", kind)
	}

	metrics.AIInvocationsTotal.WithLabelValues(string(kind), entry.Status).Inc()
	if actualTokens > 0 {
		metrics.AITokensTotal.WithLabelValues("input").Add(float64(entry.InputTokens))
		metrics.AITokensTotal.WithLabelValues("output").Add(float64(entry.OutputTokens))
		metrics.AICostTotal.Add(actualCost)
	}

	s.trackUpstreamPressure(ctx, userID, invokeErr)

	if invokeErr != nil {
		return nil, invokeErr
	}
	return result, nil
}

// run dispatches to the right execution path and returns the result plus the
// usage-bearing completion. Semantic search synthesizes a Completion so the
// audit and commit paths stay uniform.
func (s *Service) run(ctx context.Context, userID uuid.UUID, kind model.Kind, payload any) (any, *model.Completion, error) {
	if kind == model.KindSemanticSearch {
		input, ok := payload.(model.SemanticSearchInput)
		if !ok {
			return nil, nil, fmt.Errorf("%w: semantic_search expects SemanticSearchInput", ErrInvalidInput)
		}
		if s.searcher == nil {
			return nil, nil, fmt.Errorf("%w: semantic search is not configured", ErrInvalidInput)
		}

		matches, tokens, err := s.searcher.Query(ctx, userID, input.Query, input.ConversationIDs, input.Limit)
		comp := &model.Completion{InputTokens: tokens, ExactUsage: true}
		if err != nil {
			return nil, comp, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		return matches, comp, nil
	}

	now := s.now()
	prompt, err := model.BuildPrompt(kind, payload, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	remoteStart := s.now()
	comp, err := s.client.Complete(ctx, prompt)
	metrics.AIRemoteLatency.WithLabelValues(string(kind)).Observe(s.now().Sub(remoteStart).Seconds())
	if err != nil {
		if model.IsRateLimit(err) {
			return nil, nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	result, err := model.ParseResult(kind, comp.Text, now)
	if err != nil {
		// The remote call succeeded and spent tokens; the parse failure is
		// still a failed invocation and the usage must be charged.
		return nil, comp, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return result, comp, nil
}

// trackUpstreamPressure counts consecutive upstream rate-limit failures and
// trips the durable flag once the user hits the threshold, giving the remote
// service room to recover.
func (s *Service) trackUpstreamPressure(ctx context.Context, userID uuid.UUID, invokeErr error) {
	s.mu.Lock()
	tripped := false
	if invokeErr == nil {
		delete(s.consecutive429, userID)
	} else if model.IsRateLimit(invokeErr) {
		s.consecutive429[userID]++
		if s.consecutive429[userID] >= rateLimitTripThreshold {
			delete(s.consecutive429, userID)
			tripped = true
		}
	}
	s.mu.Unlock()

	if tripped {
		if err := s.ledger.ApplyRateLimit(ctx, userID, s.cooldown); err != nil {
			slog.Error("applying rate limit after repeated upstream pressure", "error", err, "user_id", userID)
		}
	}
}

func (s *Service) costModel(kind model.Kind) string {
	if kind == model.KindSemanticSearch {
		return s.client.EmbeddingModel()
	}
	return s.client.Model()
}

func denialError(d *quota.Decision) error {
	switch d.Reason {
	case quota.DenyDisabled:
		return ErrDisabled
	case quota.DenyRateLimited:
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, d.RetryAfter.Round(time.Second))
	default:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, d.Reason)
	}
}

// denialStatus maps a ledger denial onto the audit status domain. Ceiling
// denials, including a disabled account, read as quota_exceeded; only the
// throttle reads as rate_limited.
func denialStatus(reason quota.DenyReason) string {
	if reason == quota.DenyRateLimited {
		return audit.StatusRateLimited
	}
	return audit.StatusQuotaExceeded
}

// Usage returns the caller's current quota snapshot.
func (s *Service) Usage(ctx context.Context, userID uuid.UUID) (*quota.UsageMetrics, error) {
	return s.ledger.Metrics(ctx, userID)
}

// AuditEntries returns the caller's usage log.
func (s *Service) AuditEntries(ctx context.Context, userID uuid.UUID, params audit.ListParams) ([]audit.Entry, int64, error) {
	return s.auditor.List(ctx, userID, params)
}

// UsageRollup aggregates the caller's usage over a time range.
func (s *Service) UsageRollup(ctx context.Context, userID uuid.UUID, from, to time.Time) (*audit.Rollup, error) {
	return s.auditor.Rollup(ctx, userID, from, to)
}

// IsHealthy probes the remote model service.
func (s *Service) IsHealthy(ctx context.Context) bool {
	if err := s.client.HealthCheck(ctx); err != nil {
		slog.Warn("model health check failed", "error", err)
		return false
	}
	return true
}
