package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/api"
	"github.com/omnichat-platform/omnichat/internal/auth"
	"github.com/omnichat-platform/omnichat/internal/gateway/audit"
	"github.com/omnichat-platform/omnichat/internal/gateway/quota"
	"github.com/omnichat-platform/omnichat/internal/model"
)

// Handler provides HTTP handlers for the AI gateway endpoints.
type Handler struct {
	svc     *Service
	ledger  *quota.Ledger
	auditor *audit.Service
}

// NewHandler creates a new gateway Handler.
func NewHandler(svc *Service, ledger *quota.Ledger, auditor *audit.Service) *Handler {
	return &Handler{svc: svc, ledger: ledger, auditor: auditor}
}

// Invoke handles POST /ai/{kind}.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kind := model.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		api.HandleError(w, api.NewBadRequestError("unknown operation kind"))
		return
	}

	payload, opts, err := decodeInvokeRequest(kind, r)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	result, err := h.svc.Invoke(r.Context(), userID, kind, payload, opts)
	if err != nil {
		handleInvokeError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, result)
}

// invokeEnvelope wraps every invoke body: the kind-specific input plus
// optional correlation IDs and an optional output-token estimate for the
// quota reservation.
type invokeEnvelope struct {
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	TokenEstimate  int64      `json:"token_estimate,omitempty"`
}

func decodeInvokeRequest(kind model.Kind, r *http.Request) (any, InvokeOptions, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, InvokeOptions{}, errors.New("invalid request body")
	}

	var env invokeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, InvokeOptions{}, errors.New("invalid request body")
	}
	opts := InvokeOptions{
		MessageID:      env.MessageID,
		ConversationID: env.ConversationID,
		TokenEstimate:  env.TokenEstimate,
	}

	var payload any
	var err error
	switch kind {
	case model.KindSentiment:
		var in model.SentimentInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindCategorization:
		var in model.CategorizationInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindSuggestion:
		var in model.SuggestionInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindSummarization:
		var in model.SummarizationInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindScheduling:
		var in model.SchedulingInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindInsights:
		var in model.InsightsInput
		err = json.Unmarshal(raw, &in)
		payload = in
	case model.KindSemanticSearch:
		var in model.SemanticSearchInput
		err = json.Unmarshal(raw, &in)
		payload = in
	default:
		return nil, InvokeOptions{}, errors.New("unknown operation kind")
	}
	if err != nil {
		return nil, InvokeOptions{}, errors.New("invalid request body")
	}
	return payload, opts, nil
}

func handleInvokeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		api.HandleError(w, api.NewBadRequestError(err.Error()))
	case errors.Is(err, ErrDisabled):
		api.HandleError(w, api.ErrFeatureDisabled)
	case errors.Is(err, ErrRateLimited):
		api.HandleError(w, api.ErrTooManyRequests)
	case errors.Is(err, ErrQuotaExceeded):
		api.HandleError(w, api.ErrQuotaExceeded)
	case errors.Is(err, ErrInvalidResponse):
		api.JSONErrorMessage(w, http.StatusBadGateway, "model returned an invalid response")
	case errors.Is(err, ErrRemoteUnavailable):
		api.HandleError(w, api.ErrUpstreamUnavailable)
	default:
		api.HandleError(w, api.ErrInternalServer)
	}
}

// GetUsage handles GET /ai/usage.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	usage, err := h.svc.Usage(r.Context(), userID)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, usage)
}

// GetUsageRollup handles GET /ai/usage/rollup.
func (h *Handler) GetUsageRollup(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid from timestamp"))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid to timestamp"))
			return
		}
		to = t
	}

	rollup, err := h.svc.UsageRollup(r.Context(), userID, from, to)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, rollup)
}

// ListAuditEntries handles GET /ai/audit.
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := parseListParams(r)
	entries, total, err := h.svc.AuditEntries(r.Context(), userID, params)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) audit.ListParams {
	params := audit.DefaultListParams()
	q := r.URL.Query()

	params.OperationKind = q.Get("kind")
	params.Status = q.Get("status")

	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.To = &t
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			params.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			params.PageSize = n
		}
	}

	return params
}

// ListFailures handles GET /admin/ai/failures.
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid since timestamp"))
			return
		}
		since = t
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	entries, err := h.auditor.ListFailed(r.Context(), since, limit)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, entries)
}

type rateLimitRequest struct {
	CooldownSeconds int `json:"cooldown_seconds" validate:"omitempty,min=1"`
}

// ApplyRateLimit handles POST /admin/ai/users/{userID}/rate-limit.
func (h *Handler) ApplyRateLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	var req rateLimitRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	cooldown := 15 * time.Minute
	if req.CooldownSeconds > 0 {
		cooldown = time.Duration(req.CooldownSeconds) * time.Second
	}

	if err := h.ledger.ApplyRateLimit(r.Context(), userID, cooldown); err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "rate limit applied")
}

// ClearRateLimit handles DELETE /admin/ai/users/{userID}/rate-limit.
func (h *Handler) ClearRateLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	if err := h.ledger.ClearRateLimit(r.Context(), userID); err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "rate limit cleared")
}

type setActiveRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// SetActive handles PUT /admin/ai/users/{userID}/active.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}

	if err := h.ledger.SetActive(r.Context(), userID, req.Active, req.Reason); err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "updated")
}

// SetLimits handles PUT /admin/ai/users/{userID}/limits.
func (h *Handler) SetLimits(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	var limits quota.Limits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if limits.DailyRequests <= 0 || limits.MonthlyRequests <= 0 ||
		limits.DailyTokens <= 0 || limits.MonthlyTokens <= 0 ||
		limits.DailyCost <= 0 || limits.MonthlyCost <= 0 {
		api.HandleError(w, api.NewValidationError("all limits must be positive"))
		return
	}

	if err := h.ledger.SetLimits(r.Context(), userID, limits); err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "limits updated")
}

type purgeRequest struct {
	Before time.Time `json:"before"`
}

// Purge handles POST /admin/ai/audit/purge.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Before.IsZero() {
		api.HandleError(w, api.NewBadRequestError("before timestamp required"))
		return
	}

	purged, err := h.auditor.PurgeOlderThan(r.Context(), req.Before)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
