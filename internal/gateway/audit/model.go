package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/omnichat-platform/omnichat/internal/nats"
)

// Entry statuses. Every invocation attempt lands in exactly one of these.
// Denied invocations carry the status that denied them; the precise ledger
// reason is kept in error_code.
const (
	StatusSuccess       = "success"
	StatusFailure       = "failure"
	StatusRateLimited   = "rate_limited"
	StatusQuotaExceeded = "quota_exceeded"
)

// Entry matches the ai_usage_log table schema. One row per invocation
// attempt, including denied ones.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	OperationKind  string     `json:"operation_kind"`
	Model          string     `json:"model"`
	Status         string     `json:"status"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	TotalTokens    int64      `json:"total_tokens"`
	EstimatedCost  float64    `json:"estimated_cost"`
	RequestSize    int        `json:"request_size"`
	ResponseSize   int        `json:"response_size"`
	ResponseTimeMs int64      `json:"response_time_ms"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Event converts the entry to its NATS wire form.
func (e *Entry) Event() nats.UsageEvent {
	return nats.UsageEvent{
		ID:             e.ID,
		UserID:         e.UserID,
		OperationKind:  e.OperationKind,
		Model:          e.Model,
		Status:         e.Status,
		InputTokens:    e.InputTokens,
		OutputTokens:   e.OutputTokens,
		TotalTokens:    e.TotalTokens,
		EstimatedCost:  e.EstimatedCost,
		RequestSize:    e.RequestSize,
		ResponseSize:   e.ResponseSize,
		ResponseTimeMs: e.ResponseTimeMs,
		ErrorCode:      e.ErrorCode,
		ErrorMessage:   e.ErrorMessage,
		MessageID:      e.MessageID,
		ConversationID: e.ConversationID,
		CreatedAt:      e.CreatedAt,
	}
}

// EntryFromEvent converts a NATS usage event back to a persistable entry.
func EntryFromEvent(event nats.UsageEvent) *Entry {
	return &Entry{
		ID:             event.ID,
		UserID:         event.UserID,
		OperationKind:  event.OperationKind,
		Model:          event.Model,
		Status:         event.Status,
		InputTokens:    event.InputTokens,
		OutputTokens:   event.OutputTokens,
		TotalTokens:    event.TotalTokens,
		EstimatedCost:  event.EstimatedCost,
		RequestSize:    event.RequestSize,
		ResponseSize:   event.ResponseSize,
		ResponseTimeMs: event.ResponseTimeMs,
		ErrorCode:      event.ErrorCode,
		ErrorMessage:   event.ErrorMessage,
		MessageID:      event.MessageID,
		ConversationID: event.ConversationID,
		CreatedAt:      event.CreatedAt,
	}
}

// ListParams holds pagination and filtering parameters for usage log queries.
type ListParams struct {
	OperationKind string
	Status        string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

// KindRollup aggregates usage for one operation kind.
type KindRollup struct {
	OperationKind string  `json:"operation_kind"`
	Requests      int64   `json:"requests"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	Denied        int64   `json:"denied"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
}

// Rollup aggregates a user's usage over a time range, broken down by kind.
type Rollup struct {
	From        time.Time    `json:"from"`
	To          time.Time    `json:"to"`
	Requests    int64        `json:"requests"`
	TotalTokens int64        `json:"total_tokens"`
	TotalCost   float64      `json:"total_cost"`
	ByKind      []KindRollup `json:"by_kind"`
}
