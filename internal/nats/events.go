package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamUsage = "OMNICHAT_AI_USAGE"
)

// Subject constants.
const (
	SubjectUsageEvent = "omnichat.ai.usage"
)

// UsageEvent is published for every AI invocation attempt so the audit
// consumer can persist it without blocking the invocation path.
type UsageEvent struct {
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
