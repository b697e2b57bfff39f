package model

import "github.com/google/uuid"

// Kind identifies which AI capability is being invoked.
type Kind string

const (
	KindSentiment      Kind = "sentiment"
	KindCategorization Kind = "categorization"
	KindSuggestion     Kind = "suggestion"
	KindSummarization  Kind = "summarization"
	KindScheduling     Kind = "scheduling"
	KindInsights       Kind = "insights"
	KindSemanticSearch Kind = "semantic_search"
)

// Kinds lists every supported operation kind.
var Kinds = []Kind{
	KindSentiment,
	KindCategorization,
	KindSuggestion,
	KindSummarization,
	KindScheduling,
	KindInsights,
	KindSemanticSearch,
}

// Valid reports whether k is a supported operation kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SentimentInput asks for a sentiment breakdown of a single message.
type SentimentInput struct {
	Text string `json:"text" validate:"required,min=1"`
}

// CategorizationInput asks for a category and themes for a message.
type CategorizationInput struct {
	Text string `json:"text" validate:"required,min=1"`
}

// SuggestionInput asks for reply suggestions for a conversation.
type SuggestionInput struct {
	ConversationText string `json:"conversation_text" validate:"required,min=1"`
	Tone             string `json:"tone,omitempty"`
	MaxSuggestions   int    `json:"max_suggestions,omitempty" validate:"omitempty,min=1,max=5"`
}

// SummarizationInput asks for a summary of a conversation.
type SummarizationInput struct {
	ConversationText string `json:"conversation_text" validate:"required,min=1"`
}

// SchedulingInput asks for a recommended follow-up time.
type SchedulingInput struct {
	Text     string `json:"text" validate:"required,min=1"`
	Timezone string `json:"timezone,omitempty"`
}

// InsightsInput asks for an insight report over conversation history.
type InsightsInput struct {
	ConversationText string `json:"conversation_text" validate:"required,min=1"`
}

// SemanticSearchInput queries indexed messages by meaning rather than keywords.
type SemanticSearchInput struct {
	Query           string      `json:"query" validate:"required,min=1"`
	ConversationIDs []uuid.UUID `json:"conversation_ids,omitempty"`
	Limit           int         `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}
