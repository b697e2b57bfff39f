package model

import (
	"fmt"
	"strings"
	"time"
)

const jsonOnly = "Respond with a single JSON object and nothing else: no prose, no markdown, no code fences."

// BuildPrompt renders the kind-specific instruction for the remote model.
// The payload must be the input type matching the kind; anything else is an error.
// Semantic search does not go through the completion API and has no prompt.
func BuildPrompt(kind Kind, payload any, now time.Time) (string, error) {
	switch kind {
	case KindSentiment:
		in, ok := payload.(SentimentInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected SentimentInput, got %T", kind, payload)
		}
		return fmt.Sprintf(`Analyze the sentiment of the following message.
%s
Schema: {"positive": <0..1>, "neutral": <0..1>, "negative": <0..1>, "confidence": <0..1>}
The three sentiment scores must sum to 1.

Message:
%s`, jsonOnly, in.Text), nil

	case KindCategorization:
		in, ok := payload.(CategorizationInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected CategorizationInput, got %T", kind, payload)
		}
		return fmt.Sprintf(`Categorize the following message for a shared customer inbox.
%s
Schema: {"category": "<sales|support|billing|spam|personal|other>", "themes": ["..."], "confidence": <0..1>}

Message:
%s`, jsonOnly, in.Text), nil

	case KindSuggestion:
		in, ok := payload.(SuggestionInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected SuggestionInput, got %T", kind, payload)
		}
		maxSuggestions := in.MaxSuggestions
		if maxSuggestions <= 0 {
			maxSuggestions = 3
		}
		tone := in.Tone
		if tone == "" {
			tone = "professional"
		}
		return fmt.Sprintf(`Suggest up to %d %s replies for the last message of this conversation.
%s
Schema: {"suggestions": [{"text": "...", "confidence": <0..1>}]}

Conversation:
%s`, maxSuggestions, tone, jsonOnly, in.ConversationText), nil

	case KindSummarization:
		in, ok := payload.(SummarizationInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected SummarizationInput, got %T", kind, payload)
		}
		return fmt.Sprintf(`Summarize this conversation.
%s
Schema: {"summary": "...", "key_points": ["..."]}

Conversation:
%s`, jsonOnly, in.ConversationText), nil

	case KindScheduling:
		in, ok := payload.(SchedulingInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected SchedulingInput, got %T", kind, payload)
		}
		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		return fmt.Sprintf(`Recommend a follow-up time for the request below. The current time is %s and the user's timezone is %s. The recommended time must be in the future.
%s
Schema: {"recommended_time": "<RFC 3339 timestamp>", "reason": "...", "confidence": <0..1>}

Request:
%s`, now.UTC().Format(time.RFC3339), tz, jsonOnly, in.Text), nil

	case KindInsights:
		in, ok := payload.(InsightsInput)
		if !ok {
			return "", fmt.Errorf("payload for %s: expected InsightsInput, got %T", kind, payload)
		}
		return fmt.Sprintf(`Produce an insight report over this conversation history: communication patterns, open questions, risks, and next actions.
%s
Schema: {"report": "...", "highlights": ["..."]}

History:
%s`, jsonOnly, in.ConversationText), nil

	case KindSemanticSearch:
		return "", fmt.Errorf("%s is served by the vector search path, not a completion prompt", kind)

	default:
		return "", fmt.Errorf("unknown operation kind %q", kind)
	}
}

// strip leading/trailing whitespace the model sometimes adds around JSON.
func trimResponse(raw string) string {
	return strings.TrimSpace(raw)
}
