package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// sentimentSumEpsilon bounds how far the three sentiment components may
// drift from summing to exactly 1 before the response is rejected.
const sentimentSumEpsilon = 1e-2

// SentimentResult is a validated sentiment breakdown.
type SentimentResult struct {
	Positive   float64 `json:"positive"`
	Neutral    float64 `json:"neutral"`
	Negative   float64 `json:"negative"`
	Confidence float64 `json:"confidence"`
}

// CategorizationResult is a validated category assignment.
type CategorizationResult struct {
	Category   string   `json:"category"`
	Themes     []string `json:"themes"`
	Confidence float64  `json:"confidence"`
}

// Suggestion is a single proposed reply.
type Suggestion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SuggestionResult is a validated list of reply suggestions.
type SuggestionResult struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// SummarizationResult is a validated conversation summary.
type SummarizationResult struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// SchedulingResult is a validated follow-up recommendation.
type SchedulingResult struct {
	RecommendedTime time.Time `json:"recommended_time"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
}

// InsightsResult is a validated insight report.
type InsightsResult struct {
	Report     string   `json:"report"`
	Highlights []string `json:"highlights"`
}

// ParseResult strictly parses a raw model response for the given kind and
// enforces the kind's domain invariants. A response that parses but violates
// an invariant is a *ParseError, never a clamped or partially-valid value.
func ParseResult(kind Kind, raw string, now time.Time) (any, error) {
	raw = trimResponse(raw)
	if raw == "" {
		return nil, &ParseError{Kind: kind, Reason: "empty response"}
	}

	switch kind {
	case KindSentiment:
		var res SentimentResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		for name, v := range map[string]float64{
			"positive":   res.Positive,
			"neutral":    res.Neutral,
			"negative":   res.Negative,
			"confidence": res.Confidence,
		} {
			if err := checkUnit(name, v); err != nil {
				return nil, &ParseError{Kind: kind, Reason: err.Error()}
			}
		}
		sum := res.Positive + res.Neutral + res.Negative
		if math.Abs(sum-1.0) > sentimentSumEpsilon {
			return nil, &ParseError{Kind: kind, Reason: fmt.Sprintf("sentiment components sum to %.4f, want 1.0", sum)}
		}
		return &res, nil

	case KindCategorization:
		var res CategorizationResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		if strings.TrimSpace(res.Category) == "" {
			return nil, &ParseError{Kind: kind, Reason: "empty category"}
		}
		if err := checkUnit("confidence", res.Confidence); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		return &res, nil

	case KindSuggestion:
		var res SuggestionResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		if len(res.Suggestions) == 0 {
			return nil, &ParseError{Kind: kind, Reason: "no suggestions returned"}
		}
		for i, s := range res.Suggestions {
			if strings.TrimSpace(s.Text) == "" {
				return nil, &ParseError{Kind: kind, Reason: fmt.Sprintf("suggestion %d has empty text", i)}
			}
			if err := checkUnit("confidence", s.Confidence); err != nil {
				return nil, &ParseError{Kind: kind, Reason: fmt.Sprintf("suggestion %d: %s", i, err)}
			}
		}
		return &res, nil

	case KindSummarization:
		var res SummarizationResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		if strings.TrimSpace(res.Summary) == "" {
			return nil, &ParseError{Kind: kind, Reason: "empty summary"}
		}
		return &res, nil

	case KindScheduling:
		var res SchedulingResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		if !res.RecommendedTime.After(now) {
			return nil, &ParseError{Kind: kind, Reason: fmt.Sprintf("recommended time %s is not in the future", res.RecommendedTime.Format(time.RFC3339))}
		}
		if err := checkUnit("confidence", res.Confidence); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		return &res, nil

	case KindInsights:
		var res InsightsResult
		if err := strictUnmarshal(raw, &res); err != nil {
			return nil, &ParseError{Kind: kind, Reason: err.Error()}
		}
		if strings.TrimSpace(res.Report) == "" {
			return nil, &ParseError{Kind: kind, Reason: "empty report"}
		}
		return &res, nil

	default:
		return nil, &ParseError{Kind: kind, Reason: "kind has no completion response schema"}
	}
}

// strictUnmarshal rejects unknown fields and trailing garbage so a malformed
// or chatty response cannot half-populate a result.
func strictUnmarshal(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON object")
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("%s = %v outside [0,1]", name, v)
	}
	return nil
}
