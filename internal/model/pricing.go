package model

import "strings"

// ModelPricing defines per-model USD prices per million tokens.
type ModelPricing struct {
	Model         string // supports a trailing wildcard, e.g. "gpt-4o*"
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPricing covers the models the gateway is expected to route to.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputPerMTok: 5.0, OutputPerMTok: 15.0},
	{Model: "gpt-4o-mini", InputPerMTok: 0.15, OutputPerMTok: 0.6},
	{Model: "gpt-4*", InputPerMTok: 30.0, OutputPerMTok: 60.0},
	{Model: "gpt-3.5-turbo", InputPerMTok: 0.5, OutputPerMTok: 1.5},

	{Model: "claude-3-5-sonnet*", InputPerMTok: 3.0, OutputPerMTok: 15.0},
	{Model: "claude-3-haiku*", InputPerMTok: 0.25, OutputPerMTok: 1.25},

	{Model: "text-embedding-3-small", InputPerMTok: 0.02, OutputPerMTok: 0},
	{Model: "text-embedding-3-large", InputPerMTok: 0.13, OutputPerMTok: 0},
}

// PriceTable resolves token counts to USD cost for known models.
type PriceTable struct {
	pricing []ModelPricing
}

// NewPriceTable builds a price table; nil falls back to DefaultPricing.
func NewPriceTable(pricing []ModelPricing) *PriceTable {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &PriceTable{pricing: pricing}
}

// Cost returns the USD cost for the given model and token counts.
// Unknown models cost 0: the audit trail still records their token usage.
func (t *PriceTable) Cost(model string, inputTokens, outputTokens int64) float64 {
	p, ok := t.lookup(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMTok +
		float64(outputTokens)/1_000_000*p.OutputPerMTok
}

func (t *PriceTable) lookup(model string) (ModelPricing, bool) {
	// Exact match wins over wildcard.
	for _, p := range t.pricing {
		if p.Model == model {
			return p, true
		}
	}
	for _, p := range t.pricing {
		if prefix, ok := strings.CutSuffix(p.Model, "*"); ok && strings.HasPrefix(model, prefix) {
			return p, true
		}
	}
	return ModelPricing{}, false
}
