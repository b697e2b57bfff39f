package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceTable_ExactMatch(t *testing.T) {
	table := NewPriceTable(nil)

	// gpt-4o-mini: $0.15/M input, $0.60/M output
	cost := table.Cost("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 1e-9)
}

func TestPriceTable_WildcardMatch(t *testing.T) {
	table := NewPriceTable(nil)

	cost := table.Cost("claude-3-5-sonnet-20241022", 1_000_000, 0)
	assert.InDelta(t, 3.0, cost, 1e-9)
}

func TestPriceTable_ExactBeatsWildcard(t *testing.T) {
	table := NewPriceTable([]ModelPricing{
		{Model: "gpt-4*", InputPerMTok: 30, OutputPerMTok: 60},
		{Model: "gpt-4o-mini", InputPerMTok: 0.15, OutputPerMTok: 0.6},
	})

	cost := table.Cost("gpt-4o-mini", 1_000_000, 0)
	assert.InDelta(t, 0.15, cost, 1e-9)
}

func TestPriceTable_UnknownModelIsFree(t *testing.T) {
	table := NewPriceTable(nil)
	assert.Zero(t, table.Cost("some-local-model", 5000, 5000))
}

func TestPriceTable_EmbeddingOutputFree(t *testing.T) {
	table := NewPriceTable(nil)
	cost := table.Cost("text-embedding-3-small", 2_000_000, 2_000_000)
	assert.InDelta(t, 0.04, cost, 1e-9)
}
