package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/usage"
)

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil, "gpt-4", pricing.NewCalculator(nil))

	assert.True(t, s.Empty())
	assert.Zero(t, s.RequestCount)
	assert.Zero(t, s.TotalTokens)
	assert.Zero(t, s.TotalCost)
	assert.Zero(t, s.AverageCostPerRequest)
	assert.Equal(t, "gpt-4", s.Model)
}

func TestAggregate_SumsPerRecordCost(t *testing.T) {
	calc := pricing.NewCalculator(nil)
	u1 := usage.New(120, 80)
	u2 := usage.New(3000, 1500)

	s := Aggregate([]usage.Record{u1, u2}, "gpt-4-turbo", calc)

	require.Equal(t, 2, s.RequestCount)
	assert.Equal(t, 3120, s.TotalPromptTokens)
	assert.Equal(t, 1580, s.TotalCompletionTokens)
	assert.Equal(t, 4700, s.TotalTokens)
	assert.Equal(t, calc.Cost(u1, "gpt-4-turbo").TotalCost+calc.Cost(u2, "gpt-4-turbo").TotalCost, s.TotalCost)
	assert.Equal(t, s.TotalCost/2, s.AverageCostPerRequest)
	assert.Len(t, s.Costs, 2)
	assert.False(t, s.FallbackPriced)
}

func TestAggregate_FlagsFallbackAndMismatch(t *testing.T) {
	records := []usage.Record{
		usage.New(10, 10),
		{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10, ReportedTotal: 12, TotalMismatch: true},
	}

	s := Aggregate(records, "mystery-model", pricing.NewCalculator(nil))

	assert.True(t, s.FallbackPriced)
	assert.Equal(t, "gpt-3.5-turbo", s.PricedAs)
	assert.Equal(t, "mystery-model", s.Model)
	assert.Equal(t, 1, s.MismatchedTotals)
	assert.Equal(t, 30, s.TotalTokens)
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	records := []usage.Record{usage.New(1, 2)}
	before := records[0]

	Aggregate(records, "gpt-4", pricing.NewCalculator(nil))

	assert.Equal(t, before, records[0])
}
