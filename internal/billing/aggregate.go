package billing

import (
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/usage"
)

// Summary is the roll-up of a batch of usage records priced at one model.
type Summary struct {
	RequestCount          int     `json:"request_count"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	TotalCost             float64 `json:"total_cost"`
	AverageCostPerRequest float64 `json:"average_cost_per_request"`
	Model                 string  `json:"model"`

	PricedAs         string `json:"priced_as"`
	FallbackPriced   bool   `json:"fallback_priced"`
	MismatchedTotals int    `json:"mismatched_totals"`

	// Costs holds the per-record results in input order.
	Costs []pricing.CostResult `json:"-"`
}

// Aggregate prices each record at model and sums the results. Cost is summed
// per record rather than computed once from the token totals.
func Aggregate(records []usage.Record, model string, calc *pricing.Calculator) Summary {
	entry, fallback := calc.Table().Lookup(model)
	s := Summary{
		RequestCount:   len(records),
		Model:          model,
		PricedAs:       entry.Model,
		FallbackPriced: fallback,
		Costs:          make([]pricing.CostResult, 0, len(records)),
	}

	for _, r := range records {
		c := calc.Cost(r, model)
		s.TotalPromptTokens += c.PromptTokens
		s.TotalCompletionTokens += c.CompletionTokens
		s.TotalCost += c.TotalCost
		if r.TotalMismatch {
			s.MismatchedTotals++
		}
		s.Costs = append(s.Costs, c)
	}
	s.TotalTokens = s.TotalPromptTokens + s.TotalCompletionTokens

	if s.RequestCount > 0 {
		s.AverageCostPerRequest = s.TotalCost / float64(s.RequestCount)
	}

	return s
}

// Empty reports whether no usage was aggregated.
func (s Summary) Empty() bool {
	return s.RequestCount == 0
}
