package pricing

import (
	"github.com/vnmchuo/gateway-ops/internal/usage"
)

// CostResult is the priced form of one usage record.
type CostResult struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	TotalCost        float64 `json:"total_cost"`

	// Model is the model whose prices were applied. RequestedModel is what the
	// caller asked for; they differ only when Fallback is set.
	Model          string `json:"model"`
	RequestedModel string `json:"requested_model"`
	Fallback       bool   `json:"fallback,omitempty"`
}

type Calculator struct {
	table *Table
}

func NewCalculator(table *Table) *Calculator {
	if table == nil {
		table = Default()
	}
	return &Calculator{table: table}
}

func (c *Calculator) Table() *Table {
	return c.table
}

// Cost prices r at model's rates. Unknown models are priced at the table's
// default model and tagged as a fallback.
func (c *Calculator) Cost(r usage.Record, model string) CostResult {
	entry, fallback := c.table.Lookup(model)

	input := float64(r.PromptTokens) / 1000 * entry.InputPer1K
	output := float64(r.CompletionTokens) / 1000 * entry.OutputPer1K

	total := r.TotalTokens
	if total == 0 {
		total = r.PromptTokens + r.CompletionTokens
	}

	return CostResult{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      total,
		InputCost:        input,
		OutputCost:       output,
		TotalCost:        input + output,
		Model:            entry.Model,
		RequestedModel:   model,
		Fallback:         fallback,
	}
}
