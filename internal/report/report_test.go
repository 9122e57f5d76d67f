package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vnmchuo/gateway-ops/internal/billing"
	"github.com/vnmchuo/gateway-ops/internal/evaluate"
	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/usage"
	"github.com/vnmchuo/gateway-ops/internal/verify"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,000", FormatNumber(1000))
	assert.Equal(t, "1,234,567", FormatNumber(1234567))
	assert.Equal(t, "-12,345", FormatNumber(-12345))
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.000123", FormatCost(0.000123))
	assert.Equal(t, "$0.090000", FormatCost(0.09))
	assert.Equal(t, "$0.000000", FormatCost(0))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "xé", Truncate("xéz", 2))
}

func TestTitle_BarWidth(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, NarrowWidth).Title("MLflow Gateway Cost Tracking", "Container: mlflow-gateway")

	out := buf.String()
	assert.Contains(t, out, strings.Repeat("=", 60))
	assert.NotContains(t, out, strings.Repeat("=", 61))
	assert.Contains(t, out, "Container: mlflow-gateway")
}

func TestCostSummaryAndBreakdown(t *testing.T) {
	calc := pricing.NewCalculator(nil)
	records := []usage.Record{
		usage.New(1200, 300),
		{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20, ReportedTotal: 25, TotalMismatch: true},
	}
	s := billing.Aggregate(records, "unknown-model", calc)

	var buf bytes.Buffer
	p := New(&buf, WideWidth)
	p.CostSummary(s)
	p.Breakdown(s.Costs, 20)

	out := buf.String()
	assert.Contains(t, out, "Total Requests: 2")
	assert.Contains(t, out, "Total Prompt Tokens: 1,210")
	assert.Contains(t, out, "Total Tokens: 1,520")
	assert.Contains(t, out, "Total Cost: $0.001070")
	assert.Contains(t, out, `"unknown-model" is not in the pricing table`)
	assert.Contains(t, out, "1 record(s) reported a total_tokens")
	assert.Contains(t, out, "Per-Request Breakdown")
	assert.Contains(t, out, "$0.001050")
}

func TestBreakdown_OverLimit(t *testing.T) {
	var buf bytes.Buffer
	costs := make([]pricing.CostResult, 11)
	New(&buf, NarrowWidth).Breakdown(costs, 10)
	assert.Empty(t, buf.String())
}

func TestChecks(t *testing.T) {
	r := verify.Report{Checks: []verify.Check{
		{Name: "health", Title: "1. Health Check", Status: verify.StatusFail, Lines: []verify.Line{{Status: verify.StatusFail, Text: "Health check failed: 503"}}},
		{Name: "logs", Title: "5. Logs Check", Status: verify.StatusWarn, Lines: []verify.Line{
			{Status: verify.StatusWarn, Text: "Found errors in logs: 1 lines"},
			{Status: verify.StatusInfo, Text: "Last error: boom"},
		}},
	}}

	var buf bytes.Buffer
	p := New(&buf, WideWidth)
	p.Checks(r)
	p.VerifySummary(r)

	out := buf.String()
	assert.Contains(t, out, "✗ Health check failed: 503")
	assert.Contains(t, out, "⚠ Found errors in logs: 1 lines")
	assert.Contains(t, out, "  Last error: boom")
	assert.Contains(t, out, "✗ Gateway health check failed")
}

func TestEvalOutput(t *testing.T) {
	u := usage.New(10, 20)
	c := pricing.NewCalculator(nil).Cost(u, "gpt-3.5-turbo")
	res := evaluate.CaseResult{
		ChatResult: gateway.ChatResult{Success: true, StatusCode: 200, ResponseTime: 1.234, Usage: &u, Content: strings.Repeat("a", 150)},
		Cost:       &c,
	}

	var buf bytes.Buffer
	p := New(&buf, WideWidth)
	p.EvalCase(1, evaluate.TestCase{Name: "Simple Question"}, res)
	p.EvalSummary(&evaluate.Summary{TotalRequests: 1, Successful: 1, TotalCost: c.TotalCost, AverageCost: c.TotalCost})

	out := buf.String()
	assert.Contains(t, out, "Test 1: Simple Question")
	assert.Contains(t, out, "Request successful (Status: 200, Time: 1.23s)")
	assert.Contains(t, out, "Response Preview: "+strings.Repeat("a", 100)+"...")
	assert.Contains(t, out, "Average Cost per Request: $0.000035")
}

func TestEvalSummary_AllFailed(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, WideWidth).EvalSummary(&evaluate.Summary{TotalRequests: 2, Failed: 2})
	assert.Contains(t, buf.String(), "N/A (no successful requests)")
}

func TestPricing(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, WideWidth).Pricing(pricing.Default())
	out := buf.String()
	assert.Contains(t, out, "gpt-3.5-turbo (default)")
	assert.Contains(t, out, "0.0015")
}
