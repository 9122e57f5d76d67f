// Package report renders operator-facing text for the gwops commands.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/vnmchuo/gateway-ops/internal/billing"
	"github.com/vnmchuo/gateway-ops/internal/evaluate"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/verify"
)

// Header bar widths.
const (
	NarrowWidth = 60
	WideWidth   = 70
)

// Printer writes report text to w. Bars are Width characters wide.
type Printer struct {
	w     io.Writer
	Width int
}

func New(w io.Writer, width int) *Printer {
	return &Printer{w: w, Width: width}
}

func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Blank() {
	fmt.Fprintln(p.w)
}

func (p *Printer) Bar() {
	fmt.Fprintln(p.w, barStyle.Render(strings.Repeat("=", p.Width)))
}

// Title prints a bar-framed banner with optional detail lines.
func (p *Printer) Title(title string, lines ...string) {
	p.Bar()
	fmt.Fprintln(p.w, titleStyle.Render(title))
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
	p.Bar()
}

// Section starts a new bar-framed block after a blank line.
func (p *Printer) Section(title string) {
	p.Blank()
	p.Title(title)
}

func (p *Printer) OK(format string, args ...any) {
	p.mark(okMark.String(), format, args...)
}

func (p *Printer) Warn(format string, args ...any) {
	p.mark(warnMark.String(), format, args...)
}

func (p *Printer) Fail(format string, args ...any) {
	p.mark(failMark.String(), format, args...)
}

func (p *Printer) mark(m, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", m, fmt.Sprintf(format, args...))
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CostSummary prints the totals of s and any pricing caveats.
func (p *Printer) CostSummary(s billing.Summary) {
	p.Section("Cost Summary")
	p.Line("Total Requests: %s", FormatNumber(s.RequestCount))
	p.Line("Total Prompt Tokens: %s", FormatNumber(s.TotalPromptTokens))
	p.Line("Total Completion Tokens: %s", FormatNumber(s.TotalCompletionTokens))
	p.Line("Total Tokens: %s", FormatNumber(s.TotalTokens))
	p.Line("Total Cost: %s", FormatCost(s.TotalCost))
	p.Line("Average Cost per Request: %s", FormatCost(s.AverageCostPerRequest))

	if s.FallbackPriced {
		p.Blank()
		p.Warn("Model %q is not in the pricing table; priced as %s", s.Model, s.PricedAs)
	}
	if s.MismatchedTotals > 0 {
		p.Warn("%d record(s) reported a total_tokens that disagrees with prompt+completion; using the derived sum", s.MismatchedTotals)
	}
}

// Breakdown prints one row per request when there are at most limit of them.
func (p *Printer) Breakdown(costs []pricing.CostResult, limit int) {
	if len(costs) == 0 || len(costs) > limit {
		return
	}

	p.Section("Per-Request Breakdown")
	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"Request", "Prompt", "Completion", "Total", "Cost"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i, c := range costs {
		table.Append([]string{
			strconv.Itoa(i + 1),
			FormatNumber(c.PromptTokens),
			FormatNumber(c.CompletionTokens),
			FormatNumber(c.TotalTokens),
			FormatCost(c.TotalCost),
		})
	}
	table.Render()
}

// NoUsage prints the hint shown when a scan found nothing.
func (p *Printer) NoUsage() {
	p.Blank()
	p.Warn("No usage data found in logs.")
	p.Line("Make sure you have sent requests to the gateway.")
	p.Line("Usage data appears in logs after successful API calls.")
}

// Checks prints every verification check under its own section.
func (p *Printer) Checks(r verify.Report) {
	for i, c := range r.Checks {
		if i == 0 {
			p.Title(c.Title)
		} else {
			p.Section(c.Title)
		}
		for _, l := range c.Lines {
			switch l.Status {
			case verify.StatusPass:
				p.OK("%s", l.Text)
			case verify.StatusWarn:
				p.Warn("%s", l.Text)
			case verify.StatusFail:
				p.Fail("%s", l.Text)
			default:
				p.Line("  %s", l.Text)
			}
		}
	}
}

// VerifySummary prints the closing verdict of a verification run.
func (p *Printer) VerifySummary(r verify.Report) {
	p.Section("Verification Summary")
	if r.Operational() {
		p.OK("Gateway is operational")
		p.OK("Health endpoint working")
		p.OK("Ready to process requests (when API quota is available)")
	} else {
		p.Fail("Gateway health check failed")
		p.Line("  Check container status and logs")
	}
	p.Blank()
	p.Line("Note: Quota errors are expected if upstream API quota is exhausted.")
	p.Line("      Gateway structure and configuration are verified above.")
}

// EvalCase prints the outcome of one evaluation case.
func (p *Printer) EvalCase(n int, tc evaluate.TestCase, res evaluate.CaseResult) {
	p.Section(fmt.Sprintf("Test %d: %s", n, tc.Name))
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Unknown error"
		}
		p.Fail("Request failed: %s", msg)
		return
	}

	p.OK("Request successful (Status: %d, Time: %.2fs)", res.StatusCode, res.ResponseTime)
	if res.Usage == nil || res.Cost == nil {
		p.Warn("No usage information in response")
		return
	}

	p.Blank()
	p.Line("Token Usage:")
	p.Line("  Prompt: %d", res.Usage.PromptTokens)
	p.Line("  Completion: %d", res.Usage.CompletionTokens)
	p.Line("  Total: %d", res.Usage.TotalTokens)
	p.Line("  Cost: %s", FormatCost(res.Cost.TotalCost))
	if res.Content != "" {
		p.Blank()
		p.Line("Response Preview: %s...", Truncate(res.Content, 100))
	}
}

// EvalSummary prints the totals of an evaluation run.
func (p *Printer) EvalSummary(s *evaluate.Summary) {
	p.Section("Evaluation Summary")
	p.Line("Total Requests: %d", s.TotalRequests)
	p.Line("Successful: %d", s.Successful)
	p.Line("Failed: %d", s.Failed)
	p.Line("Total Cost: %s", FormatCost(s.TotalCost))
	if s.Successful > 0 {
		p.Line("Average Cost per Request: %s", FormatCost(s.AverageCost))
		return
	}

	p.Line("Average Cost per Request: N/A (no successful requests)")
	p.Blank()
	p.Warn("All requests failed. Check:")
	p.Line("  1. API key is valid (not placeholder)")
	p.Line("  2. Gateway is running correctly")
	p.Line("  3. Network connectivity")
}

// Pricing prints the effective price table.
func (p *Printer) Pricing(t *pricing.Table) {
	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"Model", "Input / 1K", "Output / 1K"})
	for _, e := range t.Entries() {
		name := e.Model
		if name == t.DefaultModel() {
			name += " (default)"
		}
		table.Append([]string{
			name,
			strconv.FormatFloat(e.InputPer1K, 'f', -1, 64),
			strconv.FormatFloat(e.OutputPer1K, 'f', -1, 64),
		})
	}
	table.Render()
}

// History prints stored usage rows followed by their total cost.
func (p *Printer) History(logs []*billing.UsageLog, total float64) {
	if len(logs) == 0 {
		p.Warn("No stored usage in this window")
		return
	}

	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"Time", "Source", "Model", "Prompt", "Completion", "Cost"})
	for _, l := range logs {
		model := l.Model
		if l.Fallback {
			model += "*"
		}
		table.Append([]string{
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			l.Source,
			model,
			FormatNumber(l.PromptTokens),
			FormatNumber(l.CompletionTokens),
			FormatCost(l.CostUSD),
		})
	}
	table.Render()
	p.Line("Total Cost: %s", FormatCost(total))
}
