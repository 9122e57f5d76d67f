package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/report"
)

func runHealth(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default GATEWAY_URL)")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	p := a.printer(report.NarrowWidth)
	if !checkHealth(ctx, p, a.gateway(*url)) {
		return errReported
	}
	return nil
}

// checkHealth prints the health endpoint status and body.
func checkHealth(ctx context.Context, p *report.Printer, gw *gateway.Client) bool {
	p.Title("Testing Health Endpoint")
	res, err := gw.Health(ctx)
	if res == nil {
		p.Line("Error: %v", err)
		return false
	}

	p.Line("Status Code: %d", res.StatusCode)
	p.Line("Response: %s", compact(res.Body))
	return err == nil
}

type chatCase struct {
	title       string
	messages    []gateway.Message
	temperature float64
	maxTokens   int
	priced      bool
}

var testSuite = []chatCase{
	{
		title:       "Test 1: Simple Chat Request",
		messages:    []gateway.Message{{Role: "user", Content: "Hello, how are you?"}},
		temperature: 0.7,
		maxTokens:   100,
		priced:      true,
	},
	{
		title: "Test 2: Multi-turn Conversation",
		messages: []gateway.Message{
			{Role: "user", Content: "What is machine learning?"},
			{Role: "assistant", Content: "Machine learning is a subset of artificial intelligence."},
			{Role: "user", Content: "Can you give me a simple example?"},
		},
		temperature: 0.7,
		maxTokens:   100,
	},
	{
		title:       "Test 3: Complex Request with Parameters",
		messages:    []gateway.Message{{Role: "user", Content: "Explain quantum computing in simple terms, limit to 50 words."}},
		temperature: 0.5,
		maxTokens:   100,
		priced:      true,
	},
}

func runTest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default GATEWAY_URL)")
	model := fs.String("model", a.cfg.DefaultModel, "model name for pricing")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}

	p := a.printer(report.NarrowWidth)
	gw := a.gateway(*url)

	p.Title("MLflow Gateway API Test Suite", "Timestamp: "+time.Now().Format("2006-01-02 15:04:05"))
	if !checkHealth(ctx, p, gw) {
		p.Blank()
		p.Line("Health check failed. Gateway may not be running.")
		return errReported
	}

	for _, tc := range testSuite {
		p.Section(tc.title)
		res := sendChat(ctx, p, gw, tc.messages, tc.temperature, tc.maxTokens)
		if tc.priced && res.Success && res.Usage != nil {
			c := calc.Cost(*res.Usage, *model)
			printCost(p, c)
		}
	}

	p.Section("Test Suite Completed")
	return nil
}

func runChat(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default GATEWAY_URL)")
	message := fs.String("message", "Hello, how are you?", "user message to send")
	temperature := fs.Float64("temperature", 0.7, "sampling temperature")
	maxTokens := fs.Int("max-tokens", 100, "completion token limit")
	model := fs.String("model", a.cfg.DefaultModel, "model name for pricing")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}

	p := a.printer(report.NarrowWidth)
	res := sendChat(ctx, p, a.gateway(*url), []gateway.Message{{Role: "user", Content: *message}}, *temperature, *maxTokens)
	if !res.Success {
		return errReported
	}
	if res.Usage != nil {
		printCost(p, calc.Cost(*res.Usage, *model))
	}
	return nil
}

// sendChat posts one request and prints the payload, response and usage.
func sendChat(ctx context.Context, p *report.Printer, gw *gateway.Client, messages []gateway.Message, temperature float64, maxTokens int) *gateway.ChatResult {
	req := gateway.ChatRequest{Messages: messages, Temperature: temperature, MaxTokens: maxTokens}

	p.Blank()
	p.Line("Request URL: %s", gw.ChatURL())
	p.Line("Request Payload: %s", indent(req))

	res := gw.Chat(ctx, req)
	if res.StatusCode == 0 {
		p.Line("Error: %s", res.Error)
		return res
	}

	p.Blank()
	p.Line("Response Status: %d", res.StatusCode)
	p.Line("Response Time: %.2fs", res.ResponseTime)
	if !res.Success {
		p.Line("Error Response: %s", res.Error)
		return res
	}

	p.Line("Response: %s", indent(res.Response))
	if res.Usage != nil {
		p.Blank()
		p.Line("Token Usage:")
		p.Line("  Prompt tokens: %d", res.Usage.PromptTokens)
		p.Line("  Completion tokens: %d", res.Usage.CompletionTokens)
		p.Line("  Total tokens: %d", res.Usage.TotalTokens)
	}
	return res
}

func printCost(p *report.Printer, c pricing.CostResult) {
	p.Blank()
	p.Line("Cost Analysis:")
	p.Line("  Input tokens: %d", c.PromptTokens)
	p.Line("  Output tokens: %d", c.CompletionTokens)
	p.Line("  Estimated cost: %s", report.FormatCost(c.TotalCost))
	if c.Fallback {
		p.Warn("Model %q is not in the pricing table; priced as %s", c.RequestedModel, c.Model)
	}
}

func indent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func compact(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
