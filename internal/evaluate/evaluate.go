// Package evaluate runs a batch of chat test cases against a gateway and
// prices the usage they report.
package evaluate

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/gateway-ops/internal/billing"
	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/pkg/ratelimit"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

var ErrUnhealthy = errors.New("gateway health check failed")

type TestCase struct {
	Name        string            `json:"name"`
	Messages    []gateway.Message `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
}

func (tc TestCase) request() gateway.ChatRequest {
	req := gateway.ChatRequest{
		Messages:    tc.Messages,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if tc.Temperature != nil {
		req.Temperature = *tc.Temperature
	}
	if tc.MaxTokens != nil {
		req.MaxTokens = *tc.MaxTokens
	}
	return req
}

func DefaultCases() []TestCase {
	temp := 0.7
	short, long := 200, 300
	return []TestCase{
		{
			Name:        "Simple Question",
			Messages:    []gateway.Message{{Role: "user", Content: "What is artificial intelligence?"}},
			Temperature: &temp,
			MaxTokens:   &short,
		},
		{
			Name: "Multi-turn Conversation",
			Messages: []gateway.Message{
				{Role: "user", Content: "Explain machine learning"},
				{Role: "assistant", Content: "Machine learning is a method of data analysis."},
				{Role: "user", Content: "Give me a practical example"},
			},
			Temperature: &temp,
			MaxTokens:   &long,
		},
	}
}

// LoadCases reads a JSON array of test cases.
func LoadCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read test file %s", path)
	}

	var cases []TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON in test file %s", path)
	}
	for i, tc := range cases {
		if tc.Name == "" {
			cases[i].Name = "Test " + strconv.Itoa(i+1)
		}
	}
	return cases, nil
}

// CaseResult is a chat result with its price, when usage was reported.
type CaseResult struct {
	gateway.ChatResult
	Cost *pricing.CostResult `json:"cost,omitempty"`
}

type Summary struct {
	TotalRequests int          `json:"total_requests"`
	Successful    int          `json:"successful"`
	Failed        int          `json:"failed"`
	TotalCost     float64      `json:"total_cost"`
	AverageCost   float64      `json:"average_cost"`
	Model         string       `json:"model"`
	Results       []CaseResult `json:"results"`
}

// Save writes the summary as indented JSON.
func (s *Summary) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode evaluation summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

type Gateway interface {
	Health(ctx context.Context) (*gateway.HealthResult, error)
	Chat(ctx context.Context, req gateway.ChatRequest) *gateway.ChatResult
}

type Runner struct {
	gw          Gateway
	calc        *pricing.Calculator
	limiter     *ratelimit.Limiter
	store       billing.Store
	model       string
	concurrency int

	// OnResult, when set, is called from the worker goroutine after each case
	// completes. It must be safe for concurrent use when concurrency > 1.
	OnResult func(index int, tc TestCase, res CaseResult)
}

type Option func(*Runner)

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

func WithStore(s billing.Store) Option {
	return func(r *Runner) { r.store = s }
}

func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewRunner(gw Gateway, calc *pricing.Calculator, model string, opts ...Option) *Runner {
	r := &Runner{
		gw:          gw,
		calc:        calc,
		model:       model,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run checks gateway health, then sends every case. Results keep case order.
func (r *Runner) Run(ctx context.Context, cases []TestCase) (*Summary, error) {
	if _, err := r.gw.Health(ctx); err != nil {
		return nil, errors.Wrap(ErrUnhealthy, err.Error())
	}

	results := make([]CaseResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, tc := range cases {
		g.Go(func() error {
			if r.limiter != nil {
				if err := r.limiter.Wait(gctx, "evaluate"); err != nil {
					return errors.Wrap(err, "wait for rate limiter")
				}
			}

			res := CaseResult{ChatResult: *r.gw.Chat(gctx, tc.request())}
			res.RequestID = uuid.New().String()
			res.Name = tc.Name
			if res.Success && res.Usage != nil {
				c := r.calc.Cost(*res.Usage, r.model)
				res.Cost = &c
			}
			results[i] = res

			logger.Logger.Debug("evaluation case finished",
				zap.String("case", tc.Name),
				zap.Int("status", res.StatusCode),
				zap.Bool("success", res.Success))
			if r.OnResult != nil {
				r.OnResult(i, tc, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := r.summarize(results)
	r.persist(ctx, s)
	return s, nil
}

func (r *Runner) summarize(results []CaseResult) *Summary {
	s := &Summary{
		TotalRequests: len(results),
		Model:         r.model,
		Results:       results,
	}
	for _, res := range results {
		if !res.Success {
			continue
		}
		s.Successful++
		if res.Cost != nil {
			s.TotalCost += res.Cost.TotalCost
		}
	}
	s.Failed = s.TotalRequests - s.Successful
	if s.Successful > 0 {
		s.AverageCost = s.TotalCost / float64(s.Successful)
	}
	return s
}

func (r *Runner) persist(ctx context.Context, s *Summary) {
	if r.store == nil {
		return
	}
	for _, res := range s.Results {
		if res.Cost == nil {
			continue
		}
		if err := r.store.LogUsage(ctx, billing.NewUsageLog(billing.SourceEvaluate, res.RequestID, *res.Cost)); err != nil {
			logger.Logger.Warn("failed to store evaluation usage",
				zap.String("request_id", res.RequestID),
				zap.Error(err))
		}
	}
}
