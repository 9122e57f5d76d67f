package main

import (
	"context"
	"flag"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/vnmchuo/gateway-ops/internal/evaluate"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/report"
	"github.com/vnmchuo/gateway-ops/internal/verify"
)

func runVerify(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default GATEWAY_URL)")
	container := fs.String("container", a.cfg.Container, "docker container name")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	r := verify.New(a.gateway(*url), a.docker(), *container).Run(ctx)

	p := a.printer(report.WideWidth)
	p.Checks(r)
	p.VerifySummary(r)
	if !r.Operational() {
		return errReported
	}
	return nil
}

func runEvaluate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (default GATEWAY_URL)")
	testFile := fs.String("test-file", "", "JSON file with test cases")
	output := fs.String("output", "", "output file for results (JSON)")
	model := fs.String("model", a.cfg.DefaultModel, "model name for pricing")
	concurrency := fs.Int("concurrency", a.cfg.EvalConcurrency, "parallel requests")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	p := a.printer(report.WideWidth)

	cases := evaluate.DefaultCases()
	if *testFile != "" {
		loaded, err := evaluate.LoadCases(*testFile)
		if err != nil {
			p.Fail("Error: %v", err)
			p.Line("  Create a JSON file with test cases, example:")
			p.Line(`  [{"name": "Test", "messages": [{"role": "user", "content": "Hello"}]}]`)
			return errReported
		}
		cases = loaded
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}
	limiter, err := a.limiter(ctx)
	if err != nil {
		return err
	}
	store, err := a.store(ctx)
	if err != nil {
		logger.Logger.Warn("usage store unavailable, results will not be stored", zap.Error(err))
	}

	gw := a.gateway(*url)
	p.Title("MLflow Gateway Evaluation",
		"Gateway URL: "+gw.BaseURL(),
		"Timestamp: "+time.Now().Format("2006-01-02 15:04:05"))

	opts := []evaluate.Option{evaluate.WithLimiter(limiter), evaluate.WithConcurrency(*concurrency)}
	if store != nil {
		opts = append(opts, evaluate.WithStore(store))
	}
	runner := evaluate.NewRunner(gw, calc, *model, opts...)
	runner.OnResult = func(i int, tc evaluate.TestCase, res evaluate.CaseResult) {
		logger.Logger.Debug("case done",
			zap.Int("index", i+1),
			zap.String("name", tc.Name),
			zap.Bool("success", res.Success))
	}

	summary, err := runner.Run(ctx, cases)
	if err != nil {
		if errors.Is(err, evaluate.ErrUnhealthy) {
			p.Fail("Health check error: %v", err)
			p.Blank()
			p.Fail("Gateway health check failed. Exiting.")
			return errReported
		}
		return err
	}
	p.OK("Health check passed")

	for i, res := range summary.Results {
		p.EvalCase(i+1, cases[i], res)
	}
	p.EvalSummary(summary)

	if *output != "" {
		p.Blank()
		if err := summary.Save(*output); err != nil {
			p.Fail("Error saving results: %v", err)
			return errReported
		}
		p.OK("Results saved to %s", *output)
	}
	return nil
}
