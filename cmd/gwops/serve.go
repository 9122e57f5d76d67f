package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/Laisky/errors/v2"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/gateway-ops/internal/report"
	"github.com/vnmchuo/gateway-ops/internal/stub"
)

func runPricing(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("pricing", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}

	p := a.printer(report.WideWidth)
	p.Title("Pricing (USD per 1K tokens)")
	p.Pricing(calc.Table())
	return nil
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	since := fs.Duration("since", 24*time.Hour, "how far back to list stored usage")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("no usage store configured; set USAGE_STORE to sqlite or postgres")
	}

	to := time.Now()
	from := to.Add(-*since)
	logs, err := store.ListUsage(ctx, from, to)
	if err != nil {
		return err
	}
	total, err := store.TotalCost(ctx, from, to)
	if err != nil {
		return err
	}

	p := a.printer(report.WideWidth)
	p.Title("Stored Usage",
		"From: "+from.Format("2006-01-02 15:04:05"),
		"To: "+to.Format("2006-01-02 15:04:05"))
	p.History(logs, total)
	return nil
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.String("port", a.cfg.Port, "listen port")
	model := fs.String("model", a.cfg.DefaultModel, "model reported in completions")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}
	limiter, err := a.limiter(ctx)
	if err != nil {
		return err
	}

	h := stub.NewHandler(calc, *model,
		stub.WithAPIKey(a.cfg.StubAPIKey),
		stub.WithLimiter(limiter),
		stub.WithTracer(otel.GetTracerProvider().Tracer("gwops-stub")),
		stub.WithUsageWriter(os.Stdout),
	)
	return stub.Serve(ctx, ":"+*port, h.Routes(a.cfg.ChatEndpoint))
}
