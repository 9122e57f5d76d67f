// Command gwops checks, exercises and prices an MLflow AI Gateway deployment.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/vnmchuo/gateway-ops/config"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/telemetry"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("command failed")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"health", "check the gateway health endpoint", runHealth},
	{"test", "run the canned API test suite", runTest},
	{"chat", "send one chat message", runChat},
	{"verify", "run the five deployment checks", runVerify},
	{"evaluate", "run test cases and price their usage", runEvaluate},
	{"track", "scrape usage from container logs or a log file", runTrack},
	{"analyze", "analyze usage from a response file, log file or container", runAnalyze},
	{"pricing", "print the effective pricing table", runPricing},
	{"history", "print usage recorded in the usage store", runHistory},
	{"serve", "run the local stub gateway", runServe},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errReported) {
			logger.Logger.Error("gwops failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errReported
	}

	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(out)
		return nil
	}

	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage(os.Stderr)
		return errReported
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	logger.SetDebug(cfg.Debug)

	shutdownTracer, err := telemetry.InitTracer("gwops", cfg)
	if err != nil {
		return errors.Wrap(err, "init tracer")
	}
	defer shutdownTracer()

	a := newApp(cfg, out)
	defer a.Close()

	return cmd.run(ctx, a, args[1:])
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: gwops <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'gwops <command> -h' for command flags.")
}
