package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/vnmchuo/gateway-ops/internal/billing"
	"github.com/vnmchuo/gateway-ops/internal/docker"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/report"
	"github.com/vnmchuo/gateway-ops/internal/usage"
)

const (
	trackBreakdownLimit   = 10
	analyzeBreakdownLimit = 20
	defaultTail           = 1000
)

type scanFlags struct {
	container string
	model     string
	logFile   string
	tail      int
}

func (f *scanFlags) register(fs *flag.FlagSet, a *app) {
	fs.StringVar(&f.container, "container", a.cfg.Container, "docker container name")
	fs.StringVar(&f.model, "model", a.cfg.DefaultModel, "model name for pricing")
	fs.StringVar(&f.logFile, "log-file", "", "path to log file (alternative to docker logs)")
	fs.IntVar(&f.tail, "tail", defaultTail, "number of log lines to analyze")
}

func runTrack(ctx context.Context, a *app, args []string) error {
	var sf scanFlags
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	sf.register(fs, a)
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}
	p := a.printer(report.NarrowWidth)

	if sf.logFile != "" {
		records, err := scanFile(sf.logFile)
		if err != nil {
			p.Line("Log file not found: %s", sf.logFile)
			return errReported
		}
		if len(records) == 0 {
			return nil
		}
		s := billing.Aggregate(records, sf.model, calc)
		a.persist(ctx, billing.SourceLogFile, s)
		return p.JSON(s)
	}

	p.Title("MLflow Gateway Cost Tracking", trackerHeader(sf)...)
	records, err := scanDocker(ctx, a.docker(), sf.container, sf.tail)
	if err != nil {
		printDockerError(p, err)
		return errReported
	}
	if len(records) == 0 {
		p.Blank()
		p.Line("No usage data found in logs.")
		p.Line("Note: Enable logging in MLflow Gateway config to track costs.")
		return nil
	}

	s := billing.Aggregate(records, sf.model, calc)
	p.CostSummary(s)
	p.Breakdown(s.Costs, trackBreakdownLimit)
	a.persist(ctx, billing.SourceDockerLogs, s)
	return nil
}

func runAnalyze(ctx context.Context, a *app, args []string) error {
	var sf scanFlags
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	sf.register(fs, a)
	responseFile := fs.String("response-file", "", "path to response JSON file")
	if err := fs.Parse(args); err != nil {
		return errReported
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}
	p := a.printer(report.WideWidth)

	var (
		records []usage.Record
		source  string
	)
	switch {
	case *responseFile != "":
		data, err := os.ReadFile(*responseFile)
		if err != nil {
			p.Fail("File not found: %s", *responseFile)
			p.Line("  Make sure the file exists and path is correct")
			return errReported
		}
		records, err = usage.FromDocument(data)
		if err != nil {
			p.Fail("Invalid JSON file: %s", *responseFile)
			p.Line("  Error: %v", err)
			return errReported
		}
		if len(records) == 0 {
			p.Warn("No usage data found in file")
			return nil
		}
		p.Title("Cost Analysis from Response File")
		source = billing.SourceResponses
	case sf.logFile != "":
		p.Title("MLflow Gateway Cost Analysis", "Log file: "+sf.logFile, "Model: "+sf.model)
		records, err = scanFile(sf.logFile)
		if err != nil {
			p.Fail("Error: %v", err)
			return errReported
		}
		source = billing.SourceLogFile
	default:
		p.Title("MLflow Gateway Cost Analysis", trackerHeader(sf)...)
		records, err = scanDocker(ctx, a.docker(), sf.container, sf.tail)
		if err != nil {
			printDockerError(p, err)
			return errReported
		}
		source = billing.SourceDockerLogs
	}

	if len(records) == 0 {
		p.NoUsage()
		return nil
	}

	s := billing.Aggregate(records, sf.model, calc)
	p.CostSummary(s)
	p.Breakdown(s.Costs, analyzeBreakdownLimit)
	a.persist(ctx, source, s)
	return nil
}

func trackerHeader(sf scanFlags) []string {
	return []string{
		"Container: " + sf.container,
		"Model: " + sf.model,
		"Timestamp: " + time.Now().Format("2006-01-02 15:04:05"),
	}
}

func scanFile(path string) ([]usage.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	defer f.Close()

	records, err := usage.ScanLines(f)
	if err != nil {
		logger.Logger.Warn("log file read stopped early",
			zap.String("path", path),
			zap.Int("records", len(records)),
			zap.Error(err))
	}
	return records, nil
}

func scanDocker(ctx context.Context, d *docker.Client, container string, tail int) ([]usage.Record, error) {
	logs, err := d.Logs(ctx, container, tail)
	if err != nil {
		return nil, err
	}

	records, err := usage.ScanLines(strings.NewReader(logs))
	if err != nil {
		logger.Logger.Warn("container log scan stopped early",
			zap.String("container", container),
			zap.Int("records", len(records)),
			zap.Error(err))
	}
	return records, nil
}

func printDockerError(p *report.Printer, err error) {
	switch {
	case errors.Is(err, docker.ErrTimeout):
		p.Fail("Error: Timeout getting logs")
	case errors.Is(err, docker.ErrDockerNotFound):
		p.Fail("Error: Docker not found. Make sure Docker is installed and accessible.")
	default:
		p.Fail("Error getting logs: %v", err)
	}
}
