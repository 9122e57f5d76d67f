// Package verify runs structural checks against a gateway without needing
// upstream API quota.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/vnmchuo/gateway-ops/internal/docker"
	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/logger"
)

type Status int

const (
	StatusInfo Status = iota
	StatusPass
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "info"
	}
}

type Line struct {
	Status Status
	Text   string
}

type Check struct {
	Name   string
	Title  string
	Status Status
	Lines  []Line
}

func (c *Check) add(s Status, format string, args ...any) {
	c.Lines = append(c.Lines, Line{Status: s, Text: fmt.Sprintf(format, args...)})
	if s > c.Status {
		c.Status = s
	}
}

type Report struct {
	Checks []Check
}

// Operational reports whether the gateway passed its health check.
func (r Report) Operational() bool {
	for _, c := range r.Checks {
		if c.Name == "health" {
			return c.Status == StatusPass
		}
	}
	return false
}

type Gateway interface {
	Health(ctx context.Context) (*gateway.HealthResult, error)
	Probe(ctx context.Context, method, path string, payload any) (*gateway.ProbeResult, error)
	ChatPath() string
}

type Docker interface {
	Containers(ctx context.Context, filter string) ([]docker.Container, error)
	Logs(ctx context.Context, container string, tail int) (string, error)
}

type Verifier struct {
	gw        Gateway
	docker    Docker
	container string
}

func New(gw Gateway, d Docker, container string) *Verifier {
	return &Verifier{gw: gw, docker: d, container: container}
}

// Run executes every check in order. Later checks run even when health fails.
func (v *Verifier) Run(ctx context.Context) Report {
	checks := []func(context.Context) Check{
		v.Health,
		v.Endpoints,
		v.Configuration,
		v.Container,
		v.Logs,
	}

	var r Report
	for _, run := range checks {
		c := run(ctx)
		logger.Logger.Debug("verify check finished",
			zap.String("check", c.Name),
			zap.String("status", c.Status.String()))
		r.Checks = append(r.Checks, c)
	}
	return r
}

func (v *Verifier) Health(ctx context.Context) Check {
	c := Check{Name: "health", Title: "1. Health Check"}

	res, err := v.gw.Health(ctx)
	switch {
	case err == nil:
		c.add(StatusPass, "Health check passed: %v", res.Body)
	case res != nil:
		c.add(StatusFail, "Health check failed: %d", res.StatusCode)
	default:
		c.add(StatusFail, "Health check error: %v", err)
	}
	return c
}

func (v *Verifier) Endpoints(ctx context.Context) Check {
	c := Check{Name: "endpoints", Title: "2. Endpoint Verification"}

	probes := []struct {
		method  string
		path    string
		payload any
	}{
		{http.MethodGet, gateway.HealthPath, nil},
		{http.MethodPost, v.gw.ChatPath(), map[string]any{"messages": []any{}}},
	}

	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res, err := v.gw.Probe(pctx, p.method, p.path, p.payload)
		cancel()

		switch {
		case err != nil && gateway.IsTimeout(err):
			c.add(StatusWarn, "Endpoint: %s (Error: timeout)", p.path)
		case err != nil:
			c.add(StatusFail, "Cannot connect to: %s", p.path)
		case endpointExists(res.StatusCode):
			c.add(StatusPass, "Endpoint exists: %s (Status: %d)", p.path, res.StatusCode)
		default:
			c.add(StatusWarn, "Endpoint: %s (Status: %d)", p.path, res.StatusCode)
		}
	}
	return c
}

func endpointExists(status int) bool {
	switch status {
	case http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests:
		return true
	}
	return false
}

func (v *Verifier) Configuration(ctx context.Context) Check {
	c := Check{Name: "configuration", Title: "3. Configuration Check"}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "test"}},
	}
	res, err := v.gw.Probe(pctx, http.MethodPost, v.gw.ChatPath(), payload)
	if err != nil {
		if gateway.IsTimeout(err) {
			c.add(StatusWarn, "Request timeout - Gateway might be slow or unresponsive")
		} else {
			c.add(StatusWarn, "Error checking configuration: %v", err)
		}
		return c
	}

	switch res.StatusCode {
	case http.StatusOK:
		c.add(StatusPass, "Configuration valid - Gateway can process requests")
		if strings.Contains(res.Body, `"choices"`) || strings.Contains(res.Body, `"usage"`) {
			c.add(StatusPass, "Response structure is correct")
		}
	case http.StatusUnauthorized:
		c.add(StatusPass, "Configuration valid - API key authentication working")
		c.add(StatusInfo, "(401 means API key is being checked, config is OK)")
	case http.StatusTooManyRequests:
		c.add(StatusPass, "Configuration valid - Rate limiting working")
		c.add(StatusInfo, "(429 means gateway is processing requests correctly)")
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(res.Body), "quota") {
			c.add(StatusPass, "Configuration valid - Gateway connected to upstream provider")
			c.add(StatusInfo, "(Quota error means API key is valid and gateway is working)")
		} else {
			c.add(StatusWarn, "Configuration issue: %s", truncate(res.Body, 100))
		}
	default:
		c.add(StatusWarn, "Unexpected status: %d", res.StatusCode)
		c.add(StatusInfo, "Response: %s", truncate(res.Body, 200))
	}
	return c
}

func (v *Verifier) Container(ctx context.Context) Check {
	c := Check{Name: "container", Title: "4. Container Status Check"}

	containers, err := v.docker.Containers(ctx, v.container)
	if err != nil {
		if errors.Is(err, docker.ErrDockerNotFound) {
			c.add(StatusWarn, "Docker not found - cannot check container status")
		} else {
			c.add(StatusWarn, "Error checking container: %v", err)
		}
		return c
	}

	found := false
	for _, ct := range containers {
		if !strings.Contains(ct.Name, v.container) {
			continue
		}
		found = true
		c.add(StatusPass, "Container: %s", ct.Name)
		c.add(StatusInfo, "Status: %s", ct.Status)
		switch ct.Health() {
		case docker.HealthHealthy:
			c.add(StatusPass, "Container is healthy")
		case docker.HealthRunning:
			c.add(StatusWarn, "Container is running but not yet healthy")
		case docker.HealthRestarting:
			c.add(StatusFail, "Container is restarting (check logs)")
		}
	}

	if !found {
		c.add(StatusWarn, "Container not found or not running")
		c.add(StatusInfo, "Run: docker ps --filter name=%s", v.container)
	}
	return c
}

func (v *Verifier) Logs(ctx context.Context) Check {
	c := Check{Name: "logs", Title: "5. Logs Check"}

	logs, err := v.docker.Logs(ctx, v.container, 10)
	if err != nil {
		if errors.Is(err, docker.ErrDockerNotFound) {
			c.add(StatusWarn, "Docker not found - cannot check logs")
		} else {
			c.add(StatusWarn, "Cannot access logs")
		}
		return c
	}

	if strings.Contains(logs, "OPENAI_API_KEY is set") {
		c.add(StatusPass, "API key is loaded in container")
	}
	if strings.Contains(logs, "Created config.yaml") {
		c.add(StatusPass, "Configuration file created successfully")
	}
	if strings.Contains(logs, "Starting gunicorn") || strings.Contains(logs, "Application startup complete") {
		c.add(StatusPass, "Gateway server started successfully")
	}

	if errs := errorLines(logs); len(errs) > 0 {
		c.add(StatusWarn, "Found errors in logs: %d lines", len(errs))
		c.add(StatusInfo, "Last error: %s", truncate(errs[len(errs)-1], 100))
	}

	c.add(StatusPass, "Logs are accessible")
	return c
}

func errorLines(logs string) []string {
	var out []string
	for _, line := range strings.Split(logs, "\n") {
		if strings.Contains(strings.ToLower(line), "error") && !strings.Contains(line, "OPENAI_API_KEY") {
			out = append(out, line)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
