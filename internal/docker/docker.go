// Package docker reads container state and logs through the docker CLI.
package docker

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
)

var (
	ErrDockerNotFound = errors.New("docker not found")
	ErrTimeout        = errors.New("timeout running docker")
)

// Runner executes the docker binary. It returns stdout, stderr and the
// command's error.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	binary string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Client struct {
	runner  Runner
	timeout time.Duration
}

// New returns a client that runs the docker binary found on PATH.
func New(timeout time.Duration) *Client {
	return NewWithRunner(execRunner{binary: "docker"}, timeout)
}

func NewWithRunner(r Runner, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{runner: r, timeout: timeout}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.runner.Run(ctx, args...)
	switch {
	case err == nil:
		return stdout, stderr, nil
	case errors.Is(err, exec.ErrNotFound):
		return nil, nil, ErrDockerNotFound
	case ctx.Err() == context.DeadlineExceeded:
		return nil, nil, ErrTimeout
	}

	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = err.Error()
	}
	return stdout, stderr, errors.Errorf("docker %s: %s", args[0], msg)
}

// Logs returns the last tail lines of the container's output. Docker writes
// application stderr to its own stderr, so both streams are returned.
func (c *Client) Logs(ctx context.Context, container string, tail int) (string, error) {
	stdout, stderr, err := c.run(ctx, "logs", container, "--tail", strconv.Itoa(tail))
	if err != nil {
		return "", err
	}

	if len(stderr) == 0 {
		return string(stdout), nil
	}
	if len(stdout) == 0 {
		return string(stderr), nil
	}
	return string(stdout) + "\n" + string(stderr), nil
}

// Health is a coarse reading of `docker ps` status text.
type Health string

const (
	HealthHealthy    Health = "healthy"
	HealthRunning    Health = "running"
	HealthRestarting Health = "restarting"
	HealthUnknown    Health = "unknown"
)

type Container struct {
	Name   string
	Status string
}

func (c Container) Health() Health {
	switch {
	case strings.Contains(c.Status, "Up") && strings.Contains(c.Status, "healthy") && !strings.Contains(c.Status, "unhealthy"):
		return HealthHealthy
	case strings.Contains(c.Status, "Up"):
		return HealthRunning
	case strings.Contains(c.Status, "Restarting"):
		return HealthRestarting
	default:
		return HealthUnknown
	}
}

// Containers lists running containers whose name matches filter.
func (c *Client) Containers(ctx context.Context, filter string) ([]Container, error) {
	stdout, _, err := c.run(ctx, "ps", "--filter", "name="+filter, "--format", "{{.Names}}\t{{.Status}}")
	if err != nil {
		return nil, err
	}
	return parseContainers(string(stdout)), nil
}

func parseContainers(out string) []Container {
	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		containers = append(containers, Container{Name: parts[0], Status: strings.TrimSpace(parts[1])})
	}
	return containers
}
