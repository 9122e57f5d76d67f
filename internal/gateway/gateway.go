// Package gateway is an HTTP client for the MLflow AI Gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/gateway-ops/internal/usage"
)

const (
	DefaultChatPath = "/gateway/chat/invocations"
	HealthPath      = "/health"

	healthTimeout = 5 * time.Second
	maxBodySize   = 4 << 20
)

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// ChatResult describes one chat call. Transport failures are reported here
// with StatusCode 0 rather than as a Go error.
type ChatResult struct {
	RequestID    string         `json:"request_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Success      bool           `json:"success"`
	StatusCode   int            `json:"status_code"`
	ResponseTime float64        `json:"response_time"`
	Timestamp    string         `json:"timestamp"`
	Response     map[string]any `json:"response,omitempty"`
	Usage        *usage.Record  `json:"usage,omitempty"`
	Content      string         `json:"content,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type HealthResult struct {
	StatusCode int
	Body       any
}

type ProbeResult struct {
	StatusCode int
	Body       string
}

type Client struct {
	baseURL  string
	chatPath string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func WithChatPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.chatPath = path
		}
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		chatPath: DefaultChatPath,
		timeout:  timeout,
		http:     &http.Client{},
		tracer:   otel.GetTracerProvider().Tracer("gateway-ops"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.baseURL,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return c
}

func (c *Client) BaseURL() string  { return c.baseURL }
func (c *Client) ChatURL() string  { return c.baseURL + c.chatPath }
func (c *Client) ChatPath() string { return c.chatPath }

// BreakerOpen reports whether calls are currently short-circuited.
func (c *Client) BreakerOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

type rawResponse struct {
	status int
	body   []byte
}

// do sends the request through the circuit breaker. Only transport errors
// count against the breaker; any HTTP status is a completed call.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*rawResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}
		return &rawResponse{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*rawResponse), nil
}

// Health calls GET /health. A non-200 status returns the result and an error.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "gateway.health")
	defer span.End()

	raw, err := c.do(ctx, http.MethodGet, HealthPath, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, "health check")
	}
	span.SetAttributes(attribute.Int("http.status_code", raw.status))

	res := &HealthResult{StatusCode: raw.status, Body: string(raw.body)}
	var decoded any
	if json.Unmarshal(raw.body, &decoded) == nil {
		res.Body = decoded
	}

	if raw.status != http.StatusOK {
		return res, errors.Errorf("health check failed: %d", raw.status)
	}
	return res, nil
}

// Chat posts one chat request to the invocations endpoint.
func (c *Client) Chat(ctx context.Context, req ChatRequest) *ChatResult {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "gateway.chat")
	defer span.End()
	span.SetAttributes(
		attribute.Int("chat.messages", len(req.Messages)),
		attribute.Int("chat.max_tokens", req.MaxTokens),
	)

	start := time.Now()
	result := &ChatResult{Timestamp: start.Format(time.RFC3339)}

	raw, err := c.do(ctx, http.MethodPost, c.chatPath, req)
	result.ResponseTime = time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Error = err.Error()
		if isTimeout(err) {
			result.Error = fmt.Sprintf("Request timeout after %ds", int(c.timeout.Seconds()))
			result.ResponseTime = c.timeout.Seconds()
		}
		return result
	}

	result.StatusCode = raw.status
	span.SetAttributes(attribute.Int("http.status_code", raw.status))

	if raw.status != http.StatusOK {
		result.Error = string(raw.body)
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", raw.status))
		return result
	}

	var data map[string]any
	if err := json.Unmarshal(raw.body, &data); err != nil {
		result.Error = errors.Wrap(err, "decode gateway response").Error()
		span.RecordError(err)
		return result
	}

	result.Success = true
	result.Response = data
	if u, ok := usage.FromObject(data); ok {
		result.Usage = &u
		span.SetAttributes(
			attribute.Int("usage.prompt_tokens", u.PromptTokens),
			attribute.Int("usage.completion_tokens", u.CompletionTokens),
		)
	}
	result.Content = contentOf(data)

	return result
}

// Probe sends an arbitrary request and returns the status and body text.
func (c *Client) Probe(ctx context.Context, method, path string, payload any) (*ProbeResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.probe")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	raw, err := c.do(ctx, method, path, payload)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrapf(err, "probe %s %s", method, path)
	}
	return &ProbeResult{StatusCode: raw.status, Body: string(raw.body)}, nil
}

func contentOf(data map[string]any) string {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
