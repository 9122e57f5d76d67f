// Package stub serves a local stand-in for the MLflow gateway. It answers
// chat invocations with canned completions and logs their usage in the
// format the tracker scrapes.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/zap"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/logger"
	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/usage"
	"github.com/vnmchuo/gateway-ops/pkg/ratelimit"
)

// Per-message overhead added to the prompt estimate.
const messageOverhead = 4

type chatRequest struct {
	Messages    []gateway.Message `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type Handler struct {
	calc    *pricing.Calculator
	model   string
	apiKey  string
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	metrics *metrics

	mu       sync.Mutex
	usageOut io.Writer
}

type Option func(*Handler)

// WithAPIKey requires "Authorization: Bearer <key>" on chat invocations
// served through Routes.
func WithAPIKey(key string) Option {
	return func(h *Handler) { h.apiKey = key }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithUsageWriter sets where usage={...} lines are written.
func WithUsageWriter(w io.Writer) Option {
	return func(h *Handler) { h.usageOut = w }
}

func NewHandler(calc *pricing.Calculator, model string, opts ...Option) *Handler {
	if calc == nil {
		calc = pricing.NewCalculator(nil)
	}
	h := &Handler{
		calc:     calc,
		model:    model,
		tracer:   noop.NewTracerProvider().Tracer("stub"),
		metrics:  newMetrics(),
		usageOut: io.Discard,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the chi router serving health, chat and metrics.
func (h *Handler) Routes(chatPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get(gateway.HealthPath, h.HandleHealth)
	r.Group(func(r chi.Router) {
		if h.apiKey != "" {
			r.Use(h.requireKey(h.apiKey))
		}
		r.Post(chatPath, h.HandleChat)
	})
	r.Method(http.MethodGet, "/metrics", h.metrics.handler())
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.latency.Observe(time.Since(start).Seconds()) }()

	ctx, span := h.tracer.Start(r.Context(), "stub.chat")
	defer span.End()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		h.fail(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, clientKey(ctx), 1)
		if err != nil || !allowed {
			h.setLimitHeaders(ctx, w)
			h.fail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	content := reply(req.Messages)
	rec := Estimate(req.Messages, content, req.MaxTokens)
	cost := h.calc.Cost(rec, h.model)
	id := "chatcmpl-" + uuid.New().String()

	span.SetAttributes(
		attribute.String("request_id", id),
		attribute.Int("prompt_tokens", rec.PromptTokens),
		attribute.Int("completion_tokens", rec.CompletionTokens),
	)

	h.metrics.requests.WithLabelValues("200").Inc()
	h.metrics.tokens.WithLabelValues("prompt").Add(float64(rec.PromptTokens))
	h.metrics.tokens.WithLabelValues("completion").Add(float64(rec.CompletionTokens))
	h.metrics.cost.Add(cost.TotalCost)
	h.logUsage(id, rec)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   h.model,
		"choices": []any{
			map[string]any{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": rec,
	})
}

// setLimitHeaders reports the caller's remaining budget. Retry-After falls
// back to a full window when the store cannot say when it resets.
func (h *Handler) setLimitHeaders(ctx context.Context, w http.ResponseWriter) {
	retry := "60"
	res, err := h.limiter.Status(ctx, clientKey(ctx))
	if err != nil {
		logger.Logger.Debug("rate limit status unavailable", zap.Error(err))
	} else if res != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if res.ResetAfter > 0 {
			retry = strconv.Itoa(int(math.Ceil(res.ResetAfter.Seconds())))
		}
	}
	w.Header().Set("Retry-After", retry)
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.metrics.requests.WithLabelValues(fmt.Sprint(status)).Inc()
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) logUsage(id string, rec usage.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Logger.Error("failed to encode usage", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.usageOut, "%s request_id=%s usage=%s\n", time.Now().UTC().Format(time.RFC3339), id, data)
}

// Estimate approximates usage from word counts. Every message costs its
// words plus a fixed overhead; the completion is capped by maxTokens when
// that is positive.
func Estimate(messages []gateway.Message, completion string, maxTokens int) usage.Record {
	prompt := 0
	for _, m := range messages {
		prompt += len(strings.Fields(m.Content)) + messageOverhead
	}

	out := len(strings.Fields(completion))
	if maxTokens > 0 && out > maxTokens {
		out = maxTokens
	}
	return usage.New(prompt, out)
}

func reply(messages []gateway.Message) string {
	last := messages[len(messages)-1].Content
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("This is a stub completion. You said: %s", last)
}

func clientKey(ctx context.Context) string {
	if id := ClientID(ctx); id != "" {
		return "stub:" + id
	}
	return "stub:anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
