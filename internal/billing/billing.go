package billing

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/vnmchuo/gateway-ops/internal/pricing"
)

// Usage sources.
const (
	SourceDockerLogs = "docker-logs"
	SourceLogFile    = "log-file"
	SourceResponses  = "response-file"
	SourceEvaluate   = "evaluate"
)

type UsageLog struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	Source           string    `json:"source"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	Fallback         bool      `json:"fallback"`
	CreatedAt        time.Time `json:"created_at"`
}

type Store interface {
	LogUsage(ctx context.Context, log *UsageLog) error
	ListUsage(ctx context.Context, from, to time.Time) ([]*UsageLog, error)
	TotalCost(ctx context.Context, from, to time.Time) (float64, error)
}

// NewUsageLog converts a priced record into a storable log entry.
func NewUsageLog(source, requestID string, c pricing.CostResult) *UsageLog {
	return &UsageLog{
		RequestID:        requestID,
		Source:           source,
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		TotalTokens:      c.TotalTokens,
		CostUSD:          c.TotalCost,
		Fallback:         c.Fallback,
	}
}

// LogAll stores every cost result of s under source. It stops at the first
// failure and reports how many were written.
func LogAll(ctx context.Context, store Store, source string, s Summary) (int, error) {
	for i, c := range s.Costs {
		if err := store.LogUsage(ctx, NewUsageLog(source, "", c)); err != nil {
			return i, errors.Wrapf(err, "store usage record %d", i+1)
		}
	}
	return len(s.Costs), nil
}
