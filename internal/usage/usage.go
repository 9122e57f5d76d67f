// Package usage locates token-usage records in gateway responses and log text.
//
// Nothing in this package returns a parse error for a single line or object:
// anything unrecognisable is simply "no usage". Only whole-document decoding
// and reader failures are reported.
package usage

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is a single request's token usage.
type Record struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// ReportedTotal holds the upstream total_tokens when it disagreed with
	// prompt+completion. TotalTokens always holds the derived sum.
	ReportedTotal int  `json:"reported_total,omitempty"`
	TotalMismatch bool `json:"total_mismatch,omitempty"`
}

// New builds a record with the total derived from its parts.
func New(prompt, completion int) Record {
	prompt = clamp(prompt)
	completion = clamp(completion)
	total := prompt + completion
	if total < 0 {
		total = math.MaxInt
	}
	return Record{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// FromObject looks for a "usage" object at the top level of obj, then inside
// the first element of "choices".
func FromObject(obj map[string]any) (Record, bool) {
	if obj == nil {
		return Record{}, false
	}

	if u, ok := obj["usage"].(map[string]any); ok {
		return fromFields(u), true
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return Record{}, false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return Record{}, false
	}
	if u, ok := first["usage"].(map[string]any); ok {
		return fromFields(u), true
	}

	return Record{}, false
}

// FromJSON decodes a single JSON object and applies FromObject.
func FromJSON(data []byte) (Record, bool) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return Record{}, false
	}
	return FromObject(obj)
}

// hasTokenFields reports whether obj is itself a bare usage object.
func hasTokenFields(obj map[string]any) bool {
	_, p := obj["prompt_tokens"]
	_, c := obj["completion_tokens"]
	return p || c
}

func fromFields(u map[string]any) Record {
	r := New(toInt(u["prompt_tokens"]), toInt(u["completion_tokens"]))

	raw, ok := u["total_tokens"]
	if !ok || raw == nil {
		return r
	}
	if reported := toInt(raw); reported != r.TotalTokens {
		r.ReportedTotal = reported
		r.TotalMismatch = true
	}
	return r
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		if n >= math.MaxInt {
			return math.MaxInt
		}
		return clamp(int(n))
	case int:
		return clamp(n)
	case int64:
		return clamp(int(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clamp(int(i))
		}
		if f, err := n.Float64(); err == nil {
			return clamp(int(f))
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return clamp(i)
		}
	}
	return 0
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
