package usage

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/vnmchuo/gateway-ops/internal/logger"
)

var maxLineSize = 10 * 1024 * 1024

var (
	// fragmentPattern is greedy: it spans from the first '{' to the last '}'.
	// Nested objects work, but several sibling objects on one line will not.
	fragmentPattern   = regexp.MustCompile(`(?s)\{.*\}`)
	promptPattern     = regexp.MustCompile(`(?i)["']?prompt_tokens["']?\s*[:=]\s*(\d+)`)
	completionPattern = regexp.MustCompile(`(?i)["']?completion_tokens["']?\s*[:=]\s*(\d+)`)

	keywords = []string{"usage", "token", "prompt_tokens", "completion_tokens"}
)

// Candidate reports whether line mentions any usage keyword.
func Candidate(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// FromLine extracts usage from one line of log text.
func FromLine(line string) (Record, bool) {
	if !Candidate(line) {
		return Record{}, false
	}

	if fragment := fragmentPattern.FindString(line); fragment != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(fragment), &obj); err == nil && len(obj) > 0 {
			if r, ok := FromObject(obj); ok {
				return r, true
			}
			if hasTokenFields(obj) {
				return fromFields(obj), true
			}
			return Record{}, false
		}
	}

	return fromPatterns(line)
}

func fromPatterns(line string) (Record, bool) {
	pm := promptPattern.FindStringSubmatch(line)
	cm := completionPattern.FindStringSubmatch(line)
	if pm == nil && cm == nil {
		return Record{}, false
	}

	prompt, completion := matchedInt(pm), matchedInt(cm)

	r := New(prompt, completion)
	if r.TotalTokens <= 0 {
		return Record{}, false
	}
	return r, true
}

// matchedInt reads the captured digits of m. Values that do not fit an int
// count as unmatched.
func matchedInt(m []string) int {
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ScanLines returns every usage record found in r, in order. Lines longer
// than maxLineSize are skipped. Records found before a read error are
// returned along with it.
func ScanLines(r io.Reader) ([]Record, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		records  []Record
		line     []byte
		skipping bool
		skipped  int
	)
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if skipped > 0 {
				logger.Logger.Warn("skipped oversized log lines", zap.Int("lines", skipped))
			}
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, errors.Wrap(err, "scan log lines")
		}

		if !skipping {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				skipping = true
				line = line[:0]
			}
		}
		if more {
			continue
		}

		if skipping {
			skipped++
		} else if rec, ok := FromLine(string(line)); ok {
			records = append(records, rec)
		}
		line = line[:0]
		skipping = false
	}
}

// FromDocument reads a saved response file. The document may be a list of
// responses, an object holding a "results" list, or a single response.
func FromDocument(data []byte) ([]Record, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode response document")
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		if results, ok := v["results"].([]any); ok {
			items = results
		} else {
			items = []any{v}
		}
	default:
		return nil, errors.Errorf("unsupported response document of type %T", doc)
	}

	var records []Record
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if r, ok := FromObject(obj); ok {
			records = append(records, r)
		}
	}

	return records, nil
}
