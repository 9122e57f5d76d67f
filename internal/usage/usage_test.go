package usage

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromObject_TopLevel(t *testing.T) {
	r, ok := FromJSON([]byte(`{"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	require.True(t, ok)
	assert.Equal(t, Record{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, r)
}

func TestFromObject_InsideFirstChoice(t *testing.T) {
	r, ok := FromJSON([]byte(`{"choices":[{"message":{"content":"hi"},"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}]}`))
	require.True(t, ok)
	assert.Equal(t, 7, r.TotalTokens)
	assert.False(t, r.TotalMismatch)
}

func TestFromObject_NotFound(t *testing.T) {
	for _, doc := range []string{
		`{}`,
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":"x"}}]}`,
		`{"choices":["text"]}`,
		`{"usage":null}`,
		`not json`,
	} {
		_, ok := FromJSON([]byte(doc))
		assert.False(t, ok, doc)
	}
}

func TestFromObject_TotalMismatchPrefersDerivedSum(t *testing.T) {
	r, ok := FromJSON([]byte(`{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":99}}`))
	require.True(t, ok)
	assert.Equal(t, 15, r.TotalTokens)
	assert.Equal(t, 99, r.ReportedTotal)
	assert.True(t, r.TotalMismatch)
}

func TestFromObject_ClampsAndTruncates(t *testing.T) {
	r, ok := FromJSON([]byte(`{"usage":{"prompt_tokens":-4,"completion_tokens":2.9}}`))
	require.True(t, ok)
	assert.Equal(t, 0, r.PromptTokens)
	assert.Equal(t, 2, r.CompletionTokens)
	assert.Equal(t, 2, r.TotalTokens)
}

func TestFromLine_EmbeddedJSON(t *testing.T) {
	r, ok := FromLine(`level=info usage={"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}`)
	require.True(t, ok)
	assert.Equal(t, Record{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, r)
}

func TestFromLine_ResponseBody(t *testing.T) {
	r, ok := FromLine(`INFO response {"id":"x","usage":{"prompt_tokens":1,"completion_tokens":2}}`)
	require.True(t, ok)
	assert.Equal(t, 3, r.TotalTokens)
}

func TestFromLine_RegexFallback(t *testing.T) {
	r, ok := FromLine(`prompt_tokens=5 completion_tokens=0`)
	require.True(t, ok)
	assert.Equal(t, Record{PromptTokens: 5, CompletionTokens: 0, TotalTokens: 5}, r)
}

func TestFromLine_RegexFallbackOnBrokenJSON(t *testing.T) {
	r, ok := FromLine(`usage {'Prompt_Tokens': 7, 'completion_tokens': 3`)
	require.True(t, ok)
	assert.Equal(t, 10, r.TotalTokens)

	r, ok = FromLine(`tokens {broken} "completion_tokens": 9`)
	require.True(t, ok)
	assert.Equal(t, Record{CompletionTokens: 9, TotalTokens: 9}, r)
}

func TestFromLine_RegexZeroSumIgnored(t *testing.T) {
	_, ok := FromLine(`prompt_tokens=0 completion_tokens=0`)
	assert.False(t, ok)
}

func TestFromLine_ParsedJSONWithoutUsage(t *testing.T) {
	_, ok := FromLine(`token refresh {"user":"bob"}`)
	assert.False(t, ok)
}

func TestFromLine_PreFilter(t *testing.T) {
	assert.False(t, Candidate(`GET /health 200 {"prompt":"x"}`))
	_, ok := FromLine(`GET /health 200 {"prompt":"x"}`)
	assert.False(t, ok)

	assert.True(t, Candidate("USAGE report"))
	assert.True(t, Candidate("Tokens left"))
}

func TestScanLines(t *testing.T) {
	logs := strings.Join([]string{
		`[2024-01-01] Starting gunicorn`,
		`usage={"prompt_tokens": 12, "completion_tokens": 8}`,
		`garbage {{{ token`,
		`prompt_tokens: 4, completion_tokens: 6`,
		``,
	}, "\n")

	records, err := ScanLines(strings.NewReader(logs))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 20, records[0].TotalTokens)
	assert.Equal(t, 10, records[1].TotalTokens)
}

func TestScanLines_SkipsOversizedLine(t *testing.T) {
	old := maxLineSize
	maxLineSize = 100 * 1024
	t.Cleanup(func() { maxLineSize = old })

	logs := strings.Join([]string{
		`usage={"prompt_tokens": 1, "completion_tokens": 1}`,
		"token " + strings.Repeat("x", 200*1024),
		`usage={"prompt_tokens": 2, "completion_tokens": 3}`,
	}, "\n")

	records, err := ScanLines(strings.NewReader(logs))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].TotalTokens)
	assert.Equal(t, 5, records[1].TotalTokens)
}

func TestScanLines_LongLineUnderLimit(t *testing.T) {
	line := `usage={"prompt_tokens": 7, "completion_tokens": 1} ` + strings.Repeat("y", 150*1024)

	records, err := ScanLines(strings.NewReader(line + "\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 8, records[0].TotalTokens)
}

func TestFromLine_EmptyObjectFallsBackToRegex(t *testing.T) {
	r, ok := FromLine(`usage={} prompt_tokens=5 completion_tokens=3`)
	require.True(t, ok)
	assert.Equal(t, New(5, 3), r)
}

func TestFromLine_OutOfRangeCountIgnored(t *testing.T) {
	r, ok := FromLine(`prompt_tokens=99999999999999999999 completion_tokens=3`)
	require.True(t, ok)
	assert.Equal(t, 0, r.PromptTokens)
	assert.Equal(t, 3, r.TotalTokens)
}

func TestNew_SaturatesTotal(t *testing.T) {
	r := New(math.MaxInt, 5)
	assert.Equal(t, math.MaxInt, r.TotalTokens)
}

type failingReader struct{ sent bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errors.New("boom")
	}
	f.sent = true
	return copy(p, "prompt_tokens=1\n"), nil
}

func TestScanLines_ReadError(t *testing.T) {
	records, err := ScanLines(&failingReader{})
	require.Error(t, err)
	require.Len(t, records, 1)
}

func TestFromDocument_Shapes(t *testing.T) {
	list := `[{"usage":{"prompt_tokens":1,"completion_tokens":1}},{"choices":[{"usage":{"prompt_tokens":2,"completion_tokens":2}}]},{"error":"x"},"skip"]`
	records, err := FromDocument([]byte(list))
	require.NoError(t, err)
	require.Len(t, records, 2)

	results := `{"total_requests":2,"results":[{"success":true,"usage":{"prompt_tokens":5,"completion_tokens":5}},{"success":false}]}`
	records, err = FromDocument([]byte(results))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].TotalTokens)

	single := `{"usage":{"prompt_tokens":3,"completion_tokens":0}}`
	records, err = FromDocument([]byte(single))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestFromDocument_Invalid(t *testing.T) {
	_, err := FromDocument([]byte(`{`))
	require.Error(t, err)

	_, err = FromDocument([]byte(`42`))
	require.Error(t, err)
}
