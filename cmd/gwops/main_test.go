package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/gateway-ops/config"
	"github.com/vnmchuo/gateway-ops/internal/docker"
	"github.com/vnmchuo/gateway-ops/internal/gateway"
	"github.com/vnmchuo/gateway-ops/internal/stub"
)

func testApp(t *testing.T, out *bytes.Buffer) *app {
	t.Helper()
	t.Setenv("USAGE_STORE", "none")
	t.Setenv("OTEL_EXPORTER_TYPE", "none")
	cfg, err := config.Load()
	require.NoError(t, err)
	a := newApp(cfg, out)
	t.Cleanup(a.Close)
	return a
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"nope"}, &out)
	assert.ErrorIs(t, err, errReported)
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	for _, c := range commands {
		assert.Contains(t, out.String(), c.name)
	}
}

func TestTrack_LogFilePrintsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		`INFO started`,
		`INFO response {"usage": {"prompt_tokens": 1000, "completion_tokens": 1000, "total_tokens": 2000}}`,
		`DEBUG prompt_tokens=10 completion_tokens=5`,
	}, "\n")), 0o644))

	var out bytes.Buffer
	a := testApp(t, &out)
	require.NoError(t, runTrack(context.Background(), a, []string{"--log-file", path, "--model", "gpt-4"}))

	var s map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.EqualValues(t, 2, s["request_count"])
	assert.EqualValues(t, 1010, s["total_prompt_tokens"])
	assert.Equal(t, "gpt-4", s["model"])
}

func TestTrack_MissingLogFile(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	err := runTrack(context.Background(), a, []string{"--log-file", filepath.Join(t.TempDir(), "missing.log")})
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out.String(), "Log file not found")
}

func TestAnalyze_ResponseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"results": [
		{"usage": {"prompt_tokens": 100, "completion_tokens": 50}},
		{"choices": [{"usage": {"prompt_tokens": 10, "completion_tokens": 5}}]},
		{"error": "quota"}
	]}`), 0o644))

	var out bytes.Buffer
	a := testApp(t, &out)
	require.NoError(t, runAnalyze(context.Background(), a, []string{"--response-file", path}))

	assert.Contains(t, out.String(), "Cost Analysis from Response File")
	assert.Contains(t, out.String(), "Total Requests: 2")
	assert.Contains(t, out.String(), "Total Tokens: 165")
}

func TestAnalyze_InvalidResponseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"results": [`), 0o644))

	var out bytes.Buffer
	a := testApp(t, &out)
	err := runAnalyze(context.Background(), a, []string{"--response-file", path})
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out.String(), "Invalid JSON file")
}

func TestPricingCommand(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	require.NoError(t, runPricing(context.Background(), a, nil))
	assert.Contains(t, out.String(), "gpt-4o")
}

func TestHistory_NoStore(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	require.Error(t, runHistory(context.Background(), a, nil))
}

func TestChatAgainstStub(t *testing.T) {
	srv := httptest.NewServer(stub.NewHandler(nil, "gpt-3.5-turbo").Routes(gateway.DefaultChatPath))
	defer srv.Close()

	var out bytes.Buffer
	a := testApp(t, &out)
	require.NoError(t, runChat(context.Background(), a, []string{"--url", srv.URL, "--message", "hello there"}))

	assert.Contains(t, out.String(), "Response Status: 200")
	assert.Contains(t, out.String(), "Prompt tokens: 6")
	assert.Contains(t, out.String(), "Estimated cost: $")
}

func TestEvaluateAgainstStub(t *testing.T) {
	srv := httptest.NewServer(stub.NewHandler(nil, "gpt-3.5-turbo").Routes(gateway.DefaultChatPath))
	defer srv.Close()

	output := filepath.Join(t.TempDir(), "results.json")
	var out bytes.Buffer
	a := testApp(t, &out)
	require.NoError(t, runEvaluate(context.Background(), a, []string{"--url", srv.URL, "--output", output}))

	assert.Contains(t, out.String(), "Test 1: Simple Question")
	assert.Contains(t, out.String(), "Successful: 2")

	out.Reset()
	require.NoError(t, runAnalyze(context.Background(), a, []string{"--response-file", output}))
	assert.Contains(t, out.String(), "Total Requests: 2")
}

func TestEvaluate_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(stub.NewHandler(nil, "gpt-3.5-turbo").Routes("/other"))
	srv.Close()

	var out bytes.Buffer
	a := testApp(t, &out)
	err := runEvaluate(context.Background(), a, []string{"--url", srv.URL})
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out.String(), "Gateway health check failed. Exiting.")
}

type logsRunner struct{ logs string }

func (r logsRunner) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return []byte(r.logs), nil, nil
}

func TestScanDocker_OversizedLineKeepsLaterRecords(t *testing.T) {
	logs := strings.Join([]string{
		`usage={"prompt_tokens": 100, "completion_tokens": 50}`,
		"token " + strings.Repeat("x", 11*1024*1024),
		`usage={"prompt_tokens": 10, "completion_tokens": 5}`,
	}, "\n")

	d := docker.NewWithRunner(logsRunner{logs: logs}, 0)
	records, err := scanDocker(context.Background(), d, "mlflow-gateway", 1000)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 15, records[1].TotalTokens)
}
