package logger

import (
	"bytes"
	"testing"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(&buf, glog.LevelInfo)
	require.NoError(t, err)

	lg.Info("usage stored", zap.String("source", "log-file"))
	lg.Debug("hidden")
	_ = lg.Sync()

	out := buf.String()
	assert.Contains(t, out, "usage stored")
	assert.Contains(t, out, "gwops")
	assert.Contains(t, out, `"source": "log-file"`)
	assert.NotContains(t, out, "hidden")
}

func TestNew_ChangeLevel(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(&buf, glog.LevelInfo)
	require.NoError(t, err)

	require.NoError(t, lg.ChangeLevel(glog.LevelDebug))
	lg.Debug("now visible")
	_ = lg.Sync()

	assert.Contains(t, buf.String(), "now visible")
}
