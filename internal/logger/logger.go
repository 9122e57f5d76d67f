package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/Laisky/zap/zapcore"
)

var (
	Logger      glog.Logger
	initLogOnce sync.Once
)

func init() {
	initLogger()
}

func initLogger() {
	initLogOnce.Do(func() {
		var err error
		Logger, err = New(os.Stderr, glog.LevelInfo)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// New builds a console logger writing to w. Stdout is left to command
// output.
func New(w io.Writer, level glog.Level) (glog.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	sink := zapcore.AddSync(w)
	return glog.NewConsoleWithName("gwops", level,
		zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			// c still owns the atomic level, so ChangeLevel keeps working.
			return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, c)
		}))
}

// SetDebug switches the shared logger to debug level.
func SetDebug(debug bool) {
	if !debug {
		return
	}

	if err := Logger.ChangeLevel(glog.LevelDebug); err != nil {
		Logger.Warn("failed to enable debug logging", zap.Error(err))
	}
}
