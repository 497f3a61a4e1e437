// Package logging provides the daemon's structured logger.
//
// The interactive evilginx2 console logger this is descended from wrote
// colored, readline-aware lines straight to a terminal. A long-running
// daemon has no terminal to refresh, so this keeps the same leveled-call
// shape (Debug/Info/Warning/Error/Fatal) but backs it with a zap.SugaredLogger
// instead of github.com/fatih/color.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mtx    sync.Mutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	debugEnabled = false
)

func init() {
	Configure(false, false)
}

// Configure (re)builds the global logger. jsonOutput selects structured
// JSON encoding (suited to log shippers); otherwise a console encoder is
// used, the daemon-service equivalent of the teacher's colored console
// lines.
func Configure(debug bool, jsonOutput bool) {
	mtx.Lock()
	defer mtx.Unlock()

	debugEnabled = debug

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var encoder zapcore.Encoder
	if jsonOutput {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	base = zap.New(core)
	sugar = base.Sugar()
}

// DebugEnable toggles debug-level output, mirroring the teacher's
// log.DebugEnable(bool) switch driven by the -debug flag.
func DebugEnable(enable bool) {
	Configure(enable, false)
}

func DebugEnabled() bool {
	mtx.Lock()
	defer mtx.Unlock()
	return debugEnabled
}

func Debug(format string, args ...interface{}) {
	sugar.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	sugar.Infof(format, args...)
}

func Warning(format string, args ...interface{}) {
	sugar.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	sugar.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	sugar.Fatalf(format, args...)
}

// With returns a child logger carrying structured fields, for call sites
// that want (cert_id, key_type) context attached to every line instead of
// interpolated into the message.
func With(kv ...interface{}) *zap.SugaredLogger {
	return sugar.With(kv...)
}

// Sync flushes buffered log entries; call it once before process exit.
func Sync() error {
	return base.Sync()
}
