// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "[01-02|15:04:05.000]"

// TestLogger is a console zap logger tagged with the test's name. It
// satisfies the root package's Logger interface, filling in the Trace and
// Verbo levels zap lacks by mapping both onto Debug.
type TestLogger struct {
	*zap.Logger
	traceVerboseLogger *zap.Logger
}

// Intercept registers a hook invoked for every emitted entry. Tests use it
// to count or inspect log lines instead of scraping output.
func (tl *TestLogger) Intercept(hook func(entry zapcore.Entry) error) {
	tl.Logger = tl.Logger.WithOptions(zap.Hooks(hook))
}

// Silence raises the level so that only Fatal would emit, which in
// practice mutes the logger for the rest of the test.
func (tl *TestLogger) Silence() {
	atomicLevel := zap.NewAtomicLevelAt(zapcore.FatalLevel)
	core := tl.Logger.Core()
	tl.Logger = zap.New(core, zap.AddCaller(), zap.IncreaseLevel(atomicLevel))
	tl.traceVerboseLogger = zap.New(core, zap.AddCaller(), zap.IncreaseLevel(atomicLevel))
}

func (tl *TestLogger) Trace(msg string, fields ...zap.Field) {
	tl.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

func (tl *TestLogger) Verbo(msg string, fields ...zap.Field) {
	tl.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

// MakeLogger builds a TestLogger writing human-readable console lines to
// stdout at Debug level.
func MakeLogger(t *testing.T) *TestLogger {
	core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapcore.DebugLevel))

	logger := zap.New(core, zap.AddCaller()).With(zap.String("test", t.Name()))

	// Trace and Verbo pass through one extra frame, so their logger skips
	// it to keep caller locations honest.
	traceVerboseLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("test", t.Name()))

	return &TestLogger{Logger: logger, traceVerboseLogger: traceVerboseLogger}
}

func consoleEncoder() zapcore.Encoder {
	config := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	config.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(strings.ToUpper(l.String()))
	}
	config.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	config.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(config)
}
