// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// simLogger adapts a zap logger to the scheduler's Logger interface, mapping
// the Trace and Verbo levels zap lacks onto Debug.
type simLogger struct {
	*zap.Logger
	traceVerboseLogger *zap.Logger
}

func (l *simLogger) Trace(msg string, fields ...zap.Field) {
	l.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

func (l *simLogger) Verbo(msg string, fields ...zap.Field) {
	l.traceVerboseLogger.Log(zapcore.DebugLevel, msg, fields...)
}

// buildLogger wires a console core at the configured level and, when a file
// is configured, tees a second core through lumberjack rotation. The returned
// closer flushes both.
func buildLogger(c LogConfig) (*simLogger, func()) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	}
	if c.File != "" {
		fileEnc := zap.NewProductionEncoderConfig()
		ws := zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), ws, level))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller())
	// Trace and Verbo pass through one extra frame, so their logger skips
	// it to keep caller locations honest.
	traceVerbose := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	closer := func() {
		_ = logger.Sync()
		_ = traceVerbose.Sync()
	}
	return &simLogger{Logger: logger, traceVerboseLogger: traceVerbose}, closer
}
