// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.
//
// fossil-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// fossil-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package fossillog is the structured-logging seam every other package
// logs through, the way erigon-lib/log wraps its own backend.
package fossillog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal surface components depend on; swapping the
// zap backend for another never touches call sites.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// New builds a development-friendly console logger at the given level.
func New(level zapcore.Level) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging must never be why the repository fails to open.
		base = zap.NewNop()
	}
	return &zapLogger{l: base.Sugar()}
}

func (z *zapLogger) Debug(msg string, kv ...any) { z.l.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...any)  { z.l.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...any)  { z.l.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...any) { z.l.Errorw(msg, kv...) }
func (z *zapLogger) With(kv ...any) Logger       { return &zapLogger{l: z.l.With(kv...)} }

var root Logger = New(zapcore.InfoLevel)

// Root returns the process-wide default logger, for components that
// are not handed an explicit one.
func Root() Logger { return root }

// SetRoot replaces the process-wide default, e.g. to raise verbosity
// from a CLI flag.
func SetRoot(l Logger) { root = l }
