// Copyright (C) 2019-2024, Lux Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log wraps the node's structured logger so every component
// (mesh, discovery, round engine, GUI fan-out, CLI) logs through the
// same interface with a "component" tag attached once at construction.
package log

import (
	"os"

	luxlog "github.com/luxfi/log"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the subset of structured logging methods every component
// in this module uses. Production instances are backed by zap;
// tests use NewNoOp.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	// Fatal logs and exits the process. Runtime duplicate-identity
	// detection relies on this, not on panics.
	Fatal(msg string, fields ...zap.Field)
	// With returns a derived logger carrying additional fields.
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	z *zap.Logger
}

// NewProduction returns a console-backed logger tagged with
// component, suitable for a node's main components.
func NewProduction(component string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z.With(zap.String("component", component))}, nil
}

// NewRotatingFile returns a logger that writes JSON lines to path,
// rotating it the way a long-running node process should.
func NewRotatingFile(component, path string) Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileRotateMaxSizeMB,
		MaxBackups: fileRotateMaxBackups,
		MaxAge:     fileRotateMaxAgeDays,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	core := zapCoreForWriter(sink, encoderCfg)
	return &zapLogger{z: zap.New(core).With(zap.String("component", component))}
}

const (
	fileRotateMaxSizeMB  = 50
	fileRotateMaxBackups = 5
	fileRotateMaxAgeDays = 7
)

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...); os.Exit(1) }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

// noOpLogger delegates every call to the teacher stack's no-op logger
// (github.com/luxfi/log), so discarding a message still runs through
// luxlog.Logger's own method set instead of short-circuiting locally.
type noOpLogger struct {
	base luxlog.Logger
}

// NewNoOp returns a logger that discards everything, used by tests.
func NewNoOp(string) Logger {
	return &noOpLogger{base: luxlog.NewNoOpLogger()}
}

func (n *noOpLogger) Debug(msg string, fields ...zap.Field) { n.base.WithFields(fields...).Debug(msg) }
func (n *noOpLogger) Info(msg string, fields ...zap.Field)  { n.base.WithFields(fields...).Info(msg) }
func (n *noOpLogger) Warn(msg string, fields ...zap.Field)  { n.base.WithFields(fields...).Warn(msg) }
func (n *noOpLogger) Error(msg string, fields ...zap.Field) { n.base.WithFields(fields...).Error(msg) }
func (n *noOpLogger) Fatal(msg string, fields ...zap.Field) { n.base.Fatal(msg, fields...) }

func (n *noOpLogger) With(fields ...zap.Field) Logger {
	return &noOpLogger{base: n.base.WithFields(fields...)}
}
