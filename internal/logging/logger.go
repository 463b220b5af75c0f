// Package logging defines a minimal, printf-style logging contract so
// packages can log without depending on a concrete backend.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the printf-style contract every component logs through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

type zapPrintfLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapPrintfLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapPrintfLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapPrintfLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapPrintfLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

// NewComponentLogger returns the default application logger scoped to a
// component. Output is JSON on stdout so Lambda log streams stay greppable.
func NewComponentLogger(component string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	base, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return &zapPrintfLogger{sugar: base.Sugar().With("component", component)}
}

// FromZap adapts an existing zap logger, preserving printf call sites.
func FromZap(base *zap.Logger, component string) Logger {
	if base == nil {
		return Nop()
	}
	return &zapPrintfLogger{sugar: base.Sugar().With("component", component)}
}
