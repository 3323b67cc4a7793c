// Package logger provides the structured, leveled logger used throughout
// the control plane: zap-backed Infow/Warnw/Errorw key/value helpers.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log = newDefault()

func newDefault() *zap.SugaredLogger {
	l, _ := zap.NewDevelopment()
	return l.Sugar()
}

// Init reconfigures the package logger. development selects the
// console-friendly encoder; level is one of debug/info/warn/error.
func Init(development bool, level string) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	log = l.Sugar()
	return nil
}

func Debugw(msg string, keysAndValues ...any) {
	log.Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...any) {
	log.Infow(msg, keysAndValues...)
}

func Warnw(msg string, keysAndValues ...any) {
	log.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, err error, keysAndValues ...any) {
	kv := append([]any{"error", err}, keysAndValues...)
	log.Errorw(msg, kv...)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = log.Sync()
}
