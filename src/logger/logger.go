package logger

import (
	"os"
	"strings"

	"rtrader-bridge/src/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger is a named printf-style logger backed by zap.
type Logger struct {
	name   string
	sugar  *zap.SugaredLogger
	config interface{}
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. config may be a *models.MConfig or
// a level name; DEBUG enables debug output, anything else logs at INFO.
func NewLogger(config interface{}, name string) *Logger {
	level := zapcore.InfoLevel
	if strings.EqualFold(levelName(config), "DEBUG") {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.EncodeCaller = nil

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), level)
	return newWithCore(core, config, name)
}

func newWithCore(core zapcore.Core, config interface{}, name string) *Logger {
	return &Logger{
		name:   name,
		sugar:  zap.New(core).Named(name).Sugar(),
		config: config,
	}
}

// -----------------------------------------------------------------------------

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{name: "nop", sugar: zap.NewNop().Sugar()}
}

// -----------------------------------------------------------------------------

func levelName(config interface{}) string {
	switch c := config.(type) {
	case *models.MConfig:
		if c != nil {
			return c.LogLevel
		}
	case models.MConfig:
		return c.LogLevel
	case string:
		return c
	}
	return ""
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the same core.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: l.name + "." + name, sugar: l.sugar.Named(name), config: l.config}
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
