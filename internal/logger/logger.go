package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLevel = "info"

// ValidLogLevels lists the level names accepted by NewLogger and SetLevel.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// root logger
var log atomic.Pointer[Logger]

// LoggingConfig is the subset of the logging configuration needed to build component loggers.
type LoggingConfig interface {
	GetDefaultLevel() string
	GetComponentLevel(component string) string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger and carries the atomic level shared by all
// loggers derived from it, plus the component name it was created for.
type Logger struct {
	*zap.SugaredLogger

	atomicLevel zap.AtomicLevel
	component   string

	// set for loggers built by NewFromConfig
	base *zap.Logger
	cfg  LoggingConfig
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	config.Level = atomicLevel

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		atomicLevel:   atomicLevel,
	}, nil
}

// NewComponentLogger creates a root logger already scoped to a component.
// It panics on an invalid level, so it is meant for startup wiring only.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger for component %s: %v", component, err))
	}

	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig builds a component logger whose level comes from
// the per-component override in cfg, falling back to the default level.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	if cfg == nil {
		return NewComponentLogger(component, defaultLevel, false)
	}

	return NewComponentLogger(component, cfg.GetComponentLevel(component), cfg.IsDevelopment())
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		atomicLevel:   zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}

// NewFromConfig builds the root logger of a configured process. Unlike other
// loggers, every WithComponent child gets its own level from
// cfg.GetComponentLevel, so the fetcher can log at debug while the rest of
// the pipeline stays at info.
func NewFromConfig(cfg LoggingConfig) (*Logger, error) {
	var config zap.Config
	if cfg.IsDevelopment() {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)

	base, err := config.Build()
	if err != nil {
		return nil, err
	}

	return newFromBase(base, cfg)
}

func newFromBase(base *zap.Logger, cfg LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.GetDefaultLevel())
	if err != nil {
		return nil, fmt.Errorf("invalid default log level: %w", err)
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	return &Logger{
		SugaredLogger: base.WithOptions(zap.IncreaseLevel(atomicLevel)).Sugar(),
		atomicLevel:   atomicLevel,
		base:          base,
		cfg:           cfg,
	}, nil
}

// WithComponent creates a child logger with a component name field.
// The child shares the level of its parent unless the logger was built by
// NewFromConfig.
func (l *Logger) WithComponent(component string) *Logger {
	if l.cfg != nil {
		level, err := zapcore.ParseLevel(l.cfg.GetComponentLevel(component))
		if err != nil {
			level = l.atomicLevel.Level()
		}
		atomicLevel := zap.NewAtomicLevelAt(level)

		return &Logger{
			SugaredLogger: l.base.WithOptions(zap.IncreaseLevel(atomicLevel)).Sugar().With("component", component),
			atomicLevel:   atomicLevel,
			component:     component,
			base:          l.base,
			cfg:           l.cfg,
		}
	}

	return &Logger{
		SugaredLogger: l.With("component", component),
		atomicLevel:   l.atomicLevel,
		component:     component,
	}
}

// GetComponent returns the component name, empty for root loggers.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current level name.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the level of this logger and every logger sharing its level.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l.atomicLevel.SetLevel(zapLevel)

	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

// GetDefaultLogger returns the process-wide logger used by CLI commands
// before a configuration is loaded.
func GetDefaultLogger() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}

	zapLogger, err := NewLogger(defaultLevel, true)
	if err != nil {
		panic(err)
	}
	log.CompareAndSwap(nil, zapLogger)

	return log.Load()
}
