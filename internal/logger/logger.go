package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value helpers.
type Logger struct {
	*zap.Logger
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
	Output string // "stderr" (default), "stdout" or a file path
}

// New creates a logger from configuration. Stdout is reserved for the
// record stream, so logs go to stderr unless told otherwise.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	var enc zapcore.EncoderConfig
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
		enc = zap.NewProductionEncoderConfig()
		zcfg.Encoding = "json"
	} else {
		zcfg = zap.NewDevelopmentConfig()
		enc = zap.NewDevelopmentEncoderConfig()
		zcfg.Encoding = "console"
	}

	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.EncoderConfig = enc
	zcfg.Level = zap.NewAtomicLevelAt(level)

	out := cfg.Output
	if out == "" {
		out = "stderr"
	}
	zcfg.OutputPaths = []string{out}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := zcfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// Named returns a child logger for a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{l.Logger.With(toZapFields(keyvals)...)}
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.Logger.Info(msg, toZapFields(keyvals)...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.Logger.Warn(msg, toZapFields(keyvals)...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.Logger.Error(msg, toZapFields(keyvals)...)
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.Logger.Debug(msg, toZapFields(keyvals)...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, keyvals ...interface{}) {
	l.Logger.Fatal(msg, toZapFields(keyvals)...)
}

// toZapFields pairs up keys and values. Non-string keys and a trailing
// odd value are dropped; error values are logged through zap.Error so
// they keep their message under the requested key.
func toZapFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keyvals[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}

// NewNopLogger returns a logger that discards everything, for tests.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
