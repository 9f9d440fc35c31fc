package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output string // stdout, stderr or a file path

	// Rotation applies to file outputs only
	RotateMaxSizeMB  int
	RotateMaxBackups int
	RotateMaxAgeDays int
}

var current = atomic.NewPointer(newDefault(zapcore.Lock(os.Stderr)))

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// newDefault logs to ws until Setup replaces it
func newDefault(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	core := zapcore.NewCore(enc, ws, zap.InfoLevel)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// Setup builds a zap logger from opts and installs it as the package logger.
// The stdlib log package is redirected to it at Info level.
// The returned function flushes buffered entries and should be deferred.
func Setup(opts Options) (func(), error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := encoderConfig()
	var encoder zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		if dir := filepath.Dir(opts.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    max(opts.RotateMaxSizeMB, 10),
			MaxBackups: max(opts.RotateMaxBackups, 1),
			MaxAge:     max(opts.RotateMaxAgeDays, 7),
		})
	}

	base := zap.New(zapcore.NewCore(encoder, ws, level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	current.Store(base.Sugar())
	restore, err := zap.RedirectStdLogAt(base, zap.InfoLevel)
	if err != nil {
		return nil, err
	}

	return func() {
		_ = base.Sync()
		restore()
	}, nil
}

// Debug logs verbose diagnostics, disabled at the default level
func Debug(format string, v ...interface{}) {
	current.Load().Debugf(format, v...)
}

// Info logs informational messages
func Info(format string, v ...interface{}) {
	current.Load().Infof(format, v...)
}

// Warn logs warning messages
func Warn(format string, v ...interface{}) {
	current.Load().Warnf(format, v...)
}

// Error logs error messages
func Error(format string, v ...interface{}) {
	current.Load().Errorf(format, v...)
}

// Fatal logs fatal error messages and exits with status 1
func Fatal(format string, v ...interface{}) {
	current.Load().Fatalf(format, v...)
}
