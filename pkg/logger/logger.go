package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

func Init(level, format, outputPath string) error {
	log, err := New(level, format, outputPath)
	if err != nil {
		return err
	}

	current.Store(log)
	return nil
}

func New(level, format, outputPath string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch outputPath {
	case "", "stdout":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// L returns the process logger. It is a no-op logger until Init succeeds.
func L() *zap.Logger {
	return current.Load()
}

// Set replaces the process logger, mainly so tests can capture output.
func Set(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	current.Store(log)
}

func Info(msg string, fields ...zap.Field) {
	current.Load().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	current.Load().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	current.Load().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	current.Load().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	current.Load().Fatal(msg, fields...)
}

func Sync() {
	_ = current.Load().Sync()
}
