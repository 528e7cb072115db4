// Package utils
package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logFile = "portfolio-sync.log"

var (
	logger *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
	once   sync.Once
)

// GetLogger returns the process logger: JSON lines appended to the log file
// and human readable lines on stderr.
func GetLogger() *zap.SugaredLogger {
	once.Do(func() {
		logger = newLogger(logFile).Sugar().Named("portfolio-sync")
	})
	return logger
}

// SetLogLevel changes the level of the process logger, e.g. "debug".
func SetLogLevel(l string) error {
	return level.UnmarshalText([]byte(l))
}

func newLogger(path string) *zap.Logger {
	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l := zap.New(console)
		l.Warn("log file unavailable, logging to stderr only", zap.String("path", path), zap.Error(err))
		return l
	}

	json := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(file),
		level,
	)
	return zap.New(zapcore.NewTee(console, json))
}
