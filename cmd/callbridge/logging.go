package main

import (
	"io"
	"os"

	"github.com/opd-ai/callbridge/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log rotation settings for --log-file.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 28
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging configures the global logrus logger from cfg. The returned
// closer flushes the log file, if any.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.LogFile == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	logrus.SetOutput(rotator)
	return rotator, nil
}

// applyLogLevel changes the level at runtime; invalid names are ignored.
func applyLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	if level != logrus.GetLevel() {
		logrus.SetLevel(level)
		logrus.WithFields(logrus.Fields{
			"function": "applyLogLevel",
			"level":    level.String(),
		}).Info("Log level changed")
	}
}
