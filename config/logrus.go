package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))
}

// NewLogger builds the JSON logger used across the service.
// When logFile is set, output is mirrored to a rotated file.
func NewLogger(level string, logFile string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	var out io.Writer = os.Stdout
	if strings.TrimSpace(logFile) != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   strings.TrimSpace(logFile),
			MaxSize:    intFromEnv("LOG_FILE_MAX_SIZE_MB", 50),
			MaxBackups: intFromEnv("LOG_FILE_MAX_BACKUPS", 5),
			MaxAge:     intFromEnv("LOG_FILE_MAX_AGE_DAYS", 14),
			Compress:   true,
		})
	}
	l.SetOutput(out)
	return l
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}
