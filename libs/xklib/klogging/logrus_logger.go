package klogging

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
)

// LogrusLogger implements Logger on top of logrus.
// The level threshold is evaluated here; the wrapped logrus.Logger accepts everything.
type LogrusLogger struct {
	ctx             context.Context
	RusLogger       *logrus.Logger
	logLevel        Level
	logFormat       LogFormat
	metricsReporter LoggerMetrcsReporter
}

const (
	// TimestampFormat keeps ms resolution and timezone, and sorts lexically.
	TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
)

type LoggerMetrcsReporter interface {
	ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string)
	ReportLogErrorCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool)
}

func NewLogrusLogger(ctx context.Context) *LogrusLogger {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: TimestampFormat,
		FullTimestamp:   true,
	})
	log.SetLevel(logrus.TraceLevel)
	return &LogrusLogger{
		ctx:       ctx,
		RusLogger: log,
		logLevel:  InfoLevel,
		logFormat: TextFormat,
	}
}

func (logger *LogrusLogger) WithMetricsReporter(reporter LoggerMetrcsReporter) *LogrusLogger {
	logger.metricsReporter = reporter
	return logger
}

type LogFormat uint32

const (
	TextFormat LogFormat = iota + 1
	JsonFormat
)

func (e LogFormat) String() string {
	switch e {
	case TextFormat:
		return "Text"
	case JsonFormat:
		return "Json"
	default:
		return fmt.Sprintf("%d", int(e))
	}
}

func parseLogFormat(str string) LogFormat {
	if strings.EqualFold("text", str) {
		return TextFormat
	} else if strings.EqualFold("json", str) {
		return JsonFormat
	}
	panic(kerror.Create("UnknownLogFormat", "parse log format failed").With("str", str).WithErrorCode(kerror.EC_INVALID_PARAMETER))
}

// SetConfig applies level (fatal|error|warning|info|debug|verbose) and format (text|json).
// Invalid values are logged and ignored.
func (logger *LogrusLogger) SetConfig(ctx context.Context, newLevelStr string, newFormatStr string) *LogrusLogger {
	defer func() {
		if r := recover(); r != nil {
			Warning(ctx).WithPanic(r).Log("UpdateLogConfigFailed", "log config update failed")
		}
	}()
	newLevel := ParseLogLevel(newLevelStr)
	if logger.logLevel != newLevel {
		Info(ctx).With("oldLogLevel", logger.logLevel).With("newLogLevel", newLevel).Log("UpdateLogLevel", "log level updated")
		logger.logLevel = newLevel
	}
	newFormat := parseLogFormat(newFormatStr)
	if logger.logFormat != newFormat {
		switch newFormat {
		case TextFormat:
			logger.RusLogger.SetFormatter(&logrus.TextFormatter{
				DisableColors:   true,
				TimestampFormat: TimestampFormat,
				FullTimestamp:   true,
			})
		case JsonFormat:
			logger.RusLogger.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: TimestampFormat,
			})
		}
		Info(ctx).With("oldLogFormat", logger.logFormat).With("newLogFormat", newFormat).Log("UpdateLogFormat", "log format updated")
		logger.logFormat = newFormat
	}
	return logger
}

func estimateLength(obj interface{}) int {
	if str, ok := obj.(fmt.Stringer); ok {
		return len(str.String())
	}
	return len(fmt.Sprintf("%+v", obj))
}

// Log implements Logger.
// Skipped entries (shouldLog=false) are still counted by the metrics reporter.
func (logger *LogrusLogger) Log(entry *LogEntry, shouldLog bool) {
	if logger.metricsReporter != nil {
		if shouldLog {
			logSize := len(entry.Msg) + len(entry.LogType)
			for _, item := range entry.Details {
				logSize += len(item.K) + estimateLength(item.V)
			}
			logger.metricsReporter.ReportLogSizeBytes(logger.ctx, logSize, entry.Level.String(), entry.LogType)
		}
		if NeedLog(entry.Level, DebugLevel) {
			logger.metricsReporter.ReportLogErrorCount(logger.ctx, 1, entry.Level.String(), entry.LogType, shouldLog)
		}
	}
	if !shouldLog {
		return
	}

	fields := make(logrus.Fields, len(entry.Details))
	for _, item := range entry.Details {
		fields[item.K] = item.V
	}
	ent := logger.RusLogger.WithField("event", entry.LogType).WithFields(fields)
	ent.Time = entry.Timestamp
	ent.Log(kloggingLevel2Logrus(entry.Level), entry.Msg)
}

// logrus has PanicLevel(0) which klogging doesn't; the rest line up 1:1
func kloggingLevel2Logrus(level Level) logrus.Level {
	return logrus.Level(int(level))
}

func (logger *LogrusLogger) Level() Level {
	return logger.logLevel
}
