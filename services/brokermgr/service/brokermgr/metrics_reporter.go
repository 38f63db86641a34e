package main

import (
	"context"
	"strconv"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
)

var (
	LogSizeBytesMetrics  = kmetrics.CreateKmetric(context.Background(), "klogging_volume_byte", "log size in byte (skipped events excluded)", []string{"level", "event"})
	LogEventCountMetrics = kmetrics.CreateKmetric(context.Background(), "klogging_event_count", "log event count (skipped events included)", []string{"level", "event", "logged"}).CountOnly()
)

// LoggerMetricsReporter implements klogging.LoggerMetrcsReporter
type LoggerMetricsReporter struct{}

func NewLoggerMetricsReporter() *LoggerMetricsReporter {
	return &LoggerMetricsReporter{}
}

func (lmr *LoggerMetricsReporter) ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string) {
	LogSizeBytesMetrics.GetTimeSequence(ctx, logLevel, eventType).Add(int64(size))
}

func (lmr *LoggerMetricsReporter) ReportLogErrorCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool) {
	LogEventCountMetrics.GetTimeSequence(ctx, logLevel, eventType, strconv.FormatBool(isLogged)).Add(int64(count))
}
