package klogging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingReporter struct {
	sizeCalls  int
	countCalls int
	skipped    int
}

func (r *countingReporter) ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string) {
	r.sizeCalls++
}

func (r *countingReporter) ReportLogErrorCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool) {
	r.countCalls++
	if !isLogged {
		r.skipped++
	}
}

func TestLogrusLoggerJson(t *testing.T) {
	ctx := context.Background()
	logger := NewLogrusLogger(ctx)
	var buf bytes.Buffer
	logger.RusLogger.SetOutput(&buf)
	SetDefaultLogger(logger)
	logger.SetConfig(ctx, "info", "json")
	buf.Reset()
	reporter := &countingReporter{}
	logger.WithMetricsReporter(reporter)

	Info(ctx).With("func", "hello").Log("BrokerCreated", "new broker")
	Debug(ctx).Log("Skipped", "")

	out := buf.String()
	assert.Contains(t, out, `"event":"BrokerCreated"`)
	assert.Contains(t, out, `"func":"hello"`)
	assert.NotContains(t, out, "Skipped")
	assert.Equal(t, 1, reporter.sizeCalls)
	assert.Equal(t, 2, reporter.countCalls)
	assert.Equal(t, 1, reporter.skipped)
}

func TestLogrusLoggerBadConfig(t *testing.T) {
	ctx := context.Background()
	logger := NewLogrusLogger(ctx)
	SetDefaultLogger(NewNullLogger())
	logger.SetConfig(ctx, "loud", "json")
	assert.Equal(t, InfoLevel, logger.Level())
}
