package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryExporter) Records() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func newRecordingOtelLogger(level LogLevel) (Logger, *memoryExporter) {
	exporter := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	return NewOtelLogger(provider.Logger("test"), level), exporter
}

func attributes(r sdklog.Record) map[string]string {
	out := make(map[string]string)
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func TestOtelLoggerWithMergesMetadata(t *testing.T) {
	logger := NewOtelLogger(noop.NewLoggerProvider().Logger("test"), LevelTrace)

	baseLogger := logger.With(map[string]interface{}{
		"base_key": "base_value",
		"shared":   "from_base",
	}).(*otelLogger)

	extendedLogger := baseLogger.With(map[string]interface{}{
		"extra_key": "extra_value",
		"shared":    "from_extended",
	}).(*otelLogger)

	assert.Equal(t, 3, len(extendedLogger.metadata))
	assert.Equal(t, "base_value", extendedLogger.metadata["base_key"].AsString())
	assert.Equal(t, "extra_value", extendedLogger.metadata["extra_key"].AsString())
	assert.Equal(t, "from_extended", extendedLogger.metadata["shared"].AsString())
	assert.Equal(t, 2, len(baseLogger.metadata), "parent is not mutated")
}

func TestOtelLoggerEmitsRecords(t *testing.T) {
	logger, exporter := newRecordingOtelLogger(LevelInfo)

	logger.WithPrefix("[recommend]").With(map[string]interface{}{"user": "u1"}).Warn("served %d tracks", 5)
	logger.Debug("below the level")

	records := exporter.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "[recommend] served 5 tracks", records[0].Body().AsString())
	assert.Equal(t, log.SeverityWarn, records[0].Severity())
	assert.Equal(t, "u1", attributes(records[0])["user"])
}

func TestOtelLoggerStack(t *testing.T) {
	otelLog, exporter := newRecordingOtelLogger(LevelTrace)
	testLog := NewTestLogger()

	logger := otelLog.Stack(testLog).WithPrefix("[cache]")
	logger.Info("swept %d entries", 3)

	require.Len(t, exporter.Records(), 1)
	assert.Equal(t, "[cache] swept 3 entries", exporter.Records()[0].Body().AsString())
	assert.True(t, testLog.Contains("INFO", "swept 3 entries"))
}
