package utils

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, WARNING)

	logger.Info("hidden", nil)
	logger.Warn("shown", map[string]interface{}{"b": 2, "a": 1})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARNING]")
	assert.Contains(t, out, "shown | a=1 b=2")
}

func TestLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, DEBUG)
	logger.Enable(false)

	logger.Error("nothing", nil)
	assert.Empty(t, buf.String())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARNING, ParseLogLevel("WARN"))
	assert.Equal(t, ERROR, ParseLogLevel(" error "))
	assert.Equal(t, INFO, ParseLogLevel(""))
}

func TestInitLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, InitLogger(path))
	t.Cleanup(func() { GetLogger().Close() })

	assert.FileExists(t, path)
}

func TestMetricsCollector_Concurrent(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.RecordHistogram("latency", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue("hits"))

	snapshot := m.GetMetrics()
	histograms := snapshot["histograms"].(map[string]map[string]int64)
	assert.Equal(t, int64(50), histograms["latency"]["count"])
	assert.Equal(t, int64(500), histograms["latency"]["sum"])
}

func TestMetricsCollector_Gauges(t *testing.T) {
	m := NewMetricsCollector()
	m.IncGauge(MetricActiveRuns)
	m.IncGauge(MetricActiveRuns)
	m.DecGauge(MetricActiveRuns)
	assert.Equal(t, int64(1), m.GetGauge(MetricActiveRuns))

	m.SetGauge(MetricActiveRuns, 7)
	assert.Equal(t, int64(7), m.GetGauge(MetricActiveRuns))
}

func TestPipelineMetrics(t *testing.T) {
	m := NewMetricsCollector()
	pm := NewPipelineMetrics(m, NewLogger(&bytes.Buffer{}, DEBUG))

	pm.RecordSegmentation(3, 1)
	pm.RecordExtraction()
	pm.RecordMasking(map[string]int{"phone": 2, "email": 1}, false)
	pm.RecordMasking(nil, true)
	pm.RecordLLMRequest("groq", "llama", 42, time.Millisecond, nil)
	pm.RecordLLMRequest("groq", "llama", 0, time.Millisecond, errors.New("timeout"))

	assert.Equal(t, int64(3), m.GetCounterValue(MetricSectionsSegmented))
	assert.Equal(t, int64(1), m.GetCounterValue(MetricSectionsSkipped))
	assert.Equal(t, int64(1), m.GetCounterValue(MetricRecordsExtracted))
	assert.Equal(t, int64(1), m.GetCounterValue(MetricRecordsMasked))
	assert.Equal(t, int64(1), m.GetCounterValue(MetricRecordsMaskFailed))
	assert.Equal(t, int64(3), m.GetCounterValue(MetricPIIMaskedTotal))
	assert.Equal(t, int64(2), m.GetCounterValue("pii_masked_phone"))
	assert.Equal(t, int64(2), m.GetCounterValue(MetricLLMRequests))
	assert.Equal(t, int64(1), m.GetCounterValue(MetricLLMFailures))
	assert.Equal(t, int64(42), m.GetCounterValue("llm_tokens_total"))
}
