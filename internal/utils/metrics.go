// internal/utils/metrics.go
package utils

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline metric names
const (
	MetricSectionsSegmented  = "sections_segmented"
	MetricSectionsSkipped    = "sections_skipped"
	MetricRecordsExtracted   = "records_extracted"
	MetricRecordsMasked      = "records_masked"
	MetricRecordsMaskFailed  = "records_mask_failed"
	MetricPIIMaskedTotal     = "pii_masked_total"
	MetricLLMRequests        = "llm_requests"
	MetricLLMFailures        = "llm_failures"
	MetricGenerationDuration = "generation_duration_ms"
	MetricActiveRuns         = "active_runs"
)

// MetricsCollector collects in-process counters, gauges and histograms
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the value cell for name, creating it on first use
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter by one
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds value to a counter
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge increments a gauge
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge reads a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	return atomic.LoadInt64(m.slot(m.gauges, name))
}

// GetCounterValue reads a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	return atomic.LoadInt64(m.slot(m.counters, name))
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// PipelineMetrics records transcript pipeline and LLM metrics
type PipelineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewPipelineMetrics creates a recorder over the given collector and logger
func NewPipelineMetrics(metrics *MetricsCollector, logger *Logger) *PipelineMetrics {
	if metrics == nil {
		metrics = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &PipelineMetrics{metrics: metrics, logger: logger}
}

// Collector exposes the underlying collector
func (pm *PipelineMetrics) Collector() *MetricsCollector {
	return pm.metrics
}

// RecordSegmentation records how many sections a document produced and how many were dropped
func (pm *PipelineMetrics) RecordSegmentation(kept, skipped int) {
	pm.metrics.AddCounter(MetricSectionsSegmented, int64(kept))
	pm.metrics.AddCounter(MetricSectionsSkipped, int64(skipped))
}

// RecordExtraction records one extracted record
func (pm *PipelineMetrics) RecordExtraction() {
	pm.metrics.IncrementCounter(MetricRecordsExtracted)
}

// RecordMasking records the outcome of masking one record
func (pm *PipelineMetrics) RecordMasking(tally map[string]int, failed bool) {
	if failed {
		pm.metrics.IncrementCounter(MetricRecordsMaskFailed)
		return
	}
	pm.metrics.IncrementCounter(MetricRecordsMasked)

	// stable order keeps the per-category counters reproducible in logs
	categories := make([]string, 0, len(tally))
	for category := range tally {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		count := int64(tally[category])
		pm.metrics.AddCounter(MetricPIIMaskedTotal, count)
		pm.metrics.AddCounter("pii_masked_"+category, count)
	}
}

// RecordLLMRequest records an LLM call
func (pm *PipelineMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration, err error) {
	pm.metrics.IncrementCounter(MetricLLMRequests)
	pm.metrics.IncrementCounter(MetricLLMRequests + "_" + provider)
	pm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	pm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	if err != nil {
		pm.metrics.IncrementCounter(MetricLLMFailures)
		pm.logger.Warn("LLM request failed", map[string]interface{}{
			"provider": provider,
			"model":    model,
			"duration": duration.Milliseconds(),
			"error":    err.Error(),
		})
		return
	}

	pm.logger.Debug("LLM request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordGeneration records a finished test-case generation run
func (pm *PipelineMetrics) RecordGeneration(duration time.Duration) {
	pm.metrics.RecordHistogram(MetricGenerationDuration, duration.Milliseconds())
}

// StartMetricsReport logs a periodic metrics summary until ctx is done
func (pm *PipelineMetrics) StartMetricsReport(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": pm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
