package monitoring

import (
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// MetricsCollector keeps the latest value per name and label set.
type MetricsCollector struct {
	mu        sync.RWMutex
	metrics   map[string]*Metric
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics:   make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// IncrCounter adds value to the counter identified by name and labels.
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	key := metricKey(name, labels)
	if m, ok := mc.metrics[key]; ok {
		m.Value += value
		return
	}
	mc.metrics[key] = &Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: copyLabels(labels)}
}

func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics[metricKey(name, labels)] = &Metric{Name: name, Type: MetricTypeGauge, Value: value, Labels: copyLabels(labels)}
}

// Value returns the current value of a metric, zero if never recorded.
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if m, ok := mc.metrics[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Snapshot returns copies of all metrics ordered by name then labels.
func (mc *MetricsCollector) Snapshot() []Metric {
	mc.mu.RLock()
	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *mc.metrics[k]
		m.Labels = copyLabels(m.Labels)
		out = append(out, m)
	}
	mc.mu.RUnlock()
	return out
}

func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"sys":        m.Sys,
			"heap_inuse": m.HeapInuse,
			"gc_count":   m.NumGC,
		},
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
