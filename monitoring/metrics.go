package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// maxHistory is the number of samples kept per metric name.
const maxHistory = 1000

// DefaultLatencyBuckets are histogram buckets in seconds for request and
// prediction latencies.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metric is one recorded sample.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// MetricSummary aggregates the retained samples of one metric.
type MetricSummary struct {
	Name      string     `json:"name"`
	Type      MetricType `json:"type"`
	Count     int        `json:"count"`
	Latest    float64    `json:"latest"`
	Min       float64    `json:"min"`
	Max       float64    `json:"max"`
	Average   float64    `json:"average"`
	Total     float64    `json:"total"`
	Timestamp time.Time  `json:"timestamp"`
}

// MetricsCollector keeps a bounded in-process history of every sample for
// the JSON view and mirrors it into a Prometheus registry.
type MetricsCollector struct {
	metrics     map[string][]*Metric
	metricsLock sync.RWMutex

	registry   *prometheus.Registry
	promLock   sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
	help       map[string]string

	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsCollector{
		metrics:    make(map[string][]*Metric),
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
		help:       make(map[string]string),
		startTime:  time.Now(),
	}
}

// Describe sets the help text used when a metric is first registered.
func (mc *MetricsCollector) Describe(name, help string) {
	mc.promLock.Lock()
	defer mc.promLock.Unlock()
	mc.help[name] = help
}

// RecordMetric 记录指标
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	metric.Timestamp = time.Now()
	mc.metrics[metric.Name] = append(mc.metrics[metric.Name], metric)

	if len(mc.metrics[metric.Name]) > maxHistory {
		mc.metrics[metric.Name] = mc.metrics[metric.Name][maxHistory/10:]
	}
}

// GetMetric returns a copy of the retained samples of one metric.
func (mc *MetricsCollector) GetMetric(name string) ([]*Metric, error) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	metrics, ok := mc.metrics[name]
	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}

	result := make([]*Metric, len(metrics))
	for i, m := range metrics {
		metricCopy := *m
		result[i] = &metricCopy
	}

	return result, nil
}

// GetMetricSummary 获取指标摘要
func (mc *MetricsCollector) GetMetricSummary(name string) (MetricSummary, error) {
	metrics, err := mc.GetMetric(name)
	if err != nil {
		return MetricSummary{}, err
	}
	summary := MetricSummary{Name: name, Count: len(metrics)}
	if len(metrics) == 0 {
		return summary, nil
	}

	last := metrics[len(metrics)-1]
	summary.Type = last.Type
	summary.Latest = last.Value
	summary.Timestamp = last.Timestamp
	summary.Min, summary.Max = metrics[0].Value, metrics[0].Value
	for _, m := range metrics {
		summary.Total += m.Value
		if m.Value < summary.Min {
			summary.Min = m.Value
		}
		if m.Value > summary.Max {
			summary.Max = m.Value
		}
	}
	summary.Average = summary.Total / float64(len(metrics))
	return summary, nil
}

// Summaries returns the summary of every metric, sorted by name.
func (mc *MetricsCollector) Summaries() []MetricSummary {
	mc.metricsLock.RLock()
	names := make([]string, 0, len(mc.metrics))
	for name := range mc.metrics {
		names = append(names, name)
	}
	mc.metricsLock.RUnlock()
	sort.Strings(names)

	out := make([]MetricSummary, 0, len(names))
	for _, name := range names {
		if s, err := mc.GetMetricSummary(name); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: labels})
	if vec := mc.counterVec(name, labels); vec != nil {
		vec.With(promLabels(labels)).Add(value)
	}
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeGauge, Value: value, Labels: labels})
	if vec := mc.gaugeVec(name, labels); vec != nil {
		vec.With(promLabels(labels)).Set(value)
	}
}

// Observe records a histogram sample with DefaultLatencyBuckets.
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeHistogram, Value: value, Labels: labels})
	if vec := mc.histogramVec(name, labels); vec != nil {
		vec.With(promLabels(labels)).Observe(value)
	}
}

// ObserveDuration is Observe in seconds.
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	mc.Observe(name, d.Seconds(), labels)
}

// Handler serves the Prometheus text exposition of the registry.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// ExportJSON 导出JSON格式
func (mc *MetricsCollector) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(map[string]interface{}{
		"system":  mc.GetSystemStats(),
		"metrics": mc.Summaries(),
	}, "", "  ")
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":       m.Alloc,
			"sys":         m.Sys,
			"heap_alloc":  m.HeapAlloc,
			"heap_inuse":  m.HeapInuse,
			"gc_count":    m.NumGC,
			"gc_pause_ns": m.PauseTotalNs,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// The label set of a metric is fixed by its first use; later calls with
// other keys are recorded in the history only.

func (mc *MetricsCollector) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	mc.promLock.Lock()
	defer mc.promLock.Unlock()
	if vec, ok := mc.counters[name]; ok {
		if !mc.sameLabels(name, labels) {
			return nil
		}
		return vec
	}
	if mc.taken(name) {
		return nil
	}
	keys := labelKeys(labels)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: mc.helpFor(name)}, keys)
	if err := mc.registry.Register(vec); err != nil {
		return nil
	}
	mc.counters[name] = vec
	mc.labelNames[name] = keys
	return vec
}

func (mc *MetricsCollector) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	mc.promLock.Lock()
	defer mc.promLock.Unlock()
	if vec, ok := mc.gauges[name]; ok {
		if !mc.sameLabels(name, labels) {
			return nil
		}
		return vec
	}
	if mc.taken(name) {
		return nil
	}
	keys := labelKeys(labels)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: mc.helpFor(name)}, keys)
	if err := mc.registry.Register(vec); err != nil {
		return nil
	}
	mc.gauges[name] = vec
	mc.labelNames[name] = keys
	return vec
}

func (mc *MetricsCollector) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	mc.promLock.Lock()
	defer mc.promLock.Unlock()
	if vec, ok := mc.histograms[name]; ok {
		if !mc.sameLabels(name, labels) {
			return nil
		}
		return vec
	}
	if mc.taken(name) {
		return nil
	}
	keys := labelKeys(labels)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    mc.helpFor(name),
		Buckets: DefaultLatencyBuckets,
	}, keys)
	if err := mc.registry.Register(vec); err != nil {
		return nil
	}
	mc.histograms[name] = vec
	mc.labelNames[name] = keys
	return vec
}

func (mc *MetricsCollector) taken(name string) bool {
	_, ok := mc.labelNames[name]
	return ok
}

func (mc *MetricsCollector) sameLabels(name string, labels map[string]string) bool {
	keys := mc.labelNames[name]
	if len(keys) != len(labels) {
		return false
	}
	for _, k := range keys {
		if _, ok := labels[k]; !ok {
			return false
		}
	}
	return true
}

func promLabels(labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func (mc *MetricsCollector) helpFor(name string) string {
	if h, ok := mc.help[name]; ok && h != "" {
		return h
	}
	return fmt.Sprintf("Metric %s", name)
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
