// Package metrics はジョブのライフサイクルを OpenTelemetry の計測器で記録し、
// ManualReader で収集した値を JSON で公開できる形に変換します。
package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// meterName は計測スコープ名です。
const meterName = "github.com/tigerroll/batchjob"

// メトリクス名。
const (
	JobExecutions  = "batch.job.executions"
	JobStarts      = "batch.job.starts"
	JobEnds        = "batch.job.ends"
	JobDuration    = "batch.job.duration"
	StepReadCount  = "batch.step.read.count"
	StepWriteCount = "batch.step.write.count"
	StepSkipCount  = "batch.step.skip.count"
)

// Sample はタグ付きの一つの値です。
type Sample struct {
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags"`
	Value float64           `json:"value"`
}

// Timer は所要時間の累計です。
type Timer struct {
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
	Count   int64             `json:"count"`
	TotalMs int64             `json:"totalMs"`
	MaxMs   int64             `json:"maxMs"`
}

// Snapshot は JSON で公開するメトリクスの一覧です。
type Snapshot struct {
	Counters []Sample `json:"counters"`
	Gauges   []Sample `json:"gauges"`
	Timers   []Timer  `json:"timers"`
}

// BatchMetrics はジョブとステップのメトリクスを記録します。ゼロ値は使用できません。
type BatchMetrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewBatchMetrics は ManualReader を持つ専用の MeterProvider で BatchMetrics を作成します。
func NewBatchMetrics() *BatchMetrics {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &BatchMetrics{
		reader:     reader,
		provider:   provider,
		meter:      provider.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// MeterProvider は計測器の作成元を返します。アプリケーション独自の計測器を同じ Snapshot に含めるために使用します。
func (m *BatchMetrics) MeterProvider() metric.MeterProvider {
	return m.provider
}

// Shutdown は MeterProvider を停止します。
func (m *BatchMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// attrs はキーと値の組の並びを属性に変換します。
func attrs(tags []string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		kvs = append(kvs, attribute.String(tags[i], tags[i+1]))
	}
	return kvs
}

func (m *BatchMetrics) counter(name string) metric.Int64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		if c, err = m.meter.Int64Counter(name, metric.WithUnit("{execution}")); err != nil {
			logger.Warnf("カウンタ '%s' の作成に失敗しました: %v", name, err)
		}
		m.counters[name] = c
	}
	return c
}

func (m *BatchMetrics) gauge(name string) metric.Float64Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		if g, err = m.meter.Float64Gauge(name, metric.WithUnit("{item}")); err != nil {
			logger.Warnf("ゲージ '%s' の作成に失敗しました: %v", name, err)
		}
		m.gauges[name] = g
	}
	return g
}

func (m *BatchMetrics) histogram(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		var err error
		if h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms")); err != nil {
			logger.Warnf("タイマー '%s' の作成に失敗しました: %v", name, err)
		}
		m.histograms[name] = h
	}
	return h
}

// Increment はカウンタに 1 を加えます。tags はキーと値の組の並びです。
func (m *BatchMetrics) Increment(name string, tags ...string) {
	m.counter(name).Add(context.Background(), 1, metric.WithAttributes(attrs(tags)...))
}

// Gauge はゲージの値を設定します。
func (m *BatchMetrics) Gauge(name string, value float64, tags ...string) {
	m.gauge(name).Record(context.Background(), value, metric.WithAttributes(attrs(tags)...))
}

// Record は所要時間をミリ秒で記録します。
func (m *BatchMetrics) Record(name string, d time.Duration, tags ...string) {
	m.histogram(name).Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(attrs(tags)...))
}

// Counter はカウンタの現在値を返します。存在しなければ 0 です。
func (m *BatchMetrics) Counter(name string, tags ...string) float64 {
	want := attribute.NewSet(attrs(tags)...)
	for _, s := range m.Snapshot().Counters {
		if s.Name == name && tagsEqual(s.Tags, want) {
			return s.Value
		}
	}
	return 0
}

// GaugeValue はゲージの現在値を返します。
func (m *BatchMetrics) GaugeValue(name string, tags ...string) (float64, bool) {
	want := attribute.NewSet(attrs(tags)...)
	for _, s := range m.Snapshot().Gauges {
		if s.Name == name && tagsEqual(s.Tags, want) {
			return s.Value, true
		}
	}
	return 0, false
}

func tagsEqual(tags map[string]string, want attribute.Set) bool {
	if len(tags) != want.Len() {
		return false
	}
	for k, v := range tags {
		got, ok := want.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			return false
		}
	}
	return true
}

func tagMap(set attribute.Set) map[string]string {
	tags := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		tags[string(kv.Key)] = kv.Value.Emit()
	}
	return tags
}

// sortKey はメトリクス名と属性から並び順のキーを作ります。
func sortKey(name string, set attribute.Set) string {
	var b strings.Builder
	b.WriteString(name)
	for _, kv := range set.ToSlice() {
		b.WriteString("|")
		b.WriteString(string(kv.Key))
		b.WriteString("=")
		b.WriteString(kv.Value.Emit())
	}
	return b.String()
}

type keyed[T any] struct {
	key   string
	value T
}

func sorted[T any](items []keyed[T]) []T {
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, it.value)
	}
	return out
}

// Snapshot は ManualReader で収集した全てのメトリクスを名前と属性の順に返します。
func (m *BatchMetrics) Snapshot() Snapshot {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(context.Background(), &rm); err != nil {
		logger.Warnf("メトリクスの収集に失敗しました: %v", err)
		return Snapshot{Counters: []Sample{}, Gauges: []Sample{}, Timers: []Timer{}}
	}

	var counters, gauges []keyed[Sample]
	var timers []keyed[Timer]
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					counters = append(counters, keyed[Sample]{sortKey(md.Name, dp.Attributes),
						Sample{Name: md.Name, Tags: tagMap(dp.Attributes), Value: float64(dp.Value)}})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					gauges = append(gauges, keyed[Sample]{sortKey(md.Name, dp.Attributes),
						Sample{Name: md.Name, Tags: tagMap(dp.Attributes), Value: dp.Value}})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					t := Timer{Name: md.Name, Tags: tagMap(dp.Attributes), Count: int64(dp.Count), TotalMs: int64(dp.Sum)}
					if v, ok := dp.Max.Value(); ok {
						t.MaxMs = int64(v)
					}
					timers = append(timers, keyed[Timer]{sortKey(md.Name, dp.Attributes), t})
				}
			}
		}
	}
	return Snapshot{Counters: sorted(counters), Gauges: sorted(gauges), Timers: sorted(timers)}
}

// RecordJobStart はジョブの開始を記録します。
func (m *BatchMetrics) RecordJobStart(execution *core.JobExecution) {
	m.Increment(JobStarts, "job.name", execution.JobName)
}

// RecordJobEnd はジョブの終了を記録します。
func (m *BatchMetrics) RecordJobEnd(execution *core.JobExecution) {
	m.Increment(JobEnds, "job.name", execution.JobName, "status", string(execution.Status))
}

// RecordJobExecution は終了したジョブの実行回数、所要時間、ステップごとの件数を記録します。
func (m *BatchMetrics) RecordJobExecution(execution *core.JobExecution) {
	jobName := execution.JobName
	status := string(execution.Status)
	m.Increment(JobExecutions, "job.name", jobName, "status", status)

	if execution.StartTime != nil && execution.EndTime != nil {
		d := execution.EndTime.Sub(*execution.StartTime)
		m.Record(JobDuration, d, "job.name", jobName, "status", status)
		logger.Debugf("ジョブ '%s' のメトリクスを記録しました。ステータス: %s, 所要時間: %dms", jobName, status, d.Milliseconds())
	}

	for _, se := range execution.StepExecutions {
		m.Gauge(StepReadCount, float64(se.ReadCount), "job.name", jobName, "step.name", se.StepName)
		m.Gauge(StepWriteCount, float64(se.WriteCount), "job.name", jobName, "step.name", se.StepName)
		m.Gauge(StepSkipCount, float64(se.SkipCount), "job.name", jobName, "step.name", se.StepName)
	}
}

// Callbacks はジョブの開始と終了でメトリクスを記録するコールバックを返します。
func (m *BatchMetrics) Callbacks() core.Callbacks {
	return core.Callbacks{
		OnJobStart: func(ctx context.Context, execution *core.JobExecution) {
			m.RecordJobStart(execution)
		},
		OnJobEnd: func(ctx context.Context, execution *core.JobExecution) {
			m.RecordJobEnd(execution)
			m.RecordJobExecution(execution)
		},
	}
}
