// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 同期結果ラベル
const (
	SyncResultSuccess = "success"
	SyncResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordSyncSuccess()
	RecordSyncFailure(kind string)
	RecordSyncLatency(duration time.Duration)
	RecordRecordCreated(source string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncTotal      *prometheus.CounterVec
	syncLatency    prometheus.Histogram
	recordsCreated *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_sync_total",
			Help: "Zepp同期の結果別の合計数",
		}, []string{"result", "kind"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthsync_sync_latency_seconds",
			Help:    "Zepp同期のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recordsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_records_created_total",
			Help: "登録経路別の健康記録作成数",
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.syncTotal,
		c.syncLatency,
		c.recordsCreated,
		c.httpStatus,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess() {
	c.syncTotal.WithLabelValues(SyncResultSuccess, "").Inc()
}

// RecordSyncFailure は失敗種別ごとに同期失敗を記録する。
func (c *Collector) RecordSyncFailure(kind string) {
	c.syncTotal.WithLabelValues(SyncResultFailure, kind).Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordRecordCreated は健康記録の作成を記録する。
func (c *Collector) RecordRecordCreated(source string) {
	c.recordsCreated.WithLabelValues(source).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
