// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアントやベストエフォートタスクから利用する。
type MetricsCollector interface {
	RecordAPIResponse(statusCode int)
	RecordAPIFailure(kind string)
	RecordAPILatency(duration time.Duration)
	RecordTokenFailure()
	RecordTaskFailure(task string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiStatus     *prometheus.CounterVec
	apiFailures   *prometheus.CounterVec
	apiLatency    prometheus.Histogram
	tokenFailures prometheus.Counter
	taskFailures  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_api_responses_total",
			Help: "バックエンドAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		apiFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_api_failures_total",
			Help: "バックエンドAPI呼び出し失敗の種別ごとの合計数",
		}, []string{"kind"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobboard_api_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_token_failures_total",
			Help: "IdPからのトークン取得失敗の合計数",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_background_task_failures_total",
			Help: "ベストエフォートタスク失敗のタスク別合計数",
		}, []string{"task"}),
	}

	reg.MustRegister(
		c.apiStatus,
		c.apiFailures,
		c.apiLatency,
		c.tokenFailures,
		c.taskFailures,
	)

	return c
}

// RecordAPIResponse はHTTPステータスコードを記録する。
func (c *Collector) RecordAPIResponse(statusCode int) {
	c.apiStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAPIFailure は呼び出し失敗を種別ごとに記録する。
func (c *Collector) RecordAPIFailure(kind string) {
	c.apiFailures.WithLabelValues(kind).Inc()
}

// RecordAPILatency はAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordAPILatency(duration time.Duration) {
	c.apiLatency.Observe(duration.Seconds())
}

// RecordTokenFailure はトークン取得失敗を記録する。
func (c *Collector) RecordTokenFailure() {
	c.tokenFailures.Inc()
}

// RecordTaskFailure はベストエフォートタスクの失敗を記録する。
func (c *Collector) RecordTaskFailure(task string) {
	c.taskFailures.WithLabelValues(task).Inc()
}

// Noop は何も記録しないMetricsCollector。メトリクス不要な経路やテストで使う。
type Noop struct{}

func (Noop) RecordAPIResponse(int)          {}
func (Noop) RecordAPIFailure(string)        {}
func (Noop) RecordAPILatency(time.Duration) {}
func (Noop) RecordTokenFailure()            {}
func (Noop) RecordTaskFailure(string)       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
