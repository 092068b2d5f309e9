// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// チャットサービスとHTTPミドルウェアから利用する。
type Collector struct {
	chatTurns        prometheus.Counter
	providerFailures prometheus.Counter
	providerLatency  prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		chatTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatman_chat_turns_total",
			Help: "処理されたチャットターンの合計数",
		}),
		providerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatman_provider_failures_total",
			Help: "補完プロバイダー呼び出し失敗の合計数",
		}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatman_provider_latency_seconds",
			Help:    "補完プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.chatTurns,
		c.providerFailures,
		c.providerLatency,
		c.httpStatus,
	)

	return c
}

// RecordTurn はチャットターンの完了を記録する。
func (c *Collector) RecordTurn() {
	c.chatTurns.Inc()
}

// RecordProviderFailure は補完プロバイダーの呼び出し失敗を記録する。
func (c *Collector) RecordProviderFailure() {
	c.providerFailures.Inc()
}

// RecordProviderLatency は補完プロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(seconds float64) {
	c.providerLatency.Observe(seconds)
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
