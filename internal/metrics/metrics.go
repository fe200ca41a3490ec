// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// rabbitmq.PublishMetrics、rabbitmq.ConsumeMetrics、
// usercache.UpsertMetricsの各インターフェースを満たす。
type Collector struct {
	eventsAcked    *prometheus.CounterVec
	eventsRequeued *prometheus.CounterVec
	eventsPoisoned prometheus.Counter
	cacheUpserts   prometheus.Counter
	publishTotal   *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	connectTotal   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_events_acked_total",
			Help: "ACKされたイベントの合計数（ルーティングキー別）",
		}, []string{"routing_key"}),
		eventsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_events_requeued_total",
			Help: "requeueされたイベントの合計数（ルーティングキー別）",
		}, []string{"routing_key"}),
		eventsPoisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_events_poisoned_total",
			Help: "デコード不能で破棄されたイベントの合計数",
		}),
		cacheUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_cache_upserts_total",
			Help: "ユーザーキャッシュへのUPSERTの合計数",
		}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_publish_total",
			Help: "イベント発行の合計数（イベント種別・成否別）",
		}, []string{"event_type", "success"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_broker_connect_attempts_total",
			Help: "ブローカー接続試行の合計数（成否別）",
		}, []string{"success"}),
	}

	reg.MustRegister(
		c.eventsAcked,
		c.eventsRequeued,
		c.eventsPoisoned,
		c.cacheUpserts,
		c.publishTotal,
		c.httpStatus,
		c.connectTotal,
	)

	return c
}

// RecordEventAcked はACKされたイベントを記録する。
func (c *Collector) RecordEventAcked(routingKey string) {
	c.eventsAcked.WithLabelValues(routingKey).Inc()
}

// RecordEventRequeued はrequeueされたイベントを記録する。
func (c *Collector) RecordEventRequeued(routingKey string) {
	c.eventsRequeued.WithLabelValues(routingKey).Inc()
}

// RecordEventPoisoned はデコード不能で破棄されたイベントを記録する。
func (c *Collector) RecordEventPoisoned() {
	c.eventsPoisoned.Inc()
}

// RecordCacheUpsert はユーザーキャッシュへのUPSERTを記録する。
func (c *Collector) RecordCacheUpsert() {
	c.cacheUpserts.Inc()
}

// RecordPublish はイベント発行の成否を記録する。
func (c *Collector) RecordPublish(eventType string, success bool) {
	c.publishTotal.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

// RecordConnectAttempt はブローカー接続試行の成否を記録する。
func (c *Collector) RecordConnectAttempt(success bool) {
	c.connectTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
