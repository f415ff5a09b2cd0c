// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc はライブ接続統計の取得関数。realtime.Registry.Statsを渡す。
type StatsFunc func() (recipients, connections int)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	notificationsStored *prometheus.CounterVec
	liveDelivered       prometheus.Counter
	liveSkipped         prometheus.Counter
	transitions         *prometheus.CounterVec
	sweepProcessed      *prometheus.CounterVec
	sweepFailed         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
// statsFnが非nilの場合、ライブ接続数のゲージも登録する。
func NewCollector(reg prometheus.Registerer, statsFn StatsFunc) *Collector {
	c := &Collector{
		notificationsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furima_notifications_stored_total",
			Help: "永続化された通知の合計数（種別ごと）",
		}, []string{"type"}),
		liveDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "furima_live_delivered_total",
			Help: "ライブ配信に成功した通知の合計数",
		}),
		liveSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "furima_live_skipped_total",
			Help: "ライブ接続がなく配信をスキップした通知の合計数",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furima_transitions_total",
			Help: "適用された状態遷移の合計数（エンティティ・遷移先ごと）",
		}, []string{"entity", "to_state"}),
		sweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furima_sweep_processed_total",
			Help: "スイープで処理されたレコードの合計数",
		}, []string{"sweep"}),
		sweepFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "furima_sweep_failed_total",
			Help: "スイープで失敗したレコードの合計数",
		}, []string{"sweep"}),
	}

	reg.MustRegister(
		c.notificationsStored,
		c.liveDelivered,
		c.liveSkipped,
		c.transitions,
		c.sweepProcessed,
		c.sweepFailed,
	)

	if statsFn != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "furima_live_connections",
			Help: "現在のライブ接続数",
		}, func() float64 {
			_, connections := statsFn()
			return float64(connections)
		}))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "furima_live_recipients",
			Help: "少なくとも1つのライブ接続を持つ受信者数",
		}, func() float64 {
			recipients, _ := statsFn()
			return float64(recipients)
		}))
	}

	return c
}

// RecordNotificationStored は通知の永続化を記録する。
func (c *Collector) RecordNotificationStored(typ string) {
	c.notificationsStored.WithLabelValues(typ).Inc()
}

// RecordLiveDelivery はライブ配信の結果を記録する。
func (c *Collector) RecordLiveDelivery(delivered bool) {
	if delivered {
		c.liveDelivered.Inc()
	} else {
		c.liveSkipped.Inc()
	}
}

// RecordTransition は状態遷移の適用を記録する。
func (c *Collector) RecordTransition(entity, toState string) {
	c.transitions.WithLabelValues(entity, toState).Inc()
}

// RecordSweep はスイープ1回分の処理結果を記録する。
func (c *Collector) RecordSweep(name string, processed, failed int) {
	c.sweepProcessed.WithLabelValues(name).Add(float64(processed))
	c.sweepFailed.WithLabelValues(name).Add(float64(failed))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
