// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 認証ストア、APIクライアント、通知ストア、ナビゲーションガード、
// ワークスペースレジストリ、クリーンアップジョブから記録される。
type Collector struct {
	authOps          *prometheus.CounterVec
	apiCalls         *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	guardRedirects   *prometheus.CounterVec
	activeWorkspaces prometheus.Gauge
	sessionsCleaned  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnerametrics_auth_operations_total",
			Help: "認証操作の結果別の合計数",
		}, []string{"operation", "result"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnerametrics_api_requests_total",
			Help: "脆弱性APIへのリクエスト数（ステータスコード別、通信エラーは0）",
		}, []string{"endpoint", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vulnerametrics_api_latency_seconds",
			Help:    "脆弱性APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnerametrics_notifications_total",
			Help: "表示した通知の種別ごとの合計数",
		}, []string{"kind"}),
		guardRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vulnerametrics_guard_redirects_total",
			Help: "ナビゲーションガードによるリダイレクト数",
		}, []string{"target"}),
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vulnerametrics_active_workspaces",
			Help: "保持しているブラウザセッションのワークスペース数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vulnerametrics_sessions_cleaned_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.authOps,
		c.apiCalls,
		c.apiLatency,
		c.notifications,
		c.guardRedirects,
		c.activeWorkspaces,
		c.sessionsCleaned,
	)

	return c
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(operation, result string) {
	c.authOps.WithLabelValues(operation, result).Inc()
}

// RecordAPICall はAPI呼び出しのステータスとレイテンシを記録する。
func (c *Collector) RecordAPICall(endpoint string, status int, duration time.Duration) {
	c.apiCalls.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordNotification は通知の追加を記録する。
func (c *Collector) RecordNotification(kind string) {
	c.notifications.WithLabelValues(kind).Inc()
}

// RecordGuardRedirect はガードのリダイレクトを記録する。
// クエリを含めるとラベルが発散するため、パス部分のみを使う。
func (c *Collector) RecordGuardRedirect(target string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			target = target[:i]
			break
		}
	}
	c.guardRedirects.WithLabelValues(target).Inc()
}

// SetActiveWorkspaces は保持しているワークスペース数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.activeWorkspaces.Set(float64(n))
}

// RecordSessionsCleaned はクリーンアップで削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
