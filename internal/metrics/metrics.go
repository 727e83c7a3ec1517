// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/campus/internal/guard"
)

// MetricsCollector はメトリクス収集のインターフェース。
// superadminサービス、セッション解決、アクセスガード、クリーンアップジョブから利用する。
type MetricsCollector interface {
	ObserveBootstrap(outcome string)
	ObserveStatusCheck(outcome string)
	ObserveProfileLookup(outcome string, elapsed time.Duration)
	ObserveGuardDecision(route string, state guard.State)
	RecordHTTPStatus(statusCode int)
	RecordTokensPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	bootstrap      *prometheus.CounterVec
	statusCheck    *prometheus.CounterVec
	profileLookup  *prometheus.HistogramVec
	guardDecisions *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	tokensPurged   prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_superadmin_bootstrap_total",
			Help: "superadmin作成リクエストの結果別の合計数",
		}, []string{"outcome"}),
		statusCheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_superadmin_status_checks_total",
			Help: "superadmin存在確認の結果別の合計数",
		}, []string{"outcome"}),
		profileLookup: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campus_profile_lookup_seconds",
			Help:    "セッション変更時のプロフィール検索のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_guard_decisions_total",
			Help: "アクセスガードの判定結果別の合計数",
		}, []string{"route", "state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campus_refresh_tokens_purged_total",
			Help: "クリーンアップで削除されたリフレッシュトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.bootstrap,
		c.statusCheck,
		c.profileLookup,
		c.guardDecisions,
		c.httpStatus,
		c.tokensPurged,
	)

	return c
}

// ObserveBootstrap はsuperadmin作成の結果を記録する。
func (c *Collector) ObserveBootstrap(outcome string) {
	c.bootstrap.WithLabelValues(outcome).Inc()
}

// ObserveStatusCheck はsuperadmin存在確認の結果を記録する。
func (c *Collector) ObserveStatusCheck(outcome string) {
	c.statusCheck.WithLabelValues(outcome).Inc()
}

// ObserveProfileLookup はプロフィール検索の結果とレイテンシを記録する。
func (c *Collector) ObserveProfileLookup(outcome string, elapsed time.Duration) {
	c.profileLookup.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveGuardDecision はアクセスガードの判定を記録する。
func (c *Collector) ObserveGuardDecision(route string, state guard.State) {
	c.guardDecisions.WithLabelValues(route, string(state)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensPurged は削除されたリフレッシュトークン数を記録する。
func (c *Collector) RecordTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
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
