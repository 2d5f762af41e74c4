// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 離乳食記録の操作種別（operationラベル）。
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// 操作結果（outcomeラベル）。
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 離乳食記録の整合処理、再集計ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordReconcile(operation, outcome string)
	RecordReconcileLatency(operation string, duration time.Duration)
	RecordAssociationFailure(stage string)
	RecordRecounts(count int)
	RecordCounterDrift(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reconcileTotal      *prometheus.CounterVec
	reconcileLatency    *prometheus.HistogramVec
	associationFailures *prometheus.CounterVec
	recounts            prometheus.Counter
	counterDrift        prometheus.Counter
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babylog_solid_feeding_reconcile_total",
			Help: "離乳食記録の作成・更新・削除の件数（結果別）",
		}, []string{"operation", "outcome"}),
		reconcileLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babylog_solid_feeding_reconcile_seconds",
			Help:    "離乳食記録の整合処理にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		associationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babylog_food_association_failures_total",
			Help: "食材ごとの処理で発生した失敗の合計数（段階別）",
		}, []string{"stage"}),
		recounts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "babylog_food_recounts_total",
			Help: "食材カウンタを再集計した合計数",
		}),
		counterDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "babylog_food_counter_drift_total",
			Help: "再集計スイープで修正された食材カウンタの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "babylog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.reconcileTotal,
		c.reconcileLatency,
		c.associationFailures,
		c.recounts,
		c.counterDrift,
		c.httpStatus,
	)

	return c
}

// RecordReconcile は整合処理の結果を記録する。
func (c *Collector) RecordReconcile(operation, outcome string) {
	c.reconcileTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordReconcileLatency は整合処理の所要時間を記録する。
func (c *Collector) RecordReconcileLatency(operation string, duration time.Duration) {
	c.reconcileLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAssociationFailure は食材単位の失敗を記録する。
func (c *Collector) RecordAssociationFailure(stage string) {
	c.associationFailures.WithLabelValues(stage).Inc()
}

// RecordRecounts は再集計した食材数を記録する。
func (c *Collector) RecordRecounts(count int) {
	c.recounts.Add(float64(count))
}

// RecordCounterDrift はスイープで修正されたカウンタ数を記録する。
func (c *Collector) RecordCounterDrift(count int) {
	c.counterDrift.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewStatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewStatusMiddleware(collector MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			collector.RecordHTTPStatus(sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordReconcile(string, string)               {}
func (NopCollector) RecordReconcileLatency(string, time.Duration) {}
func (NopCollector) RecordAssociationFailure(string)              {}
func (NopCollector) RecordRecounts(int)                           {}
func (NopCollector) RecordCounterDrift(int)                       {}
func (NopCollector) RecordHTTPStatus(int)                         {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
