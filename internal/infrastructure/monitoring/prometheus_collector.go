package monitoring

import (
	"time"

	"peercall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.CallMetrics.
type PrometheusCollector struct {
	callsStartedTotal    *prometheus.CounterVec
	callsAnsweredTotal   *prometheus.CounterVec
	callsTerminatedTotal *prometheus.CounterVec
	syntheticFallbacks   *prometheus.CounterVec
	activeCalls          prometheus.Gauge
	callSetupDuration    prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_started_total",
			Help: "Total number of outgoing call attempts",
		}, []string{"call_type"}),

		callsAnsweredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_answered_total",
			Help: "Total number of answered incoming calls",
		}, []string{"call_type"}),

		callsTerminatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_terminated_total",
			Help: "Total number of terminated calls by terminal status",
		}, []string{"status"}),

		syntheticFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_synthetic_fallbacks_total",
			Help: "Total number of calls degraded to the synthetic media stream",
		}, []string{"call_type"}),

		activeCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_active_calls",
			Help: "Number of currently active calls",
		}),

		callSetupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_call_setup_duration_seconds",
			Help:    "Time from call start to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) CallStarted(callType domain.CallType) {
	p.callsStartedTotal.WithLabelValues(string(callType)).Inc()
}

func (p *PrometheusCollector) CallAnswered(callType domain.CallType) {
	p.callsAnsweredTotal.WithLabelValues(string(callType)).Inc()
}

func (p *PrometheusCollector) CallTerminated(status domain.CallStatus) {
	p.callsTerminatedTotal.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusCollector) CallSetupDuration(d time.Duration) {
	p.callSetupDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) SyntheticFallback(callType domain.CallType) {
	p.syntheticFallbacks.WithLabelValues(string(callType)).Inc()
}

func (p *PrometheusCollector) ActiveCalls(n int) {
	p.activeCalls.Set(float64(n))
}
