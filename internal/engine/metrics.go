package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка вызова
	RequestDuration *prometheus.HistogramVec

	// Traffic: перехваченные вызовы по методу и статусу
	TotalRequests *prometheus.CounterVec

	// Errors: вызовы, завершившиеся паникой обработчика
	FailuresTotal prometheus.Counter

	// Вызовы, не попавшие в историю по правилам исключения
	ExcludedTotal prometheus.Counter

	// Доставка отчетов: ok, error, disabled
	DeliveriesTotal *prometheus.CounterVec

	// Ошибки хранилища сессий: load, save
	StoreErrors *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker HTTP-шлюза (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Заполненность буфера Batcher (backpressure)
	BatchBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqtrail_request_duration_seconds",
			Help:    "Histogram of intercepted request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reqtrail_requests_total",
			Help: "Total number of intercepted requests.",
		}, []string{"method", "status"}),

		FailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reqtrail_failures_total",
			Help: "Total number of requests whose handler panicked.",
		}),

		ExcludedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reqtrail_history_excluded_total",
			Help: "Total number of requests left out of session history.",
		}),

		DeliveriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reqtrail_report_deliveries_total",
			Help: "Report deliveries to the gateway by result.",
		}, []string{"result"}),

		StoreErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "reqtrail_session_store_errors_total",
			Help: "Session store failures by operation.",
		}, []string{"op"}),

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "reqtrail_circuit_breaker_state",
			Help: "Current state of the gateway circuit breaker (0=closed, 1=open).",
		}),

		BatchBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "reqtrail_batch_buffer_utilization",
			Help: "Current number of reports waiting in the batch buffer.",
		}),
	}
}
