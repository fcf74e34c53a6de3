package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// STK push
	STKPushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_stk_push_total",
			Help: "STK push attempts by outcome",
		},
		[]string{"outcome"}, // accepted|rejected|unknown|invalid
	)
	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mpesa_gateway_seconds",
			Help:    "Latency of STK push calls including token exchange",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
	)

	// Callbacks
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_total",
			Help: "Callbacks applied, by resulting status",
		},
		[]string{"status"},
	)
	CallbacksDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_duplicate_total",
			Help: "Callbacks for references already in a terminal state",
		},
	)
	CallbacksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_rejected_total",
			Help: "Callbacks acknowledged but not applied",
		},
		[]string{"reason"}, // malformed|no_reference|token|store
	)

	StatusQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_queries_total",
			Help: "Status queries by reported status",
		},
		[]string{"status"},
	)

	SettlementPublishFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_settlement_publish_failed_total",
			Help: "Settlement events that could not be published",
		},
	)

	// Worker kuyruğu
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

// /metrics endpoint'i için handler
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		STKPushTotal,
		GatewayLatency,
		CallbacksTotal,
		CallbacksDuplicate,
		CallbacksRejected,
		StatusQueries,
		SettlementPublishFailed,
		WorkerQueueDepth,
	)
}
