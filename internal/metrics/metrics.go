package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Upstream candle metrics
	CandleUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cointop10_candle_updates_total",
			Help: "Total finalized base candles received from exchanges",
		},
		[]string{"exchange", "symbol", "timeframe"},
	)

	DerivedCandles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cointop10_derived_candles_total",
			Help: "Total derived candles folded from base candles",
		},
		[]string{"timeframe"},
	)

	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cointop10_parse_failures_total",
			Help: "Total upstream messages skipped due to parse failures",
		},
		[]string{"exchange"},
	)

	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cointop10_active_connections",
			Help: "Number of live upstream WebSocket connections",
		},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cointop10_reconnect_attempts_total",
			Help: "Total reconnect attempts per exchange",
		},
		[]string{"exchange"},
	)

	// Subscription metrics
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cointop10_active_subscriptions",
			Help: "Number of active (key, subscriber) registrations",
		},
	)

	// Delivery metrics
	DeliverySuccess = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cointop10_delivery_success_total",
			Help: "Total candles delivered to the downstream sink",
		},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cointop10_delivery_failures_total",
			Help: "Total candle deliveries rejected or unreachable",
		},
	)

	DeliverySuccessRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cointop10_delivery_success_ratio",
			Help: "Delivery success ratio (0-1)",
		},
	)

	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cointop10_delivery_latency_ms",
			Help:    "Downstream delivery latency in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

// TrackCandleUpdate increments the base candle counter
func TrackCandleUpdate(exchange, symbol, timeframe string) {
	CandleUpdates.WithLabelValues(exchange, symbol, timeframe).Inc()
}

// TrackDelivery records a delivery outcome and refreshes the success ratio
func TrackDelivery(ok bool) {
	if ok {
		DeliverySuccess.Inc()
	} else {
		DeliveryFailures.Inc()
	}
	updateDeliveryRatio()
}

// updateDeliveryRatio calculates and updates the delivery success ratio.
// Reads the counters back through dto.Metric; an approximation for
// real-time display, not a substitute for PromQL.
func updateDeliveryRatio() {
	successMetric := &dto.Metric{}
	failureMetric := &dto.Metric{}

	if DeliverySuccess.Write(successMetric) != nil || DeliveryFailures.Write(failureMetric) != nil {
		return
	}

	ok := successMetric.Counter.GetValue()
	failed := failureMetric.Counter.GetValue()

	total := ok + failed
	if total > 0 {
		DeliverySuccessRatio.Set(ok / total)
	}
}

// TrackLatency is a helper to measure and record latency
func TrackLatency(start time.Time, histogram prometheus.Observer) {
	duration := time.Since(start).Milliseconds()
	histogram.Observe(float64(duration))
}
